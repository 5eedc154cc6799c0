//go:build darwin

package platform

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/activtrack/telemetry/internal/domain"
)

type darwinCaps struct{}

// New возвращает реализацию возможностей для macOS.
func New() Capabilities { return &darwinCaps{} }

func (d *darwinCaps) Name() string { return domain.PlatformMacOS }

func (d *darwinCaps) SampleForeground() (Sample, error) {
	appScript := `tell application "System Events" to get name of (first application process whose frontmost is true)`
	app, err := osascript(appScript)
	if err != nil {
		return Sample{}, fmt.Errorf("frontmost app: %w", err)
	}

	titleScript := `tell application "System Events" to get name of window 1 of (first application process whose frontmost is true)`
	title, _ := osascript(titleScript) // окна без заголовка — не ошибка

	return Sample{
		Application: app,
		Title:       title,
		IdleSeconds: d.idleSeconds(),
	}, nil
}

func (d *darwinCaps) idleSeconds() int {
	// HIDIdleTime приезжает в наносекундах
	out, err := exec.Command("sh", "-c",
		`ioreg -c IOHIDSystem | awk '/HIDIdleTime/ {print $NF; exit}'`).Output()
	if err != nil {
		return 0
	}
	ns, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0
	}
	return int(ns / 1e9)
}

func (d *darwinCaps) CaptureDisplays() ([]Frame, error) {
	return captureDisplays()
}

func (d *darwinCaps) ShowNotification(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	_, err := osascript(script)
	return err
}

func (d *darwinCaps) TerminateProcess(name string) error {
	// Сначала вежливый quit через AppleScript, затем жёсткий pkill
	script := fmt.Sprintf(`tell application %q to quit`, strings.TrimSuffix(name, ".app"))
	if _, err := osascript(script); err == nil {
		return nil
	}
	if err := exec.Command("pkill", "-f", name).Run(); err != nil {
		return fmt.Errorf("pkill %s: %w", name, err)
	}
	return nil
}

func (d *darwinCaps) ReadResourceUsage() (Usage, error) {
	var usage Usage
	var stat syscall.Statfs_t
	if err := syscall.Statfs("/", &stat); err == nil && stat.Blocks > 0 {
		usage.DiskFreePercent = float64(stat.Bavail) / float64(stat.Blocks) * 100
	}
	return usage, nil
}

func osascript(script string) (string, error) {
	cmd := exec.Command("osascript", "-e", script)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}
