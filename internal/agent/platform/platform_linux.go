//go:build linux

package platform

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/activtrack/telemetry/internal/domain"
)

// Linux-десктопы в парке не числятся, но сборка под Linux нужна
// для разработки и CI. Репортуемся как macos-совместимая платформа,
// чтобы правила политики с platform=both продолжали работать.
type linuxCaps struct{}

// New возвращает реализацию возможностей для Linux.
func New() Capabilities { return &linuxCaps{} }

func (l *linuxCaps) Name() string { return domain.PlatformMacOS }

func (l *linuxCaps) SampleForeground() (Sample, error) {
	title, err := command("xdotool", "getwindowfocus", "getwindowname")
	if err != nil {
		return Sample{}, fmt.Errorf("xdotool: %w", err)
	}

	app := ""
	if pidStr, err := command("xdotool", "getwindowfocus", "getwindowpid"); err == nil {
		if pid, err := strconv.Atoi(pidStr); err == nil {
			if comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid)); err == nil {
				app = strings.TrimSpace(string(comm))
			}
		}
	}

	idle := 0
	if ms, err := command("xprintidle"); err == nil {
		if v, err := strconv.Atoi(ms); err == nil {
			idle = v / 1000
		}
	}

	return Sample{Application: app, Title: title, IdleSeconds: idle}, nil
}

func (l *linuxCaps) CaptureDisplays() ([]Frame, error) {
	return captureDisplays()
}

func (l *linuxCaps) ShowNotification(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

func (l *linuxCaps) TerminateProcess(name string) error {
	if err := exec.Command("pkill", "-f", name).Run(); err != nil {
		return fmt.Errorf("pkill %s: %w", name, err)
	}
	return nil
}

func (l *linuxCaps) ReadResourceUsage() (Usage, error) {
	var usage Usage

	var stat syscall.Statfs_t
	if err := syscall.Statfs("/", &stat); err == nil && stat.Blocks > 0 {
		usage.DiskFreePercent = float64(stat.Bavail) / float64(stat.Blocks) * 100
	}

	if data, err := os.ReadFile("/proc/meminfo"); err == nil {
		total, avail := parseMeminfo(string(data))
		if total > 0 {
			usage.MemoryPercent = (1 - float64(avail)/float64(total)) * 100
		}
	}

	return usage, nil
}

func parseMeminfo(data string) (total, available int64) {
	for _, line := range strings.Split(data, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}
	return total, available
}

func command(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}
