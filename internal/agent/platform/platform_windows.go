//go:build windows

package platform

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"syscall"
	"unsafe"

	"github.com/activtrack/telemetry/internal/domain"
)

var (
	user32   = syscall.NewLazyDLL("user32.dll")
	kernel32 = syscall.NewLazyDLL("kernel32.dll")

	procGetForegroundWindow        = user32.NewProc("GetForegroundWindow")
	procGetWindowTextW             = user32.NewProc("GetWindowTextW")
	procGetWindowTextLengthW       = user32.NewProc("GetWindowTextLengthW")
	procGetWindowThreadProcessId   = user32.NewProc("GetWindowThreadProcessId")
	procGetLastInputInfo           = user32.NewProc("GetLastInputInfo")
	procGetTickCount               = kernel32.NewProc("GetTickCount")
	procOpenProcess                = kernel32.NewProc("OpenProcess")
	procCloseHandle                = kernel32.NewProc("CloseHandle")
	procQueryFullProcessImageName  = kernel32.NewProc("QueryFullProcessImageNameW")
)

const processQueryLimitedInformation = 0x1000

type windowsCaps struct{}

// New возвращает реализацию возможностей для Windows.
func New() Capabilities { return &windowsCaps{} }

func (w *windowsCaps) Name() string { return domain.PlatformWindows }

func (w *windowsCaps) SampleForeground() (Sample, error) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return Sample{}, fmt.Errorf("no foreground window")
	}

	var sample Sample
	sample.Title = windowTitle(hwnd)
	sample.Application = processImageName(hwnd)
	sample.IdleSeconds = idleSeconds()
	return sample, nil
}

func windowTitle(hwnd uintptr) string {
	length, _, _ := procGetWindowTextLengthW.Call(hwnd)
	if length == 0 {
		return ""
	}
	buf := make([]uint16, length+1)
	procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), length+1)
	return syscall.UTF16ToString(buf)
}

func processImageName(hwnd uintptr) string {
	var pid uint32
	procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	if pid == 0 {
		return ""
	}

	handle, _, _ := procOpenProcess.Call(processQueryLimitedInformation, 0, uintptr(pid))
	if handle == 0 {
		return ""
	}
	defer procCloseHandle.Call(handle)

	buf := make([]uint16, syscall.MAX_PATH)
	size := uint32(len(buf))
	ret, _, _ := procQueryFullProcessImageName.Call(handle, 0,
		uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&size)))
	if ret == 0 {
		return ""
	}
	return filepath.Base(syscall.UTF16ToString(buf[:size]))
}

type lastInputInfo struct {
	cbSize uint32
	dwTime uint32
}

func idleSeconds() int {
	info := lastInputInfo{cbSize: uint32(unsafe.Sizeof(lastInputInfo{}))}
	ret, _, _ := procGetLastInputInfo.Call(uintptr(unsafe.Pointer(&info)))
	if ret == 0 {
		return 0
	}
	ticks, _, _ := procGetTickCount.Call()
	return int((uint32(ticks) - info.dwTime) / 1000)
}

func (w *windowsCaps) CaptureDisplays() ([]Frame, error) {
	return captureDisplays()
}

func (w *windowsCaps) ShowNotification(title, message string) error {
	// msgbox через PowerShell: без сторонних зависимостей и инсталляций
	script := fmt.Sprintf(
		`[System.Reflection.Assembly]::LoadWithPartialName('System.Windows.Forms') | Out-Null; `+
			`[System.Windows.Forms.MessageBox]::Show('%s', '%s') | Out-Null`,
		message, title)
	return exec.Command("powershell", "-NoProfile", "-Command", script).Start()
}

func (w *windowsCaps) TerminateProcess(name string) error {
	if err := exec.Command("taskkill", "/F", "/IM", name).Run(); err != nil {
		return fmt.Errorf("taskkill %s: %w", name, err)
	}
	return nil
}

func (w *windowsCaps) ReadResourceUsage() (Usage, error) {
	// Точные счётчики ресурсов на Windows требуют PDH; для heartbeat
	// достаточно свободного места на системном диске
	var free, total, avail uint64
	getDiskFreeSpaceEx := kernel32.NewProc("GetDiskFreeSpaceExW")
	root, _ := syscall.UTF16PtrFromString(`C:\`)
	ret, _, _ := getDiskFreeSpaceEx.Call(
		uintptr(unsafe.Pointer(root)),
		uintptr(unsafe.Pointer(&avail)),
		uintptr(unsafe.Pointer(&total)),
		uintptr(unsafe.Pointer(&free)))
	usage := Usage{}
	if ret != 0 && total > 0 {
		usage.DiskFreePercent = float64(avail) / float64(total) * 100
	}
	return usage, nil
}
