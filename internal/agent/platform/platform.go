package platform

// Capabilities — всё, что агент просит у операционной системы.
// Единственная точка платформо-зависимости: движок сегментации и
// политика работают поверх этого интерфейса и не знают про ОС.
type Capabilities interface {
	// SampleForeground возвращает текущее переднее приложение,
	// заголовок окна и время простоя ввода в секундах.
	SampleForeground() (Sample, error)

	// CaptureDisplays снимает PNG-кадр каждого активного дисплея.
	CaptureDisplays() ([]Frame, error)

	// ShowNotification показывает пользователю системное уведомление.
	ShowNotification(title, message string) error

	// TerminateProcess завершает процессы с указанным именем.
	TerminateProcess(name string) error

	// ReadResourceUsage возвращает загрузку ресурсов машины.
	ReadResourceUsage() (Usage, error)

	// Name — идентификатор платформы: windows | macos.
	Name() string
}

// Sample — один замер окружения.
type Sample struct {
	Application string
	Title       string
	IdleSeconds int
}

// Frame — снятый кадр одного дисплея.
type Frame struct {
	Display int
	PNG     []byte
}

// Usage — показатели ресурсов для heartbeat-статуса, в процентах.
type Usage struct {
	CPUPercent      float64
	MemoryPercent   float64
	DiskFreePercent float64
}
