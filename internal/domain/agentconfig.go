package domain

// AgentConfig — рабочие настройки агента, которые он тянет с сервера
// при старте и по требованию. При недоступности сервера агент живёт
// на безопасных дефолтах, а не гаснет.
type AgentConfig struct {
	TrackingEnabled       bool `json:"trackingEnabled"`
	ScreenshotsEnabled    bool `json:"screenshotsEnabled"`
	SampleIntervalSeconds int  `json:"sampleIntervalSeconds"`
	ScreenshotIntervalMin int  `json:"screenshotIntervalMin"`
	IdleThresholdSeconds  int  `json:"idleThresholdSeconds"`
}

// DefaultAgentConfig — консервативные значения на случай, когда
// конфигурация с сервера недоступна.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		TrackingEnabled:       true,
		ScreenshotsEnabled:    true,
		SampleIntervalSeconds: 10,
		ScreenshotIntervalMin: 5,
		IdleThresholdSeconds:  300,
	}
}
