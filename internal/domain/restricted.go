package domain

import "strings"

// RestrictedApp — правило политики запрещённых приложений.
// Правила создаёт администрация команды/организации; агент
// потребляет список строго read-only.
type RestrictedApp struct {
	ID                    int64    `json:"id,omitempty"`
	Name                  string   `json:"name"`
	Platform              string   `json:"platform"` // windows | macos | both
	AlertThresholdMinutes int      `json:"alertThresholdMinutes"`
	CloseAfterAlert       bool     `json:"closeAfterAlert"`
	AlertMessage          string   `json:"alertMessage,omitempty"`
	ProcessNames          []string `json:"processNames"`
}

// Matches сообщает, накрывает ли правило приложение appName на платформе
// platform. Платформа должна совпасть ("both" накрывает обе); имя
// сравнивается точно, имена процессов — как регистронезависимые
// подстроки appName.
func (r *RestrictedApp) Matches(appName, platform string) bool {
	if r.Platform != PlatformBoth && r.Platform != platform {
		return false
	}
	if r.Name == appName {
		return true
	}
	lowered := strings.ToLower(appName)
	for _, proc := range r.ProcessNames {
		if proc == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(proc)) {
			return true
		}
	}
	return false
}
