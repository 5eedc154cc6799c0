package protocol

import (
	"encoding/json"
	"fmt"
)

// Имена событий по проводу. Каждое сообщение в обе стороны —
// JSON-объект {event, data}.
const (
	// Inbound (агент → сервер).
	EventActivityUpdate = "activity_update"
	EventScreenshot     = "screenshot"
	EventAlert          = "alert"
	EventAgentStatus    = "agent_status"
	EventAgentConnected = "agent_connected"

	// Outbound (сервер → наблюдатели).
	EventNewActivity       = "new_activity"
	EventNewScreenshot     = "new_screenshot"
	EventNewAlert          = "new_alert"
	EventAgentStatusUpdate = "agent_status_update"

	// Outbound (сервер → агент).
	EventRestrictedAppsUpdate = "restricted_apps_update"
	EventConfigUpdate         = "config_update"
)

// Envelope — единый конверт протокола.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode разбирает сырой кадр в конверт. Кадр без имени события
// считается невалидным.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("envelope missing event name")
	}
	return &env, nil
}

// Encode сериализует конверт один раз; результат пригоден для записи
// во все соединения бакета.
func Encode(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return payload, nil
}
