package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/activtrack/telemetry/internal/domain"
)

// Валидация входящих полезных нагрузок: обязательные поля на месте,
// примитивные типы корректны. Невалидный payload отбрасывается на
// границе роутера — без сохранения, без broadcast, без ответа пиру.

// DecodeActivity разбирает и проверяет payload события activity_update.
func DecodeActivity(data json.RawMessage) (*domain.ActivityRecord, error) {
	var rec domain.ActivityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("activity payload: %w", err)
	}
	if rec.UserID <= 0 {
		return nil, fmt.Errorf("activity payload: userId is required")
	}
	if rec.Application == "" {
		return nil, fmt.Errorf("activity payload: application is required")
	}
	if rec.StartTime.IsZero() || rec.EndTime.IsZero() {
		return nil, fmt.Errorf("activity payload: startTime and endTime are required")
	}
	if rec.EndTime.Before(rec.StartTime) {
		return nil, fmt.Errorf("activity payload: endTime precedes startTime")
	}
	if rec.Category == "" {
		rec.Category = domain.CategoryUncategorized
	}
	// duration — производное поле; пересчитываем, чтобы инвариант
	// duration = endTime − startTime держался независимо от клиента
	rec.ComputeDuration()
	return &rec, nil
}

// DecodeScreenshot разбирает и проверяет payload события screenshot.
func DecodeScreenshot(data json.RawMessage) (*domain.Screenshot, error) {
	var shot domain.Screenshot
	if err := json.Unmarshal(data, &shot); err != nil {
		return nil, fmt.Errorf("screenshot payload: %w", err)
	}
	if shot.UserID <= 0 {
		return nil, fmt.Errorf("screenshot payload: userId is required")
	}
	if shot.Timestamp.IsZero() {
		return nil, fmt.Errorf("screenshot payload: timestamp is required")
	}
	if shot.ImageData == "" {
		return nil, fmt.Errorf("screenshot payload: imageData is required")
	}
	return &shot, nil
}

// DecodeAlert разбирает и проверяет payload события alert.
func DecodeAlert(data json.RawMessage) (*domain.AlertNotification, error) {
	var alert domain.AlertNotification
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, fmt.Errorf("alert payload: %w", err)
	}
	if alert.UserID <= 0 {
		return nil, fmt.Errorf("alert payload: userId is required")
	}
	if alert.Application == "" {
		return nil, fmt.Errorf("alert payload: application is required")
	}
	if alert.Timestamp.IsZero() {
		return nil, fmt.Errorf("alert payload: timestamp is required")
	}
	switch alert.ActionTaken {
	case domain.ActionNotified, domain.ActionClosed, domain.ActionBlocked:
	default:
		return nil, fmt.Errorf("alert payload: unknown actionTaken %q", alert.ActionTaken)
	}
	return &alert, nil
}

// DecodeStatus разбирает и проверяет payload события agent_status.
func DecodeStatus(data json.RawMessage) (*domain.AgentStatus, error) {
	var st domain.AgentStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("status payload: %w", err)
	}
	if st.UserID <= 0 {
		return nil, fmt.Errorf("status payload: userId is required")
	}
	if st.Timestamp.IsZero() {
		return nil, fmt.Errorf("status payload: timestamp is required")
	}
	switch st.Platform {
	case domain.PlatformWindows, domain.PlatformMacOS:
	default:
		return nil, fmt.Errorf("status payload: unknown platform %q", st.Platform)
	}
	return &st, nil
}
