package domain

import "time"

// Screenshot — кадр экрана, снятый агентом. По проводу изображение
// едет base64-строкой в imageData; сервер складывает байты на диск
// и сохраняет в базе только путь (filePath).
type Screenshot struct {
	ID        int64     `json:"id,omitempty"`
	UserID    int64     `json:"userId"`
	TeamID    int64     `json:"teamId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Display   int       `json:"display"`
	ImageData string    `json:"imageData,omitempty"` // base64 PNG, только inbound
	FilePath  string    `json:"filePath,omitempty"`  // заполняет сервер
}
