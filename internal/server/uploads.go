package server

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DiskBlobStore складывает кадры скриншотов на локальный диск,
// по каталогу на пользователя. В базу уходит только путь.
type DiskBlobStore struct {
	root string
}

func NewDiskBlobStore(root string) (*DiskBlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("uploads dir: %w", err)
	}
	return &DiskBlobStore{root: root}, nil
}

// SaveScreenshot пишет PNG-байты и возвращает путь для записи в базе.
func (d *DiskBlobStore) SaveScreenshot(userID int64, takenAt time.Time, display int, data []byte) (string, error) {
	userDir := filepath.Join(d.root, fmt.Sprintf("user_%d", userID))
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return "", fmt.Errorf("user dir: %w", err)
	}

	name := fmt.Sprintf("%d_display%d.png", takenAt.UnixNano(), display)
	path := filepath.Join(userDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}
