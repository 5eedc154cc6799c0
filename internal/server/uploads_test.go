package server

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestDiskBlobStoreSaveScreenshot(t *testing.T) {
	store, err := NewDiskBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskBlobStore: %v", err)
	}

	takenAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	path, err := store.SaveScreenshot(5, takenAt, 1, []byte("png-bytes"))
	if err != nil {
		t.Fatalf("SaveScreenshot: %v", err)
	}

	if !strings.Contains(path, "user_5") {
		t.Errorf("path %q lacks per-user directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("stored bytes mismatch")
	}

	// Два дисплея одного момента не затирают друг друга
	other, err := store.SaveScreenshot(5, takenAt, 2, []byte("png-bytes-2"))
	if err != nil {
		t.Fatalf("SaveScreenshot display 2: %v", err)
	}
	if other == path {
		t.Error("paths collide across displays")
	}
}
