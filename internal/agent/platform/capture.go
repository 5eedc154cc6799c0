package platform

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/kbinani/screenshot"
)

// captureDisplays — общая для всех платформ съёмка экранов.
func captureDisplays() ([]Frame, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return nil, fmt.Errorf("no active displays")
	}

	frames := make([]Frame, 0, n)
	for i := 0; i < n; i++ {
		bounds := screenshot.GetDisplayBounds(i)
		img, err := screenshot.CaptureRect(bounds)
		if err != nil {
			// Один недоступный дисплей не отменяет остальные
			continue
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode display %d: %w", i, err)
		}
		frames = append(frames, Frame{Display: i, PNG: buf.Bytes()})
	}

	if len(frames) == 0 {
		return nil, fmt.Errorf("all display captures failed")
	}
	return frames, nil
}
