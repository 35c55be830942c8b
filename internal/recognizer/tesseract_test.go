//go:build ocr

package recognizer

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhiFever/devanagari-ocr-server/internal/config"
)

func TestTesseractBlankImage(t *testing.T) {
	cfg := config.Default()
	cfg.Server.TempDir = t.TempDir()

	engine, err := DefaultRegistry().Build(cfg)
	require.NoError(t, err)
	defer engine.Close()

	if err := engine.Warmup(context.Background()); err != nil {
		t.Skipf("tesseract %q traineddata not installed: %v", cfg.OCR.Language, err)
	}

	blank := image.NewGray(image.Rect(0, 0, 200, 60))
	for i := range blank.Pix {
		blank.Pix[i] = 0xff
	}

	res, err := engine.Recognize(context.Background(), blank)
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Equal(t, 0.0, res.Confidence)
}
