package recognizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhiFever/devanagari-ocr-server/internal/config"
)

func TestDefaultRegistryNames(t *testing.T) {
	names := DefaultRegistry().Names()
	assert.Equal(t, []string{config.EngineDocumentAI, config.EnginePaddle, config.EngineTesseract}, names)
}

func TestBuildUnknownEngine(t *testing.T) {
	cfg := config.Default()
	cfg.OCR.Engine = "easyocr"

	_, err := DefaultRegistry().Build(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownEngine))
}

func TestBuildDoesNotLoad(t *testing.T) {
	var loads int
	r := NewRegistry()
	r.Register("fake", true, func(cfg *config.Config) (Factory, error) {
		return func(ctx context.Context) (Backend, error) {
			loads++
			return &fakeBackend{}, nil
		}, nil
	})

	cfg := config.Default()
	cfg.OCR.Engine = "fake"
	engine, err := r.Build(cfg)
	require.NoError(t, err)

	assert.Equal(t, "fake", engine.Name())
	assert.False(t, engine.Loaded())
	assert.Equal(t, 0, loads)
}

func TestBuildDocumentAIRequiresProcessor(t *testing.T) {
	cfg := config.Default()
	cfg.OCR.Engine = config.EngineDocumentAI

	_, err := DefaultRegistry().Build(cfg)
	assert.Error(t, err)
}

func TestTesseractStubReportsNotCompiled(t *testing.T) {
	if OCRAvailable {
		t.Skip("built with -tags=ocr")
	}

	engine, err := DefaultRegistry().Build(config.Default())
	require.NoError(t, err)

	_, err = engine.Recognize(context.Background(), testImage())
	assert.True(t, errors.Is(err, ErrNotCompiled))
	assert.False(t, engine.Loaded())
}
