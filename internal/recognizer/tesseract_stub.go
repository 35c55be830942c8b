//go:build !ocr
// +build !ocr

package recognizer

import (
	"context"

	"github.com/PhiFever/devanagari-ocr-server/internal/config"
)

// OCRAvailable 指示是否编译了 Tesseract 支持
const OCRAvailable = false

// newTesseractFactory 是 Tesseract 不可用时的存根，加载时返回 ErrNotCompiled
func newTesseractFactory(cfg *config.Config) (Factory, error) {
	return func(ctx context.Context) (Backend, error) {
		return nil, ErrNotCompiled
	}, nil
}
