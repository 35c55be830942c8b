//go:build ocr
// +build ocr

package recognizer

import (
	"context"
	"fmt"
	"image"

	"github.com/otiai10/gosseract/v2"

	"github.com/PhiFever/devanagari-ocr-server/internal/config"
	"github.com/PhiFever/devanagari-ocr-server/internal/imageproc"
	"github.com/PhiFever/devanagari-ocr-server/internal/logger"
)

// OCRAvailable 指示是否编译了 Tesseract 支持
const OCRAvailable = true

type tesseractBackend struct {
	client   *gosseract.Client
	language string
	tempDir  string
}

func newTesseractFactory(cfg *config.Config) (Factory, error) {
	langs := splitLanguages(cfg.OCR.Language)
	if len(langs) == 0 {
		return nil, fmt.Errorf("no tesseract language configured")
	}
	tcfg := cfg.OCR.Tesseract
	tempDir := cfg.Server.TempDir

	return func(ctx context.Context) (Backend, error) {
		client := gosseract.NewClient()

		if tcfg.TessdataPrefix != "" {
			if err := client.SetTessdataPrefix(tcfg.TessdataPrefix); err != nil {
				client.Close()
				return nil, fmt.Errorf("set tessdata prefix: %w", err)
			}
		}
		if err := client.SetLanguage(langs...); err != nil {
			client.Close()
			return nil, fmt.Errorf("set languages: %w", err)
		}
		if err := client.SetPageSegMode(gosseract.PageSegMode(tcfg.PageSegMode)); err != nil {
			client.Close()
			return nil, fmt.Errorf("set page segmentation mode: %w", err)
		}

		// gosseract 在第一次识别时才加载 traineddata，这里用一张空白图强制加载，
		// 语言包缺失会在此处报错而不是在用户请求中。
		if err := probe(client); err != nil {
			client.Close()
			return nil, fmt.Errorf("load traineddata %v: %w", langs, err)
		}

		logger.Infof("[tesseract] Languages: %v, PSM: %d", langs, tcfg.PageSegMode)
		return &tesseractBackend{
			client:   client,
			language: cfg.OCR.Language,
			tempDir:  tempDir,
		}, nil
	}, nil
}

func probe(client *gosseract.Client) error {
	blank := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range blank.Pix {
		blank.Pix[i] = 0xff
	}
	data, err := imageproc.EncodePNG(blank)
	if err != nil {
		return err
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return err
	}
	_, err = client.Text()
	return err
}

// Recognize 将图像写入临时 PNG 文件后交给 Tesseract
func (b *tesseractBackend) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, cleanup, err := imageproc.WriteTempPNG(img, b.tempDir)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := b.client.SetImage(path); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	lineBoxes, err := b.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}
	wordBoxes, err := b.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}

	lines := make([]image.Rectangle, 0, len(lineBoxes))
	for _, lb := range lineBoxes {
		lines = append(lines, lb.Box)
	}
	words := make([]Word, 0, len(wordBoxes))
	for _, wb := range wordBoxes {
		words = append(words, Word{
			Text:       wb.Word,
			Confidence: wb.Confidence / 100.0,
			Box:        wb.Box,
		})
	}

	logger.Debugf("[tesseract] %d lines, %d words", len(lines), len(words))
	return NewResult(groupWordsIntoLines(lines, words), b.language), nil
}

func (b *tesseractBackend) Close() error {
	return b.client.Close()
}
