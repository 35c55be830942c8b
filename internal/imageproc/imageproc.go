// Package imageproc 负责上传图像的解码、缩放和二值化，
// 目的是在交给识别引擎之前把内存占用控制在可预期的范围内。
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"

	// 额外注册 BMP/TIFF/WebP 解码器
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrInvalidImage 表示上传内容无法解码为图像
var ErrInvalidImage = errors.New("invalid image")

// DefaultMaxPixels 是解码前允许的最大像素数（约 50MP）
const DefaultMaxPixels = 50_000_000

// Options 控制预处理流程
type Options struct {
	MaxSide   int  // 最长边像素数，<=0 不缩放
	Grayscale bool // 转为灰度
	Binarize  bool // Otsu 二值化（隐含灰度）
}

// Decoded 是解码后的图像及其原始信息
type Decoded struct {
	Image  image.Image
	Format string
	Width  int // 原始宽度
	Height int // 原始高度
}

// Decode 解码图像数据并按 EXIF 方向旋正。
// 在真正解码之前先读取图像头，超过 maxPixels 的图像直接拒绝。
func Decode(data []byte, maxPixels int) (*Decoded, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidImage)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}
	if maxPixels > 0 && cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	return &Decoded{
		Image:  img,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// Downscale 将图像等比缩放到 maxSide×maxSide 以内。
// 已在范围内的图像原样返回。
func Downscale(img image.Image, maxSide int) image.Image {
	if maxSide <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= maxSide && b.Dy() <= maxSide {
		return img
	}
	return imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
}

// Prepare 按选项依次执行缩放、灰度化和二值化
func Prepare(img image.Image, opts Options) image.Image {
	out := Downscale(img, opts.MaxSide)

	if opts.Binarize {
		binary := AdaptiveThreshold(RGB2Gray(out))
		// 深色背景上的浅色文字反转为白底黑字
		if MeanLuma(binary) < 128 {
			binary = InvertImage(binary)
		}
		return binary
	}
	if opts.Grayscale {
		return imaging.Grayscale(out)
	}
	return out
}

// EncodePNG 将图像编码为 PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteTempPNG 将图像写入临时 PNG 文件，返回路径和清理函数
func WriteTempPNG(img image.Image, dir string) (string, func(), error) {
	tmpfile, err := os.CreateTemp(dir, "ocr-*.png")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() { os.Remove(tmpfile.Name()) }

	if err := imaging.Encode(tmpfile, img, imaging.PNG); err != nil {
		tmpfile.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to encode image: %w", err)
	}
	if err := tmpfile.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	return tmpfile.Name(), cleanup, nil
}
