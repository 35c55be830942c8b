package imageproc

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodePNGAndJPEG(t *testing.T) {
	src := solidImage(40, 20, color.White)

	d, err := Decode(encodePNG(t, src), DefaultMaxPixels)
	require.NoError(t, err)
	assert.Equal(t, "png", d.Format)
	assert.Equal(t, 40, d.Width)
	assert.Equal(t, 20, d.Height)
	assert.Equal(t, 40, d.Image.Bounds().Dx())

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, nil))
	d, err = Decode(buf.Bytes(), DefaultMaxPixels)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", d.Format)
}

func TestDecodeRejectsInvalidInput(t *testing.T) {
	_, err := Decode(nil, DefaultMaxPixels)
	assert.True(t, errors.Is(err, ErrInvalidImage))

	_, err = Decode([]byte("definitely not an image"), DefaultMaxPixels)
	assert.True(t, errors.Is(err, ErrInvalidImage))
}

func TestDecodeRejectsOversizedImage(t *testing.T) {
	data := encodePNG(t, solidImage(100, 100, color.White))

	_, err := Decode(data, 5000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidImage))

	_, err = Decode(data, 0)
	assert.NoError(t, err, "maxPixels <= 0 disables the limit")
}

func TestDownscale(t *testing.T) {
	big := solidImage(400, 200, color.White)

	out := Downscale(big, 100)
	assert.Equal(t, 100, out.Bounds().Dx())
	assert.Equal(t, 50, out.Bounds().Dy())

	tall := solidImage(120, 600, color.White)
	out = Downscale(tall, 300)
	assert.Equal(t, 60, out.Bounds().Dx())
	assert.Equal(t, 300, out.Bounds().Dy())
}

func TestDownscaleKeepsSmallImages(t *testing.T) {
	small := solidImage(80, 60, color.White)
	assert.Same(t, small, Downscale(small, 100).(*image.RGBA))
	assert.Same(t, small, Downscale(small, 0).(*image.RGBA))
}

func TestOtsuThresholdTwoLevels(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			v := uint8(50)
			if x >= 5 {
				v = 200
			}
			gray.SetGray(x, y, color.Gray{Y: v})
		}
	}

	th := OtsuThreshold(gray)
	assert.GreaterOrEqual(t, th, uint8(50))
	assert.Less(t, th, uint8(200))

	bin := AdaptiveThreshold(gray)
	assert.Equal(t, uint8(0), bin.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), bin.GrayAt(9, 9).Y)
}

func TestPrepareBinarizeInvertsDarkBackground(t *testing.T) {
	img := solidImage(20, 20, color.Gray{Y: 20})
	for y := 8; y < 12; y++ {
		for x := 8; x < 12; x++ {
			img.Set(x, y, color.Gray{Y: 240})
		}
	}

	out := Prepare(img, Options{Binarize: true})
	gray, ok := out.(*image.Gray)
	require.True(t, ok, "binarized output should be *image.Gray")
	assert.Equal(t, uint8(255), gray.GrayAt(0, 0).Y, "background should become white")
	assert.Equal(t, uint8(0), gray.GrayAt(10, 10).Y, "text should become black")
}

func TestPrepareGrayscaleAndDownscale(t *testing.T) {
	img := solidImage(300, 150, color.RGBA{R: 200, G: 10, B: 10, A: 255})

	out := Prepare(img, Options{MaxSide: 150, Grayscale: true})
	assert.Equal(t, 150, out.Bounds().Dx())
	r, g, b, _ := out.At(5, 5).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
}

func TestWriteTempPNG(t *testing.T) {
	dir := t.TempDir()
	path, cleanup, err := WriteTempPNG(solidImage(10, 10, color.Black), dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	d, err := Decode(data, DefaultMaxPixels)
	require.NoError(t, err)
	assert.Equal(t, "png", d.Format)

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestEncodePNG(t *testing.T) {
	data, err := EncodePNG(solidImage(4, 4, color.White))
	require.NoError(t, err)
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}
