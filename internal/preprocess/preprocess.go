// Package preprocess turns raw image bytes into the float32 tensor layout the
// clothing model was trained on.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ImageNet channel statistics, RGB order.
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// ErrTooManyPixels is returned when the image header declares more pixels than
// allowed. It is detected before any pixel data is allocated.
var ErrTooManyPixels = errors.New("image dimensions exceed limit")

// Decode parses data as any registered image format and returns the format
// name. Images with more than maxPixels pixels are rejected from their header
// alone; maxPixels <= 0 disables the check.
func Decode(data []byte, maxPixels int64) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image payload")
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("image has zero size %dx%d", cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d, limit %d pixels", ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", fmt.Errorf("image has zero size %dx%d", b.Dx(), b.Dy())
	}
	return img, format, nil
}

// Tensor resizes img to size x size and returns it as a 1x3xSxS NCHW tensor
// scaled to [0,1] and normalised with Mean and Std.
func Tensor(img image.Image, size int) []float32 {
	target := uint(size)
	resized := resize.Resize(target, target, img, resize.NearestNeighbor)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	inputData := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			pixelIndex := y*width + x
			inputData[pixelIndex] = normalize(r, 0)
			inputData[plane+pixelIndex] = normalize(g, 1)
			inputData[2*plane+pixelIndex] = normalize(b, 2)
		}
	}
	return inputData
}

// normalize maps a 16-bit colour channel to its standardised value.
func normalize(v uint32, channel int) float32 {
	f := float32(v>>8) / 255.0
	return (f - Mean[channel]) / Std[channel]
}
