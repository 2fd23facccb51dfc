package generation

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

// SolidPNG renders a width×height image filled with c and returns it as PNG.
// It is the smoke-test input used by the CLI and the handler tests.
func SolidPNG(width, height int, c color.Color) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("generation: encode test image: %w", err)
	}
	return buf.Bytes(), nil
}
