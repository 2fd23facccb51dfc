package handler

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/chai2010/webp"
	"github.com/gabriel-vasile/mimetype"
)

// MaxImagePixels bounds width*height of an input image. Larger headers are
// rejected before any pixel data is allocated.
const MaxImagePixels = 4096 * 4096

type imageCodec struct {
	config func(io.Reader) (image.Config, error)
	decode func(io.Reader) (image.Image, error)
}

func codecFor(mtype *mimetype.MIME) (imageCodec, bool) {
	switch {
	case mtype.Is("image/png"):
		return imageCodec{png.DecodeConfig, png.Decode}, true
	case mtype.Is("image/jpeg"):
		return imageCodec{jpeg.DecodeConfig, jpeg.Decode}, true
	case mtype.Is("image/gif"):
		return imageCodec{gif.DecodeConfig, gif.Decode}, true
	case mtype.Is("image/webp"):
		return imageCodec{webp.DecodeConfig, webp.Decode}, true
	}
	return imageCodec{}, false
}

// decodeImage sniffs the image format from content and returns the image
// as an opaque RGBA image along with its MIME type.
func decodeImage(data []byte) (image.Image, string, error) {
	mtype := mimetype.Detect(data)
	codec, ok := codecFor(mtype)
	if !ok {
		return nil, mtype.String(), fmt.Errorf("%w: %s", ErrUnsupportedImage, mtype.String())
	}

	cfg, err := codec.config(bytes.NewReader(data))
	if err != nil {
		return nil, mtype.String(), fmt.Errorf("decode %s header: %w", mtype.String(), err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return nil, mtype.String(), fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	img, err := codec.decode(bytes.NewReader(data))
	if err != nil {
		return nil, mtype.String(), fmt.Errorf("decode %s: %w", mtype.String(), err)
	}

	return toRGB(img), mtype.String(), nil
}

// toRGB drops the alpha channel, keeping the straight color values.
func toRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			dst.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst
}
