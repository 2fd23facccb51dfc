// Package inference defines the image/text-to-video pipeline port and its
// HTTP adapter for a model server hosting the pretrained weights.
package inference

import (
	"context"
	"image"
)

// DefaultModelID is the pretrained model served unless configured otherwise.
const DefaultModelID = "Wan-AI/Wan2.2-TI2V-5B"

// Params are the generation parameters passed alongside the input image.
type Params struct {
	Prompt    string
	NumFrames int
}

// Pipeline generates video frames from a conditioning image and prompt.
// A Pipeline is constructed once at process start and shared by requests;
// implementations must be safe for concurrent use.
type Pipeline interface {
	Generate(ctx context.Context, img image.Image, params Params) ([]image.Image, error)
}

// PipelineFunc adapts an ordinary function to the Pipeline interface.
type PipelineFunc func(ctx context.Context, img image.Image, params Params) ([]image.Image, error)

// Generate calls f(ctx, img, params).
func (f PipelineFunc) Generate(ctx context.Context, img image.Image, params Params) ([]image.Image, error) {
	return f(ctx, img, params)
}
