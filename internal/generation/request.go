// Package generation holds the request and result types of an
// image/text-to-video job and the base64 encoding that carries them
// through the job queue.
package generation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
)

// Defaults and limits applied to generation parameters.
const (
	DefaultNumFrames = 24
	DefaultFPS       = 24
	MaxNumFrames     = 241
	MaxFPS           = 60
)

// Static errors for request construction.
var (
	// ErrImageRequired is returned when a request carries no image bytes.
	ErrImageRequired = errors.New("generation: image is required")
	// ErrInvalidNumFrames is returned when the frame count is out of range.
	ErrInvalidNumFrames = errors.New("generation: num_frames out of range")
	// ErrInvalidFPS is returned when the frame rate is out of range.
	ErrInvalidFPS = errors.New("generation: fps out of range")
)

// Input is the wire form of a generation request, as placed under the
// "input" key of a job submission.
type Input struct {
	Image     string `json:"image" validate:"required,base64"`
	Prompt    string `json:"prompt"`
	NumFrames int    `json:"num_frames,omitempty" validate:"omitempty,min=1,max=241"`
	FPS       int    `json:"fps,omitempty" validate:"omitempty,min=1,max=60"`
}

// Request is an immutable generation request.
type Request struct {
	image     []byte
	prompt    string
	numFrames int
	fps       int
}

// NewRequest builds a Request. Zero numFrames or fps select the defaults.
func NewRequest(image []byte, prompt string, numFrames, fps int) (Request, error) {
	if len(image) == 0 {
		return Request{}, ErrImageRequired
	}
	if numFrames == 0 {
		numFrames = DefaultNumFrames
	}
	if fps == 0 {
		fps = DefaultFPS
	}
	if numFrames < 1 || numFrames > MaxNumFrames {
		return Request{}, fmt.Errorf("%w: %d", ErrInvalidNumFrames, numFrames)
	}
	if fps < 1 || fps > MaxFPS {
		return Request{}, fmt.Errorf("%w: %d", ErrInvalidFPS, fps)
	}

	img := make([]byte, len(image))
	copy(img, image)

	return Request{
		image:     img,
		prompt:    prompt,
		numFrames: numFrames,
		fps:       fps,
	}, nil
}

// NewRequestFromFile reads the image at path and builds a Request.
func NewRequestFromFile(path, prompt string, numFrames, fps int) (Request, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is provided by the operator
	if err != nil {
		return Request{}, fmt.Errorf("generation: read image: %w", err)
	}
	return NewRequest(data, prompt, numFrames, fps)
}

// NewRequestFromInput decodes a wire Input into a Request.
func NewRequestFromInput(in Input) (Request, error) {
	if in.Image == "" {
		return Request{}, ErrImageRequired
	}
	data, err := base64.StdEncoding.DecodeString(in.Image)
	if err != nil {
		return Request{}, fmt.Errorf("generation: decode image: %w", err)
	}
	return NewRequest(data, in.Prompt, in.NumFrames, in.FPS)
}

// Image returns a copy of the image bytes.
func (r Request) Image() []byte {
	out := make([]byte, len(r.image))
	copy(out, r.image)
	return out
}

// Prompt returns the text prompt, possibly empty.
func (r Request) Prompt() string { return r.prompt }

// NumFrames returns the requested frame count.
func (r Request) NumFrames() int { return r.numFrames }

// FPS returns the requested frame rate.
func (r Request) FPS() int { return r.fps }

// Input returns the wire form of the request with the image base64-encoded.
func (r Request) Input() Input {
	return Input{
		Image:     base64.StdEncoding.EncodeToString(r.image),
		Prompt:    r.prompt,
		NumFrames: r.numFrames,
		FPS:       r.fps,
	}
}
