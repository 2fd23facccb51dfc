package handler

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a handler failure.
type ErrorKind string

// Handler failure kinds, reported as "error_kind" in the response.
const (
	KindValidation ErrorKind = "validation"
	KindDecode     ErrorKind = "decode"
	KindInference  ErrorKind = "inference"
	KindEncode     ErrorKind = "encode"
)

// Static errors for handler operations.
var (
	// ErrPipelineRequired is returned when a Handler is built without a pipeline.
	ErrPipelineRequired = errors.New("handler: pipeline is required")
	// ErrEncoderRequired is returned when a Handler is built without an encoder.
	ErrEncoderRequired = errors.New("handler: encoder is required")
	// ErrUnsupportedImage is returned for inputs that are not PNG, JPEG, GIF or WebP.
	ErrUnsupportedImage = errors.New("unsupported image type")
	// ErrImageTooLarge is returned when the image dimensions exceed MaxImagePixels.
	ErrImageTooLarge = errors.New("image too large")
	// ErrPipelinePanic is returned when the pipeline panics during generation.
	ErrPipelinePanic = errors.New("pipeline panicked")
	// ErrNoFrames is returned when the pipeline produces no frames.
	ErrNoFrames = errors.New("pipeline returned no frames")
)

// Error is a handler failure tagged with the stage that produced it.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of a handler error. Untagged errors are
// attributed to inference, the only stage calling out of process.
func KindOf(err error) ErrorKind {
	var herr *Error
	if errors.As(err, &herr) {
		return herr.Kind
	}
	return KindInference
}
