// Package handler implements the serverless inference handler: it turns a
// job event carrying a base64 image into a base64 MP4 response.
package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/wan-ti2v-api/internal/generation"
	"github.com/maauso/wan-ti2v-api/internal/inference"
	"github.com/maauso/wan-ti2v-api/internal/media"
)

// Handler runs generation requests against an injected pipeline and encoder.
// It is safe for concurrent use if the pipeline and encoder are.
type Handler struct {
	pipeline         inference.Pipeline
	encoder          media.Encoder
	validator        *validator.Validate
	logger           *slog.Logger
	tempDir          string
	defaultNumFrames int
	defaultFPS       int
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithTempDir sets the directory for the intermediate MP4 file.
func WithTempDir(dir string) Option {
	return func(h *Handler) {
		h.tempDir = dir
	}
}

// WithDefaults sets the frame count and fps used when a request omits them.
// Non-positive values are ignored.
func WithDefaults(numFrames, fps int) Option {
	return func(h *Handler) {
		if numFrames > 0 {
			h.defaultNumFrames = numFrames
		}
		if fps > 0 {
			h.defaultFPS = fps
		}
	}
}

// New creates a Handler.
func New(pipeline inference.Pipeline, encoder media.Encoder, opts ...Option) (*Handler, error) {
	if pipeline == nil {
		return nil, ErrPipelineRequired
	}
	if encoder == nil {
		return nil, ErrEncoderRequired
	}

	h := &Handler{
		pipeline:         pipeline,
		encoder:          encoder,
		validator:        validator.New(),
		logger:           slog.Default(),
		defaultNumFrames: generation.DefaultNumFrames,
		defaultFPS:       generation.DefaultFPS,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h, nil
}

// Handle processes one event. Failures are reported in the response and
// never returned or propagated as panics.
func (h *Handler) Handle(ctx context.Context, ev Event) Response {
	logger := h.logger.With(slog.String("event_id", ev.ID))

	resp, err := h.run(ctx, logger, ev.Input)
	if err != nil {
		kind := KindOf(err)
		msg := err.Error()
		var herr *Error
		if errors.As(err, &herr) {
			msg = herr.Err.Error()
		}
		logger.Error("generation failed",
			slog.String("error_kind", string(kind)),
			slog.String("error", msg),
		)
		return Response{Error: msg, ErrorKind: kind}
	}

	logger.Info("generation completed",
		slog.Int("num_frames", resp.NumFrames),
		slog.Int("frames_produced", resp.FramesProduced),
		slog.Int("fps", resp.FPS),
		slog.Int64("total_ms", resp.Timing.TotalMS),
	)
	return resp
}

func (h *Handler) run(ctx context.Context, logger *slog.Logger, in generation.Input) (Response, error) {
	start := time.Now()

	if in.Image == "" {
		return Response{}, newError(KindValidation, errors.New("missing required 'image' parameter"))
	}
	if in.NumFrames == 0 {
		in.NumFrames = h.defaultNumFrames
	}
	if in.FPS == 0 {
		in.FPS = h.defaultFPS
	}
	if err := h.validateInput(in); err != nil {
		return Response{}, err
	}

	logger.Info("processing video generation request",
		slog.String("prompt", in.Prompt),
		slog.Int("num_frames", in.NumFrames),
		slog.Int("fps", in.FPS),
	)

	data, err := base64.StdEncoding.DecodeString(in.Image)
	if err != nil {
		return Response{}, newError(KindDecode, fmt.Errorf("decode base64 image: %w", err))
	}
	img, mime, err := decodeImage(data)
	if err != nil {
		return Response{}, newError(KindDecode, err)
	}
	logger.Debug("image loaded",
		slog.String("mime", mime),
		slog.Int("width", img.Bounds().Dx()),
		slog.Int("height", img.Bounds().Dy()),
	)

	req, err := generation.NewRequest(data, in.Prompt, in.NumFrames, in.FPS)
	if err != nil {
		return Response{}, newError(KindValidation, err)
	}
	decoded := time.Now()

	frames, err := h.generate(ctx, img, inference.Params{Prompt: req.Prompt(), NumFrames: req.NumFrames()})
	if err != nil {
		return Response{}, newError(KindInference, err)
	}
	inferred := time.Now()

	video, produced, err := h.encode(ctx, logger, frames, req.FPS())
	if err != nil {
		return Response{}, newError(KindEncode, err)
	}
	done := time.Now()

	return Response{
		Video:          base64.StdEncoding.EncodeToString(video),
		Status:         StatusSuccess,
		NumFrames:      req.NumFrames(),
		FramesProduced: produced,
		FPS:            req.FPS(),
		Prompt:         req.Prompt(),
		Timing: &Timing{
			DecodeMS:    decoded.Sub(start).Milliseconds(),
			InferenceMS: inferred.Sub(decoded).Milliseconds(),
			EncodeMS:    done.Sub(inferred).Milliseconds(),
			TotalMS:     done.Sub(start).Milliseconds(),
		},
	}, nil
}

// validateInput checks ranges and encoding with the struct tags on
// generation.Input. A malformed base64 payload is a decode failure.
func (h *Handler) validateInput(in generation.Input) error {
	err := h.validator.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == "base64" {
				return newError(KindDecode, errors.New("image is not valid base64"))
			}
		}
		fe := verrs[0]
		return newError(KindValidation, fmt.Errorf("invalid %s: %v (%s=%s)", fe.Field(), fe.Value(), fe.Tag(), fe.Param()))
	}
	return newError(KindValidation, err)
}

// generate calls the pipeline, converting a panic into an error.
func (h *Handler) generate(ctx context.Context, img image.Image, params inference.Params) (frames []image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPipelinePanic, r)
		}
	}()

	frames, err = h.pipeline.Generate(ctx, img, params)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	return frames, nil
}

// encode writes frames to a temporary MP4, reads it back and removes it.
// It returns the video bytes and the frame count found in the file.
func (h *Handler) encode(ctx context.Context, logger *slog.Logger, frames []image.Image, fps int) ([]byte, int, error) {
	f, err := os.CreateTemp(h.tempDir, "ti2v_*.mp4")
	if err != nil {
		return nil, 0, fmt.Errorf("create temp video: %w", err)
	}
	path := f.Name()
	_ = f.Close()
	defer func() { _ = os.Remove(path) }()

	if err := h.encoder.EncodeFrames(ctx, frames, fps, path); err != nil {
		return nil, 0, err
	}

	video, err := os.ReadFile(path) // #nosec G304 - path comes from os.CreateTemp
	if err != nil {
		return nil, 0, fmt.Errorf("read encoded video: %w", err)
	}
	if len(video) == 0 {
		return nil, 0, errors.New("encoder produced an empty video")
	}

	produced, err := h.encoder.ProbeFrameCount(ctx, path)
	if err != nil {
		logger.Warn("failed to probe frame count, reporting generated frames",
			slog.String("error", err.Error()),
		)
		produced = len(frames)
	}

	return video, produced, nil
}
