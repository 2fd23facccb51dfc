package generation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrVideoMissing is returned when a completed job carries no video payload.
var ErrVideoMissing = errors.New("generation: no video in output")

// Timing is the optional timing breakdown of a generation.
type Timing struct {
	// DelayTime is how long the job waited in the queue.
	DelayTime time.Duration
	// ExecutionTime is the time the worker spent on the job.
	ExecutionTime time.Duration
	// InferenceTime is the time spent inside the model pipeline.
	InferenceTime time.Duration
	// EncodeTime is the time spent muxing frames into MP4.
	EncodeTime time.Duration
}

// Result is the outcome of a successful generation.
type Result struct {
	// Video is a single MP4 byte stream.
	Video []byte
	// NumFrames is the frame count actually produced (0 when unknown).
	NumFrames int
	// FPS is the frame rate used (0 when unknown).
	FPS int
	// Timing is the optional timing breakdown.
	Timing Timing
}

// DecodeResult decodes a base64 MP4 payload into a Result.
func DecodeResult(videoB64 string, numFrames, fps int, timing Timing) (*Result, error) {
	if videoB64 == "" {
		return nil, ErrVideoMissing
	}
	video, err := base64.StdEncoding.DecodeString(videoB64)
	if err != nil {
		return nil, fmt.Errorf("generation: decode video: %w", err)
	}
	if len(video) == 0 {
		return nil, ErrVideoMissing
	}
	return &Result{
		Video:     video,
		NumFrames: numFrames,
		FPS:       fps,
		Timing:    timing,
	}, nil
}

// VideoBase64 returns the video encoded as standard base64.
func (r *Result) VideoBase64() string {
	return base64.StdEncoding.EncodeToString(r.Video)
}

// WriteVideo writes the video to path, creating parent directories.
func (r *Result) WriteVideo(path string) error {
	if len(r.Video) == 0 {
		return ErrVideoMissing
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("generation: create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, r.Video, 0600); err != nil {
		return fmt.Errorf("generation: write video: %w", err)
	}
	return nil
}
