// Package media turns generated frames into MP4 video.
package media

import (
	"context"
	"image"
)

// Encoder defines the video operations the inference handler needs.
// Implementations should use ffmpeg or similar tools for media manipulation.
type Encoder interface {
	// EncodeFrames writes frames as an H.264 MP4 at the given frame rate to dst.
	// All frames must share the dimensions of the first one.
	EncodeFrames(ctx context.Context, frames []image.Image, fps int, dst string) error

	// ProbeFrameCount returns the number of video frames in the file at path.
	ProbeFrameCount(ctx context.Context, path string) (int, error)
}
