package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Static errors for media operations.
var (
	// ErrNoFrames is returned when there is nothing to encode.
	ErrNoFrames = errors.New("no frames to encode")
	// ErrInvalidFPS is returned when the frame rate is not positive.
	ErrInvalidFPS = errors.New("invalid fps: must be positive")
	// ErrFrameSizeMismatch is returned when frames have differing dimensions.
	ErrFrameSizeMismatch = errors.New("frames must share the same dimensions")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
)

// frameFilePattern names the intermediate PNG frames handed to ffmpeg.
const frameFilePattern = "frame_%05d.png"

// FFmpegEncoder implements Encoder using the ffmpeg and ffprobe CLIs.
type FFmpegEncoder struct {
	ffmpegPath  string
	ffprobePath string
}

// Compile-time check that FFmpegEncoder implements Encoder.
var _ Encoder = (*FFmpegEncoder)(nil)

// NewFFmpegEncoder creates a new FFmpegEncoder.
// Empty paths default to "ffmpeg" and "ffprobe" (found via PATH).
func NewFFmpegEncoder(ffmpegPath, ffprobePath string) *FFmpegEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegEncoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// EncodeFrames writes the frames as numbered PNGs in a scratch directory and
// encodes them with libx264 into dst. The scratch directory is created next to
// dst and is always removed.
func (e *FFmpegEncoder) EncodeFrames(ctx context.Context, frames []image.Image, fps int, dst string) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	if fps <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidFPS, fps)
	}

	bounds := frames[0].Bounds()
	for i, f := range frames[1:] {
		if f.Bounds().Dx() != bounds.Dx() || f.Bounds().Dy() != bounds.Dy() {
			return fmt.Errorf("%w: frame %d is %dx%d, want %dx%d",
				ErrFrameSizeMismatch, i+1, f.Bounds().Dx(), f.Bounds().Dy(), bounds.Dx(), bounds.Dy())
		}
	}

	workDir, err := os.MkdirTemp(filepath.Dir(dst), "ti2v-frames-*")
	if err != nil {
		return fmt.Errorf("create frame directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("encode cancelled: %w", err)
		}
		if err := writePNG(filepath.Join(workDir, fmt.Sprintf(frameFilePattern, i)), f); err != nil {
			return fmt.Errorf("write frame %d: %w", i, err)
		}
	}

	args := []string{
		"-y", // Overwrite output file
		"-framerate", strconv.Itoa(fps),
		"-i", filepath.Join(workDir, frameFilePattern),
		// libx264 with yuv420p needs even dimensions
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", "libx264",
		"-preset", "fast",
		"-pix_fmt", "yuv420p", // Pixel format for player compatibility
		"-movflags", "+faststart",
		dst,
	}

	return e.runFFmpeg(ctx, args)
}

// ProbeFrameCount counts the decoded video frames of path with ffprobe.
func (e *FFmpegEncoder) ProbeFrameCount(ctx context.Context, path string) (int, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_frames",
		"-show_entries", "stream=nb_read_frames",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	n, err := strconv.Atoi(strings.TrimSpace(stdout.String()))
	if err != nil {
		return 0, fmt.Errorf("parse frame count: %w", err)
	}

	return n, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path) // #nosec G304 - path is inside our scratch directory
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (e *FFmpegEncoder) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
