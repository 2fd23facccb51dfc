// Package main provides a command line client that submits an image-to-video
// job, waits for it to finish and saves the resulting MP4.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/maauso/wan-ti2v-api/internal/bootstrap"
	"github.com/maauso/wan-ti2v-api/internal/config"
	"github.com/maauso/wan-ti2v-api/internal/generation"
	"github.com/maauso/wan-ti2v-api/internal/handler"
	"github.com/maauso/wan-ti2v-api/internal/lifecycle"
	"github.com/maauso/wan-ti2v-api/internal/runpod"
)

const defaultPrompt = "A magical transformation with sparkling effects and smooth motion"

// skyBlue is the colour of the generated test image.
var skyBlue = color.RGBA{R: 135, G: 206, B: 235, A: 255}

type options struct {
	envFile   string
	imagePath string
	prompt    string
	numFrames int
	fps       int
	output    string
	timeout   time.Duration
	local     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	flags := flag.NewFlagSet("ti2v", flag.ContinueOnError)
	flags.StringVar(&opts.envFile, "env", ".env", "optional dotenv file to load")
	flags.StringVar(&opts.imagePath, "image", "", "input image (PNG, JPEG, GIF or WebP); a 512x512 test image is used when empty")
	flags.StringVar(&opts.prompt, "prompt", defaultPrompt, "text prompt")
	flags.IntVar(&opts.numFrames, "frames", generation.DefaultNumFrames, "number of frames to generate")
	flags.IntVar(&opts.fps, "fps", generation.DefaultFPS, "frames per second of the output video")
	flags.StringVar(&opts.output, "out", "generated_video.mp4", "output MP4 path")
	flags.DurationVar(&opts.timeout, "timeout", 0, "overall deadline for the job (defaults to POLL_TIMEOUT_SEC)")
	flags.BoolVar(&opts.local, "local", false, "run the inference handler in-process against PIPELINE_URL instead of the queue")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if opts.timeout < 0 {
		return options{}, fmt.Errorf("-timeout must not be negative, got %s", opts.timeout)
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", opts.envFile, err)
	}

	req, err := buildRequest(opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Prompt: %s\n", req.Prompt())
	fmt.Fprintf(stdout, "Frames: %d at %d fps\n", req.NumFrames(), req.FPS())

	if opts.local {
		return runLocal(ctx, req, opts, stdout)
	}
	return runRemote(ctx, req, opts, stdout)
}

func buildRequest(opts options) (generation.Request, error) {
	if opts.imagePath != "" {
		return generation.NewRequestFromFile(opts.imagePath, opts.prompt, opts.numFrames, opts.fps)
	}
	img, err := generation.SolidPNG(512, 512, skyBlue)
	if err != nil {
		return generation.Request{}, err
	}
	return generation.NewRequest(img, opts.prompt, opts.numFrames, opts.fps)
}

// runRemote submits the request to the queue and waits for the result.
func runRemote(ctx context.Context, req generation.Request, opts options, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger()

	client, err := bootstrap.NewRunPodClient(cfg)
	if err != nil {
		return err
	}
	var pollOpts []lifecycle.Option
	if opts.timeout > 0 {
		pollOpts = append(pollOpts, lifecycle.WithTimeout(opts.timeout))
	}
	poller := bootstrap.NewPoller(cfg, client, logger, pollOpts...)

	jobID, err := client.Submit(ctx, req.Input())
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}
	fmt.Fprintf(stdout, "Job submitted: %s\n", jobID)

	var last runpod.Status
	result, err := poller.Wait(ctx, jobID, func(status runpod.Status) {
		if status != last {
			fmt.Fprintf(stdout, "Status: %s\n", status)
			last = status
		}
	})
	if err != nil {
		return fmt.Errorf("wait for job %s: %w", jobID, err)
	}

	res, err := generation.DecodeResult(result.VideoBase64, result.NumFrames, result.FPS, generation.Timing{
		DelayTime:     result.DelayTime,
		ExecutionTime: result.ExecutionTime,
	})
	if err != nil {
		return err
	}
	return save(res, opts.output, stdout)
}

// runLocal drives the inference handler directly, bypassing the queue.
func runLocal(ctx context.Context, req generation.Request, opts options, stdout io.Writer) error {
	cfg, err := config.LoadWorker()
	if err != nil {
		return fmt.Errorf("load worker config: %w", err)
	}
	logger := cfg.NewLogger()

	deps, err := bootstrap.NewWorkerDependencies(cfg, logger)
	if err != nil {
		return err
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	start := time.Now()
	resp := deps.Handler.Handle(ctx, handler.Event{ID: "local", Input: req.Input()})
	if resp.Failed() {
		return fmt.Errorf("handler %s error: %s", resp.ErrorKind, resp.Error)
	}

	res, err := generation.DecodeResult(resp.Video, resp.NumFrames, resp.FPS, generation.Timing{
		ExecutionTime: time.Since(start),
	})
	if err != nil {
		return err
	}
	if resp.Timing != nil {
		res.Timing.InferenceTime = time.Duration(resp.Timing.InferenceMS) * time.Millisecond
		res.Timing.EncodeTime = time.Duration(resp.Timing.EncodeMS) * time.Millisecond
	}
	return save(res, opts.output, stdout)
}

func save(res *generation.Result, path string, stdout io.Writer) error {
	if err := res.WriteVideo(path); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Video saved as %s (%d bytes)\n", path, len(res.Video))
	if res.NumFrames > 0 {
		fmt.Fprintf(stdout, "Frames: %d at %d fps\n", res.NumFrames, res.FPS)
	}
	fmt.Fprintf(stdout, "Execution time: %dms\n", res.Timing.ExecutionTime.Milliseconds())
	if res.Timing.InferenceTime > 0 {
		fmt.Fprintf(stdout, "Inference: %dms, encode: %dms\n",
			res.Timing.InferenceTime.Milliseconds(), res.Timing.EncodeTime.Milliseconds())
	}
	return nil
}
