// Package job provides the job aggregate, its repository and the
// GenerateVideoService use case that drives a generation through the
// remote queue and stores the resulting video.
package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/maauso/wan-ti2v-api/internal/generation"
	"github.com/maauso/wan-ti2v-api/internal/lifecycle"
	"github.com/maauso/wan-ti2v-api/internal/runpod"
	"github.com/maauso/wan-ti2v-api/internal/storage"
)

// Static errors for the generation service.
var (
	// ErrInvalidInput is returned when the generation input is rejected.
	ErrInvalidInput = errors.New("invalid generation input")
	// ErrVideoNotAvailable is returned when a job has no stored video.
	ErrVideoNotAvailable = errors.New("video not available")
	// ErrJobNotTerminal is returned when an operation needs a finished job.
	ErrJobNotTerminal = errors.New("job has not finished")
)

// GenerateVideoInput contains the input parameters for a generation.
type GenerateVideoInput struct {
	// ImageBase64 is the base64-encoded conditioning image.
	ImageBase64 string
	// Prompt is the optional text prompt.
	Prompt string
	// NumFrames is the frame count; zero selects the default.
	NumFrames int
	// FPS is the frame rate; zero selects the default.
	FPS int
	// PushToS3 indicates whether to upload the final video to S3.
	PushToS3 bool
}

func (in GenerateVideoInput) request() (generation.Request, error) {
	req, err := generation.NewRequestFromInput(generation.Input{
		Image:     in.ImageBase64,
		Prompt:    in.Prompt,
		NumFrames: in.NumFrames,
		FPS:       in.FPS,
	})
	if err != nil {
		return generation.Request{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return req, nil
}

// GenerateVideoOutput contains the result of a generation.
type GenerateVideoOutput struct {
	// JobID is the local job identifier.
	JobID string
	// Status is the final job status.
	Status Status
	// VideoPath is the local path to the output video.
	VideoPath string
	// VideoURL is the S3 URL of the output video (if pushed to S3).
	VideoURL string
	// Error contains the error message if the job did not complete.
	Error string
}

// StatusWaiter waits for a remote job to reach a terminal state.
// *lifecycle.Poller implements it.
type StatusWaiter interface {
	Wait(ctx context.Context, remoteJobID string, onStatus lifecycle.StatusFunc) (runpod.PollResult, error)
}

// GenerateVideoService orchestrates a generation: submit to the remote
// queue, wait for a terminal status, store the video, record the outcome.
type GenerateVideoService struct {
	repo    Repository
	client  runpod.Client
	waiter  StatusWaiter
	storage storage.Storage
	logger  *slog.Logger
}

// NewGenerateVideoService creates a new GenerateVideoService.
func NewGenerateVideoService(
	repo Repository,
	client runpod.Client,
	waiter StatusWaiter,
	store storage.Storage,
	logger *slog.Logger,
) *GenerateVideoService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateVideoService{
		repo:    repo,
		client:  client,
		waiter:  waiter,
		storage: store,
		logger:  logger,
	}
}

// CreateJob validates the input and persists a new job in IN_QUEUE status.
func (s *GenerateVideoService) CreateJob(ctx context.Context, input GenerateVideoInput) (*Job, error) {
	req, err := input.request()
	if err != nil {
		return nil, err
	}

	job := New()
	job.Prompt = req.Prompt()
	job.NumFrames = req.NumFrames()
	job.FPS = req.FPS()
	job.PushToS3 = input.PushToS3

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.Int("num_frames", job.NumFrames),
		slog.Int("fps", job.FPS),
		slog.Bool("push_to_s3", job.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return job, nil
}

// ProcessExistingJob runs an already created job to completion. Failures
// of the generation itself are recorded on the job and reported in the
// output as well as in the returned error.
func (s *GenerateVideoService) ProcessExistingJob(ctx context.Context, jobID string, input GenerateVideoInput) (*GenerateVideoOutput, error) {
	logger := s.logger.With(slog.String("job_id", jobID))

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	req, err := input.request()
	if err != nil {
		return s.finish(ctx, logger, jobID, StatusFailed, err)
	}

	remoteID, err := s.client.Submit(ctx, req.Input())
	if err != nil {
		return s.finish(ctx, logger, jobID, StatusFailed, fmt.Errorf("submit: %w", err))
	}
	logger.Info("job submitted", slog.String("remote_job_id", remoteID))

	if _, err := s.repo.Update(ctx, jobID, func(j *Job) error {
		j.SetRemoteJobID(remoteID)
		return nil
	}); err != nil {
		return nil, err
	}

	result, err := s.waiter.Wait(ctx, remoteID, func(status runpod.Status) {
		s.observe(ctx, logger, jobID, status)
	})
	if err != nil {
		return s.finish(ctx, logger, jobID, terminalStatusFor(err), err)
	}

	res, err := generation.DecodeResult(result.VideoBase64, result.NumFrames, result.FPS, generation.Timing{
		DelayTime:     result.DelayTime,
		ExecutionTime: result.ExecutionTime,
	})
	if err != nil {
		return s.finish(ctx, logger, jobID, StatusFailed, err)
	}

	path, url, err := s.storeVideo(ctx, logger, job.ID, job.PushToS3, res.Video)
	if err != nil {
		return s.finish(ctx, logger, jobID, StatusFailed, err)
	}

	if _, err := s.repo.Update(ctx, jobID, func(j *Job) error {
		j.SetOutput(path, url, res.Timing.ExecutionTime)
		return j.Complete()
	}); err != nil {
		return nil, err
	}

	logger.Info("job completed",
		slog.String("video_path", path),
		slog.String("video_url", url),
		slog.Int("num_frames", res.NumFrames),
		slog.Duration("execution_time", res.Timing.ExecutionTime),
	)

	return &GenerateVideoOutput{
		JobID:     jobID,
		Status:    StatusCompleted,
		VideoPath: path,
		VideoURL:  url,
	}, nil
}

// GetJob retrieves a job by ID.
func (s *GenerateVideoService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all jobs, oldest first.
func (s *GenerateVideoService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// ReadVideo returns the stored video of a completed job.
func (s *GenerateVideoService) ReadVideo(ctx context.Context, id string) ([]byte, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusCompleted || job.OutputVideoPath == "" {
		return nil, ErrVideoNotAvailable
	}

	rc, err := s.storage.LoadTemp(ctx, job.OutputVideoPath)
	if err != nil {
		return nil, fmt.Errorf("load video: %w", err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read video: %w", err)
	}
	return data, nil
}

// DeleteJobVideo removes a finished job's stored video, locally and in S3,
// and clears the job's output fields. The job itself is kept.
func (s *GenerateVideoService) DeleteJobVideo(ctx context.Context, id string) error {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return ErrJobNotTerminal
	}
	if job.OutputVideoPath == "" && job.VideoURL == "" {
		return ErrVideoNotAvailable
	}

	if job.OutputVideoPath != "" {
		if err := s.storage.CleanupTemp(ctx, []string{job.OutputVideoPath}); err != nil {
			return fmt.Errorf("delete local video: %w", err)
		}
	}
	if job.VideoURL != "" {
		if err := s.storage.DeleteFromS3(ctx, storage.VideoKey(job.ID)); err != nil {
			return fmt.Errorf("delete S3 video: %w", err)
		}
	}

	if _, err := s.repo.Update(ctx, id, func(j *Job) error {
		j.ClearOutput()
		return nil
	}); err != nil {
		return err
	}

	s.logger.Info("job video deleted", slog.String("job_id", id))
	return nil
}

// observe mirrors a non-terminal remote status onto the local job.
// Terminal statuses are applied once the output has been handled.
func (s *GenerateVideoService) observe(ctx context.Context, logger *slog.Logger, jobID string, status runpod.Status) {
	if status != runpod.StatusInProgress {
		return
	}
	if _, err := s.repo.Update(ctx, jobID, func(j *Job) error {
		return j.Advance(StatusInProgress)
	}); err != nil {
		logger.Warn("failed to record job progress", slog.String("error", err.Error()))
	}
}

// storeVideo saves the video locally and, when requested, uploads it to S3.
// A missing S3 configuration degrades to local storage only.
func (s *GenerateVideoService) storeVideo(ctx context.Context, logger *slog.Logger, jobID string, pushToS3 bool, video []byte) (string, string, error) {
	path, err := s.storage.SaveTemp(ctx, jobID+"_video.mp4", bytes.NewReader(video))
	if err != nil {
		return "", "", fmt.Errorf("save video: %w", err)
	}

	if !pushToS3 {
		return path, "", nil
	}

	url, err := s.storage.UploadToS3(ctx, storage.VideoKey(jobID), bytes.NewReader(video))
	switch {
	case errors.Is(err, storage.ErrS3NotConfigured):
		logger.Warn("S3 upload requested but S3 is not configured, keeping local copy only")
		return path, "", nil
	case err != nil:
		_ = s.storage.CleanupTemp(ctx, []string{path})
		return "", "", err
	}

	logger.Info("video uploaded to S3", slog.String("url", url))
	return path, url, nil
}

// finish records a terminal failure on the job and returns cause.
func (s *GenerateVideoService) finish(ctx context.Context, logger *slog.Logger, jobID string, status Status, cause error) (*GenerateVideoOutput, error) {
	msg := cause.Error()

	logger.Error("job did not complete",
		slog.String("status", string(status)),
		slog.String("error", msg),
	)

	// The caller's context may be the reason we are here.
	if _, err := s.repo.Update(context.WithoutCancel(ctx), jobID, func(j *Job) error {
		return j.Finish(status, msg)
	}); err != nil {
		logger.Error("failed to record job failure", slog.String("error", err.Error()))
	}

	return &GenerateVideoOutput{
		JobID:  jobID,
		Status: status,
		Error:  msg,
	}, cause
}

// terminalStatusFor maps a poll error to the job's terminal status.
func terminalStatusFor(err error) Status {
	var failed *lifecycle.JobFailedError
	switch {
	case errors.As(err, &failed):
		switch failed.Status {
		case runpod.StatusCancelled:
			return StatusCancelled
		case runpod.StatusTimedOut:
			return StatusTimedOut
		default:
			return StatusFailed
		}
	case errors.Is(err, lifecycle.ErrPollTimeout):
		return StatusTimedOut
	default:
		return StatusFailed
	}
}
