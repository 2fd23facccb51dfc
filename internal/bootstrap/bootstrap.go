// Package bootstrap wires the gateway, worker and CLI dependency graphs.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/wan-ti2v-api/internal/config"
	"github.com/maauso/wan-ti2v-api/internal/handler"
	"github.com/maauso/wan-ti2v-api/internal/inference"
	"github.com/maauso/wan-ti2v-api/internal/job"
	"github.com/maauso/wan-ti2v-api/internal/lifecycle"
	"github.com/maauso/wan-ti2v-api/internal/media"
	"github.com/maauso/wan-ti2v-api/internal/runpod"
	"github.com/maauso/wan-ti2v-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the job gateway.
type Dependencies struct {
	VideoService *job.GenerateVideoService
	RunPodClient *runpod.HTTPClient
	Poller       *lifecycle.Poller
}

// NewDependencies creates and initializes all dependencies for the gateway.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	client, err := NewRunPodClient(cfg)
	if err != nil {
		return nil, err
	}
	poller := NewPoller(cfg, client, logger)

	repo := job.NewMemoryRepository()
	svc := job.NewGenerateVideoService(repo, client, poller, store, logger)

	return &Dependencies{
		VideoService: svc,
		RunPodClient: client,
		Poller:       poller,
	}, nil
}

// NewRunPodClient creates the queue client from configuration.
func NewRunPodClient(cfg *config.Config) (*runpod.HTTPClient, error) {
	client, err := runpod.NewClient(cfg.RunPodEndpointID,
		runpod.WithAPIKey(cfg.RunPodAPIKey),
		runpod.WithBaseURL(cfg.RunPodBaseURL),
		runpod.WithMaxRetries(cfg.RunPodMaxRetries),
		runpod.WithBaseBackoff(cfg.RetryBackoff()),
	)
	if err != nil {
		return nil, fmt.Errorf("create RunPod client: %w", err)
	}
	return client, nil
}

// NewPoller creates a bounded poller that cancels remote jobs on deadline.
func NewPoller(cfg *config.Config, client *runpod.HTTPClient, logger *slog.Logger, extra ...lifecycle.Option) *lifecycle.Poller {
	opts := []lifecycle.Option{
		lifecycle.WithInterval(cfg.PollInterval()),
		lifecycle.WithTimeout(cfg.PollTimeout()),
		lifecycle.WithMaxConsecutiveErrors(cfg.PollMaxErrors),
		lifecycle.WithCanceller(client),
		lifecycle.WithLogger(logger),
	}
	return lifecycle.NewPoller(client, append(opts, extra...)...)
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}

// WorkerDependencies holds the initialized dependencies of the inference worker.
type WorkerDependencies struct {
	Handler  *handler.Handler
	Pipeline *inference.RemotePipeline
}

// NewWorkerDependencies builds the pipeline handle once and injects it
// into the inference handler.
func NewWorkerDependencies(cfg *config.WorkerConfig, logger *slog.Logger) (*WorkerDependencies, error) {
	pipeline, err := inference.NewRemotePipeline(cfg.PipelineURL, inference.WithModelID(cfg.ModelID))
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	encoder := media.NewFFmpegEncoder(cfg.FFmpegPath, cfg.FFprobePath)

	hd, err := handler.New(pipeline, encoder,
		handler.WithLogger(logger),
		handler.WithTempDir(cfg.TempDir),
		handler.WithDefaults(cfg.DefaultNumFrames, cfg.DefaultFPS),
	)
	if err != nil {
		return nil, fmt.Errorf("create handler: %w", err)
	}

	logger.Info("inference pipeline configured",
		slog.String("pipeline_url", cfg.PipelineURL),
		slog.String("model_id", pipeline.ModelID()),
	)

	return &WorkerDependencies{
		Handler:  hd,
		Pipeline: pipeline,
	}, nil
}
