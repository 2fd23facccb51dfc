// Package server provides the HTTP surfaces of the system: the job gateway
// API and the inference worker API. DTOs here are separate from domain types.
package server

import (
	"time"

	"github.com/maauso/wan-ti2v-api/internal/handler"
)

// CreateJobRequest is the HTTP request body for creating a new job.
type CreateJobRequest struct {
	// ImageBase64 is the base64-encoded conditioning image.
	ImageBase64 string `json:"image_base64" validate:"required,base64"`
	// Prompt is the optional text prompt.
	Prompt string `json:"prompt" validate:"max=2000"`
	// NumFrames is the frame count; omitted selects the default.
	NumFrames int `json:"num_frames" validate:"omitempty,min=1,max=241"`
	// FPS is the frame rate; omitted selects the default.
	FPS int `json:"fps" validate:"omitempty,min=1,max=60"`
	// PushToS3 indicates whether to upload the final video to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	RemoteID        string    `json:"remote_id,omitempty"`
	Prompt          string    `json:"prompt,omitempty"`
	NumFrames       int       `json:"num_frames"`
	FPS             int       `json:"fps"`
	Error           string    `json:"error,omitempty"`
	ExecutionTimeMS int64     `json:"execution_time_ms,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	// VideoBase64 is the base64-encoded video content (if push_to_s3=false and completed).
	VideoBase64 string `json:"video_base64,omitempty"`
	// VideoURL is the S3 URL of the output video (if push_to_s3=true and completed).
	VideoURL string `json:"video_url,omitempty"`
}

// JobListResponse is the HTTP response for listing jobs. Videos are omitted.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

// RunResponse mirrors the queue's job status shape for a synchronous run.
type RunResponse struct {
	ID            string           `json:"id"`
	Status        string           `json:"status"`
	Output        handler.Response `json:"output"`
	Error         string           `json:"error,omitempty"`
	ExecutionTime int64            `json:"executionTime"`
}

// MemoryStats reports host memory usage.
type MemoryStats struct {
	TotalBytes     uint64  `json:"total_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

// WorkerHealthResponse is the health report of the inference worker.
type WorkerHealthResponse struct {
	Status   string       `json:"status"`
	ModelID  string       `json:"model_id,omitempty"`
	Pipeline string       `json:"pipeline"`
	Memory   *MemoryStats `json:"memory,omitempty"`
}
