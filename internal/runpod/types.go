// Package runpod provides an HTTP client for the RunPod serverless job queue
// hosting the image/text-to-video worker.
package runpod

import (
	"time"

	"github.com/maauso/wan-ti2v-api/internal/generation"
)

// Status represents the status of a RunPod job.
type Status string

// RunPod job statuses aligned with the RunPod API.
const (
	StatusInQueue    Status = "IN_QUEUE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusTimedOut   Status = "TIMED_OUT"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// IsSuccess returns true only for StatusCompleted.
func (s Status) IsSuccess() bool {
	return s == StatusCompleted
}

// runRequest represents the request body for RunPod's /run endpoint.
type runRequest struct {
	Input generation.Input `json:"input"`
}

// runResponse represents the response from RunPod's /run endpoint.
type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusResponse represents the response from RunPod's /status endpoint.
type statusResponse struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Output        statusOutput `json:"output,omitempty"`
	Error         string       `json:"error,omitempty"`
	DelayTime     int64        `json:"delayTime,omitempty"`
	ExecutionTime int64        `json:"executionTime,omitempty"`
}

// statusOutput represents the output field in a status response.
// It mirrors the worker handler's response body.
type statusOutput struct {
	Video     string `json:"video,omitempty"`
	Status    string `json:"status,omitempty"`
	NumFrames int    `json:"num_frames,omitempty"`
	FPS       int    `json:"fps,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// cancelResponse represents the response from RunPod's /cancel endpoint.
type cancelResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// PollResult contains the result of polling a job's status.
type PollResult struct {
	Status        Status
	VideoBase64   string        // Base64-encoded MP4 (only set when Status is StatusCompleted)
	NumFrames     int           // Frames reported by the worker, 0 if absent
	FPS           int           // Frame rate reported by the worker, 0 if absent
	Error         string        // Error message (set for failures, including worker-reported ones)
	DelayTime     time.Duration // Time spent in the queue
	ExecutionTime time.Duration // Time spent on the worker
}
