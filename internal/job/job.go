// Package job provides the Job aggregate for tracking video generation jobs
// submitted to the remote queue. Job states mirror the RunPod job states and
// only ever move forward.
package job

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maauso/wan-ti2v-api/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting for an available worker.
	StatusInQueue Status = "IN_QUEUE"
	// StatusInProgress indicates a worker is generating the video.
	StatusInProgress Status = "IN_PROGRESS"
	// StatusCompleted indicates the video was generated and stored.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job failed, remotely or while storing the result.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the job did not finish before the deadline.
	StatusTimedOut Status = "TIMED_OUT"
)

// IsTerminal returns true for states with no outgoing transitions.
func (s Status) IsTerminal() bool {
	allowed, ok := validTransitions[s]
	return ok && len(allowed) == 0
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// A job can finish straight from the queue when polling misses IN_PROGRESS.
var validTransitions = map[Status][]Status{
	StatusInQueue:    {StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusCancelled:  {},
	StatusTimedOut:   {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// Job represents a video generation job aggregate.
type Job struct {
	mu sync.RWMutex

	// ID is the local identifier for this job.
	ID string
	// RemoteJobID is the identifier assigned by the job queue.
	RemoteJobID string
	// Status is the current job state.
	Status Status
	// Prompt is the text prompt sent with the image.
	Prompt string
	// NumFrames is the requested frame count.
	NumFrames int
	// FPS is the requested frame rate.
	FPS int
	// PushToS3 indicates whether to upload the result to S3.
	PushToS3 bool
	// Error contains any error message if the job did not complete.
	Error string
	// OutputVideoPath is the local path of the stored video.
	OutputVideoPath string
	// VideoURL is the S3 URL if PushToS3 was true.
	VideoURL string
	// ExecutionTime is the worker execution time reported by the queue.
	ExecutionTime time.Duration
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when a worker picked the job up.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch {
	case status == StatusInProgress:
		j.StartedAt = j.UpdatedAt
	case status.IsTerminal():
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Advance moves the job to status if that is a forward move. Observing the
// current status again is a no-op, so repeated polls can be applied blindly.
func (j *Job) Advance(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status == status {
		return nil
	}
	return j.transitionLocked(status)
}

// Complete transitions the job to COMPLETED state.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Finish moves the job to a terminal status and records errMsg.
// The message is only recorded when the transition is allowed.
func (j *Job) Finish(status Status, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !status.IsTerminal() {
		return ErrInvalidTransition
	}
	if err := j.transitionLocked(status); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// SetRemoteJobID records the identifier assigned by the job queue.
func (j *Job) SetRemoteJobID(remoteID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.RemoteJobID = remoteID
	j.UpdatedAt = time.Now()
}

// SetOutput sets the output video path, optional S3 URL and execution time.
func (j *Job) SetOutput(videoPath, videoURL string, executionTime time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputVideoPath = videoPath
	j.VideoURL = videoURL
	j.ExecutionTime = executionTime
	j.UpdatedAt = time.Now()
}

// ClearOutput clears the output video path and URL.
// This is used when deleting the job's video file.
func (j *Job) ClearOutput() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputVideoPath = ""
	j.VideoURL = ""
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status.IsTerminal()
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:              j.ID,
		RemoteJobID:     j.RemoteJobID,
		Status:          j.Status,
		Prompt:          j.Prompt,
		NumFrames:       j.NumFrames,
		FPS:             j.FPS,
		PushToS3:        j.PushToS3,
		Error:           j.Error,
		OutputVideoPath: j.OutputVideoPath,
		VideoURL:        j.VideoURL,
		ExecutionTime:   j.ExecutionTime,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}
