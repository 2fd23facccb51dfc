package job

import (
	"errors"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	job := New()

	if job.ID == "" {
		t.Error("expected job to have an ID")
	}
	if job.Status != StatusInQueue {
		t.Errorf("expected status %s, got %s", StatusInQueue, job.Status)
	}
	if job.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if job.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestNewWithID(t *testing.T) {
	id := "test-job-123"
	job := NewWithID(id)

	if job.ID != id {
		t.Errorf("expected ID %s, got %s", id, job.ID)
	}
	if job.Status != StatusInQueue {
		t.Errorf("expected status %s, got %s", StatusInQueue, job.Status)
	}
}

func TestJob_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"IN_QUEUE to IN_PROGRESS", StatusInQueue, StatusInProgress, false},
		{"IN_QUEUE to COMPLETED", StatusInQueue, StatusCompleted, false},
		{"IN_QUEUE to FAILED", StatusInQueue, StatusFailed, false},
		{"IN_QUEUE to CANCELLED", StatusInQueue, StatusCancelled, false},
		{"IN_QUEUE to TIMED_OUT", StatusInQueue, StatusTimedOut, false},
		{"IN_PROGRESS to COMPLETED", StatusInProgress, StatusCompleted, false},
		{"IN_PROGRESS to FAILED", StatusInProgress, StatusFailed, false},
		{"IN_PROGRESS to CANCELLED", StatusInProgress, StatusCancelled, false},
		{"IN_PROGRESS to TIMED_OUT", StatusInProgress, StatusTimedOut, false},
		{"IN_PROGRESS to IN_QUEUE", StatusInProgress, StatusInQueue, true},
		{"IN_QUEUE to IN_QUEUE", StatusInQueue, StatusInQueue, true},
		{"COMPLETED to IN_QUEUE", StatusCompleted, StatusInQueue, true},
		{"COMPLETED to IN_PROGRESS", StatusCompleted, StatusInProgress, true},
		{"FAILED to COMPLETED", StatusFailed, StatusCompleted, true},
		{"unknown to IN_PROGRESS", Status("BOGUS"), StatusInProgress, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewWithID("test")
			job.Status = tt.from

			err := job.TransitionTo(tt.to)

			if tt.wantErr && err == nil {
				t.Errorf("expected error for transition %s -> %s", tt.from, tt.to)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestJob_AdvanceToInProgress(t *testing.T) {
	job := New()
	beforeStart := time.Now()

	if err := job.Advance(StatusInProgress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Status != StatusInProgress {
		t.Errorf("expected status %s, got %s", StatusInProgress, job.Status)
	}
	if job.StartedAt.Before(beforeStart) {
		t.Error("expected StartedAt to be set after test start")
	}
}

func TestJob_Complete(t *testing.T) {
	job := New()
	_ = job.Advance(StatusInProgress)

	if err := job.Complete(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Status != StatusCompleted {
		t.Errorf("expected status %s, got %s", StatusCompleted, job.Status)
	}
	if job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
}

func TestJob_FinishFailed(t *testing.T) {
	job := New()
	_ = job.Advance(StatusInProgress)

	errMsg := "CUDA out of memory"
	if err := job.Finish(StatusFailed, errMsg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, job.Status)
	}
	if job.Error != errMsg {
		t.Errorf("expected error %q, got %q", errMsg, job.Error)
	}
	if job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set on failure")
	}
}

func TestJob_Finish_AfterCompleteKeepsOutcome(t *testing.T) {
	job := New()
	_ = job.Complete()

	err := job.Finish(StatusFailed, "late failure")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if job.Error != "" {
		t.Errorf("expected error message to stay empty, got %q", job.Error)
	}
	if job.Status != StatusCompleted {
		t.Errorf("expected status to stay %s, got %s", StatusCompleted, job.Status)
	}
}

func TestJob_Finish_RejectsNonTerminal(t *testing.T) {
	job := New()

	if err := job.Finish(StatusInProgress, "x"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestJob_FinishCancelled(t *testing.T) {
	job := New()
	_ = job.Advance(StatusInProgress)

	if err := job.Finish(StatusCancelled, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusCancelled {
		t.Errorf("expected status %s, got %s", StatusCancelled, job.Status)
	}
}

func TestJob_FinishTimedOut(t *testing.T) {
	job := New()

	if err := job.Finish(StatusTimedOut, "deadline exceeded"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusTimedOut {
		t.Errorf("expected status %s, got %s", StatusTimedOut, job.Status)
	}
}

func TestJob_Advance(t *testing.T) {
	job := New()

	for _, s := range []Status{StatusInQueue, StatusInProgress, StatusInProgress, StatusCompleted, StatusCompleted} {
		if err := job.Advance(s); err != nil {
			t.Fatalf("Advance(%s): unexpected error: %v", s, err)
		}
	}
	if job.Status != StatusCompleted {
		t.Errorf("expected status %s, got %s", StatusCompleted, job.Status)
	}

	if err := job.Advance(StatusInProgress); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition moving back from terminal state, got %v", err)
	}
}

func TestJob_CannotTransitionFromTerminalState(t *testing.T) {
	terminalStates := []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut}
	allStates := []Status{StatusInQueue, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut}

	for _, terminal := range terminalStates {
		for _, target := range allStates {
			t.Run(string(terminal)+"_to_"+string(target), func(t *testing.T) {
				job := NewWithID("test")
				job.Status = terminal

				err := job.TransitionTo(target)
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
			})
		}
	}
}

func TestJob_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusInQueue, false},
		{StatusInProgress, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
		{StatusTimedOut, true},
		{Status("BOGUS"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			job := NewWithID("test")
			job.Status = tt.status

			if got := job.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestJob_SetOutput(t *testing.T) {
	job := New()

	job.SetOutput("/tmp/video.mp4", "https://s3.example.com/video.mp4", 42*time.Second)

	if job.OutputVideoPath != "/tmp/video.mp4" {
		t.Errorf("expected OutputVideoPath /tmp/video.mp4, got %s", job.OutputVideoPath)
	}
	if job.VideoURL != "https://s3.example.com/video.mp4" {
		t.Errorf("expected VideoURL https://s3.example.com/video.mp4, got %s", job.VideoURL)
	}
	if job.ExecutionTime != 42*time.Second {
		t.Errorf("expected ExecutionTime 42s, got %v", job.ExecutionTime)
	}

	job.ClearOutput()
	if job.OutputVideoPath != "" || job.VideoURL != "" {
		t.Error("expected output to be cleared")
	}
}

func TestJob_Clone(t *testing.T) {
	job := New()
	job.Status = StatusInProgress
	job.Prompt = "a red square"
	job.SetRemoteJobID("remote-1")

	clone := job.Clone()

	if clone.ID != job.ID {
		t.Errorf("expected ID %s, got %s", job.ID, clone.ID)
	}
	if clone.RemoteJobID != "remote-1" {
		t.Errorf("expected RemoteJobID remote-1, got %s", clone.RemoteJobID)
	}
	if clone.Prompt != job.Prompt {
		t.Errorf("expected Prompt %q, got %q", job.Prompt, clone.Prompt)
	}

	clone.Status = StatusCompleted
	if job.Status == StatusCompleted {
		t.Error("modifying clone should not affect original")
	}
}

func TestJob_Clone_ConcurrentWithAdvance(t *testing.T) {
	job := New()

	done := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			_ = job.Clone()
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_ = job.Advance(StatusInProgress)
		}
		done <- true
	}()

	<-done
	<-done
}
