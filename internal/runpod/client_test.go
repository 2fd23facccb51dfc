package runpod

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maauso/wan-ti2v-api/internal/generation"
)

// setTestEnv sets the RUNPOD_API_KEY env var for the duration of the test.
func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RUNPOD_API_KEY", "test-key")
}

func testInput() generation.Input {
	return generation.Input{
		Image:     "aW1hZ2UtZGF0YQ==",
		Prompt:    "A magical transformation with sparkling effects and smooth motion",
		NumFrames: 24,
		FPS:       24,
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
		success  bool
	}{
		{StatusInQueue, false, false},
		{StatusInProgress, false, false},
		{StatusCompleted, true, true},
		{StatusFailed, true, false},
		{StatusCancelled, true, false},
		{StatusTimedOut, true, false},
		{Status("UNKNOWN"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("Status(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
			}
			if got := tt.status.IsSuccess(); got != tt.success {
				t.Errorf("Status(%q).IsSuccess() = %v, want %v", tt.status, got, tt.success)
			}
		})
	}
}

func TestNewClient_MissingEndpointID(t *testing.T) {
	setTestEnv(t)

	_, err := NewClient("")
	if !errors.Is(err, ErrEndpointIDRequired) {
		t.Errorf("expected ErrEndpointIDRequired, got %v", err)
	}
}

func TestNewClient_MissingAPIKey(t *testing.T) {
	t.Setenv("RUNPOD_API_KEY", "")
	_ = os.Unsetenv("RUNPOD_API_KEY")

	_, err := NewClient("test-endpoint")
	if !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("expected ErrAPIKeyNotSet, got %v", err)
	}
}

func TestNewClient_WithAPIKeyOptionOverridesEnv(t *testing.T) {
	setTestEnv(t)

	client, err := NewClient("test-endpoint", WithAPIKey("explicit-api-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.apiKey != "explicit-api-key" {
		t.Errorf("expected apiKey to be 'explicit-api-key', got '%s'", client.apiKey)
	}
	if client.baseURL != DefaultBaseURL {
		t.Errorf("expected default base URL, got %s", client.baseURL)
	}
}

func TestSubmit_Success(t *testing.T) {
	setTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/test-endpoint/run" {
			t.Errorf("expected /test-endpoint/run, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Bearer test-key, got %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected application/json, got %s", r.Header.Get("Content-Type"))
		}

		var raw map[string]map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		in := raw["input"]
		if in["image"] != "aW1hZ2UtZGF0YQ==" {
			t.Errorf("unexpected image %v", in["image"])
		}
		if in["num_frames"] != float64(24) || in["fps"] != float64(24) {
			t.Errorf("unexpected num_frames/fps %v/%v", in["num_frames"], in["fps"])
		}

		_ = json.NewEncoder(w).Encode(runResponse{ID: "job-123", Status: "IN_QUEUE"})
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint", WithBaseURL(server.URL))

	jobID, err := client.Submit(context.Background(), testInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jobID != "job-123" {
		t.Errorf("expected job-123, got %s", jobID)
	}
}

func TestSubmit_Error(t *testing.T) {
	setTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(runResponse{Error: "invalid input"})
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint", WithBaseURL(server.URL))

	_, err := client.Submit(context.Background(), testInput())
	if !errors.Is(err, ErrSubmitFailed) {
		t.Errorf("expected ErrSubmitFailed, got %v", err)
	}
}

func TestSubmit_NoJobID(t *testing.T) {
	setTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint", WithBaseURL(server.URL))

	_, err := client.Submit(context.Background(), testInput())
	if !errors.Is(err, ErrNoJobIDReturned) {
		t.Errorf("expected ErrNoJobIDReturned, got %v", err)
	}
}

func TestSubmit_ContextCancelled(t *testing.T) {
	setTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint", WithBaseURL(server.URL), WithBaseBackoff(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Submit(ctx, testInput())
	if err == nil {
		t.Error("expected error due to context cancellation")
	}
}

func TestPoll_AllStatuses(t *testing.T) {
	setTestEnv(t)

	tests := []struct {
		name           string
		response       statusResponse
		expectedStatus Status
		expectedVideo  string
		expectedError  string
	}{
		{
			name:           "IN_QUEUE",
			response:       statusResponse{ID: "job-1", Status: "IN_QUEUE"},
			expectedStatus: StatusInQueue,
		},
		{
			name:           "IN_PROGRESS",
			response:       statusResponse{ID: "job-1", Status: "IN_PROGRESS"},
			expectedStatus: StatusInProgress,
		},
		{
			name: "COMPLETED",
			response: statusResponse{
				ID:     "job-1",
				Status: "COMPLETED",
				Output: statusOutput{Video: "dmlkZW8=", Status: "success", NumFrames: 8, FPS: 4},
			},
			expectedStatus: StatusCompleted,
			expectedVideo:  "dmlkZW8=",
		},
		{
			name: "COMPLETED with handler error",
			response: statusResponse{
				ID:     "job-1",
				Status: "COMPLETED",
				Output: statusOutput{Error: "Missing required 'image' parameter", ErrorKind: "validation"},
			},
			expectedStatus: StatusFailed,
			expectedError:  "Missing required 'image' parameter",
		},
		{
			name: "FAILED",
			response: statusResponse{
				ID:     "job-1",
				Status: "FAILED",
				Error:  "processing failed",
			},
			expectedStatus: StatusFailed,
			expectedError:  "processing failed",
		},
		{
			name:           "CANCELLED",
			response:       statusResponse{ID: "job-1", Status: "CANCELLED"},
			expectedStatus: StatusCancelled,
		},
		{
			name:           "TIMED_OUT",
			response:       statusResponse{ID: "job-1", Status: "TIMED_OUT"},
			expectedStatus: StatusTimedOut,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("expected GET, got %s", r.Method)
				}
				if r.URL.Path != "/test-endpoint/status/job-1" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			client, _ := NewClient("test-endpoint", WithBaseURL(server.URL))

			result, err := client.Poll(context.Background(), "job-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Status != tt.expectedStatus {
				t.Errorf("expected status %v, got %v", tt.expectedStatus, result.Status)
			}
			if result.VideoBase64 != tt.expectedVideo {
				t.Errorf("expected video %q, got %q", tt.expectedVideo, result.VideoBase64)
			}
			if result.Error != tt.expectedError {
				t.Errorf("expected error %q, got %q", tt.expectedError, result.Error)
			}
		})
	}
}

func TestPoll_Timing(t *testing.T) {
	setTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"job-1","status":"COMPLETED","delayTime":250,"executionTime":41234,"output":{"video":"dmlkZW8=","num_frames":8,"fps":4}}`))
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint", WithBaseURL(server.URL))

	result, err := client.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExecutionTime != 41234*time.Millisecond {
		t.Errorf("expected executionTime 41.234s, got %v", result.ExecutionTime)
	}
	if result.DelayTime != 250*time.Millisecond {
		t.Errorf("expected delayTime 250ms, got %v", result.DelayTime)
	}
	if result.NumFrames != 8 || result.FPS != 4 {
		t.Errorf("expected 8 frames at 4 fps, got %d at %d", result.NumFrames, result.FPS)
	}
}

func TestPoll_EmptyJobID(t *testing.T) {
	setTestEnv(t)

	client, _ := NewClient("test-endpoint")

	_, err := client.Poll(context.Background(), "")
	if !errors.Is(err, ErrJobIDRequired) {
		t.Errorf("expected ErrJobIDRequired, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	setTestEnv(t)

	var called atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/test-endpoint/cancel/job-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		called.Store(true)
		_ = json.NewEncoder(w).Encode(cancelResponse{ID: "job-1", Status: "CANCELLED"})
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint", WithBaseURL(server.URL))

	if err := client.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called.Load() {
		t.Error("expected cancel endpoint to be called")
	}
	if err := client.Cancel(context.Background(), ""); !errors.Is(err, ErrJobIDRequired) {
		t.Errorf("expected ErrJobIDRequired, got %v", err)
	}
}

func TestRetry_TransientFailure(t *testing.T) {
	setTestEnv(t)

	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&attempts, 1)
		if count < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("service unavailable"))
			return
		}
		_ = json.NewEncoder(w).Encode(statusResponse{ID: "job-1", Status: "COMPLETED"})
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint",
		WithBaseURL(server.URL),
		WithMaxRetries(3),
		WithBaseBackoff(10*time.Millisecond),
	)

	result, err := client.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %v", result.Status)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	setTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("service unavailable"))
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint",
		WithBaseURL(server.URL),
		WithMaxRetries(2),
		WithBaseBackoff(10*time.Millisecond),
	)

	_, err := client.Poll(context.Background(), "job-1")
	if err == nil {
		t.Fatal("expected error after max retries exceeded")
	}
	if !IsRetryable(err) {
		t.Errorf("expected exhausted retries to stay classified as transient, got %v", err)
	}
	if !errors.Is(err, ErrServerError) {
		t.Errorf("expected ErrServerError in chain, got %v", err)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	setTestEnv(t)

	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("unauthorized"))
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint",
		WithBaseURL(server.URL),
		WithMaxRetries(3),
		WithBaseBackoff(10*time.Millisecond),
	)

	_, err := client.Poll(context.Background(), "job-1")
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("expected ErrRequestFailed, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("expected 401 to be non-retryable")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("expected 1 attempt (no retries for 401), got %d", attempts)
	}
}

func TestRetry_RateLimited(t *testing.T) {
	setTestEnv(t)

	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&attempts, 1)
		if count < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("rate limited"))
			return
		}
		_ = json.NewEncoder(w).Encode(statusResponse{ID: "job-1", Status: "IN_QUEUE"})
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint",
		WithBaseURL(server.URL),
		WithMaxRetries(3),
		WithBaseBackoff(10*time.Millisecond),
	)

	result, err := client.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusInQueue {
		t.Errorf("expected IN_QUEUE, got %v", result.Status)
	}
}

func TestWithHTTPClient(t *testing.T) {
	setTestEnv(t)

	customClient := &http.Client{Timeout: 60 * time.Second}
	client, err := NewClient("test-endpoint", WithHTTPClient(customClient))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.httpClient != customClient {
		t.Error("expected custom HTTP client to be set")
	}
}

func TestRetry_HonorsRetryAfter(t *testing.T) {
	setTestEnv(t)

	var (
		attempts int32
		first    time.Time
		second   time.Time
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			first = time.Now()
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		second = time.Now()
		_ = json.NewEncoder(w).Encode(statusResponse{ID: "job-1", Status: "IN_PROGRESS"})
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint",
		WithBaseURL(server.URL),
		WithMaxRetries(1),
		WithBaseBackoff(time.Millisecond),
	)

	result, err := client.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %v", result.Status)
	}
	if gap := second.Sub(first); gap < 900*time.Millisecond {
		t.Errorf("retry came after %v, want at least the 1s Retry-After", gap)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	setTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint",
		WithBaseURL(server.URL),
		WithMaxRetries(5),
		WithBaseBackoff(10*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Poll(ctx, "job-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("backoff ignored cancellation, took %v", elapsed)
	}
}

func TestErrorBodyIsTruncated(t *testing.T) {
	setTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint", WithBaseURL(server.URL))

	_, err := client.Poll(context.Background(), "job-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(err.Error()) > maxErrorBody+200 {
		t.Errorf("error message not truncated: %d bytes", len(err.Error()))
	}
}

func TestRetryAfterParsing(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{" 2 ", 2 * time.Second},
		{"-1", 0},
		{"soon", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		if got := retryAfter(tt.in); got != tt.want {
			t.Errorf("retryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
