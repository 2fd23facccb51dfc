package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maauso/wan-ti2v-api/internal/generation"
)

// DefaultBaseURL is the RunPod serverless API root.
const DefaultBaseURL = "https://api.runpod.ai/v2"

// Static errors for RunPod client operations.
var (
	// ErrEndpointIDRequired is returned when the endpoint ID is not provided.
	ErrEndpointIDRequired = errors.New("runpod: endpoint ID is required")
	// ErrAPIKeyNotSet is returned when the RUNPOD_API_KEY environment variable is not set.
	ErrAPIKeyNotSet = errors.New("runpod: RUNPOD_API_KEY environment variable is not set")
	// ErrJobIDRequired is returned when the job ID is not provided.
	ErrJobIDRequired = errors.New("runpod: job ID is required")
	// ErrNoJobIDReturned is returned when the submit response contains no job ID.
	ErrNoJobIDReturned = errors.New("runpod: submit failed: no job ID returned")
	// ErrSubmitFailed is returned when the submit operation fails.
	ErrSubmitFailed = errors.New("runpod: submit failed")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("runpod: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("runpod: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("runpod: request failed")
)

// Client defines the interface for interacting with the RunPod API.
type Client interface {
	// Submit sends a generation job to RunPod and returns the job ID.
	Submit(ctx context.Context, input generation.Input) (jobID string, err error)

	// Poll checks the status of a job and returns the result.
	Poll(ctx context.Context, jobID string) (PollResult, error)

	// Cancel asks RunPod to cancel a queued or running job.
	Cancel(ctx context.Context, jobID string) error
}

// HTTPClient is the HTTP implementation of the RunPod Client interface.
type HTTPClient struct {
	apiKey      string
	endpointID  string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the RunPod API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		if url != "" {
			hc.baseURL = url
		}
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		if n >= 0 {
			hc.maxRetries = n
		}
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		if d > 0 {
			hc.baseBackoff = d
		}
	}
}

// NewClient creates a new RunPod HTTP client.
// The API key can be set via the WithAPIKey option. If not provided,
// it is read from the environment variable RUNPOD_API_KEY.
// The endpoint ID must be provided.
func NewClient(endpointID string, opts ...ClientOption) (*HTTPClient, error) {
	if endpointID == "" {
		return nil, ErrEndpointIDRequired
	}

	c := &HTTPClient{
		endpointID:  endpointID,
		baseURL:     DefaultBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("RUNPOD_API_KEY")
	}

	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// Submit sends a generation job to RunPod and returns the job ID.
func (c *HTTPClient) Submit(ctx context.Context, input generation.Input) (string, error) {
	bodyBytes, err := json.Marshal(runRequest{Input: input})
	if err != nil {
		return "", fmt.Errorf("runpod: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/run", c.baseURL, c.endpointID)

	var resp runResponse
	if err := c.call(ctx, http.MethodPost, url, bodyBytes, &resp); err != nil {
		return "", err
	}

	if resp.ID == "" {
		if resp.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrSubmitFailed, resp.Error)
		}
		return "", ErrNoJobIDReturned
	}

	return resp.ID, nil
}

// Poll checks the status of a job and returns the result.
// A COMPLETED job whose worker output carries an error is reported as FAILED.
func (c *HTTPClient) Poll(ctx context.Context, jobID string) (PollResult, error) {
	if jobID == "" {
		return PollResult{}, ErrJobIDRequired
	}

	url := fmt.Sprintf("%s/%s/status/%s", c.baseURL, c.endpointID, jobID)

	var resp statusResponse
	if err := c.call(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return PollResult{}, err
	}

	result := PollResult{
		Status:        Status(resp.Status),
		DelayTime:     time.Duration(resp.DelayTime) * time.Millisecond,
		ExecutionTime: time.Duration(resp.ExecutionTime) * time.Millisecond,
	}

	switch result.Status {
	case StatusCompleted:
		if resp.Output.Error != "" {
			result.Status = StatusFailed
			result.Error = resp.Output.Error
			break
		}
		result.VideoBase64 = resp.Output.Video
		result.NumFrames = resp.Output.NumFrames
		result.FPS = resp.Output.FPS
	case StatusFailed, StatusCancelled, StatusTimedOut:
		result.Error = resp.Error
		if result.Error == "" {
			result.Error = resp.Output.Error
		}
	}

	return result, nil
}

// Cancel asks RunPod to cancel a job. Cancelling a job that already reached
// a terminal state is not an error.
func (c *HTTPClient) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return ErrJobIDRequired
	}

	url := fmt.Sprintf("%s/%s/cancel/%s", c.baseURL, c.endpointID, jobID)

	var resp cancelResponse
	return c.call(ctx, http.MethodPost, url, nil, &resp)
}

// maxBackoff caps the exponential delay between attempts.
const maxBackoff = 30 * time.Second

// maxErrorBody bounds how much of an error response ends up in error text.
const maxErrorBody = 512

// call sends one API request, retrying transient failures with exponential
// backoff. A Retry-After hint from the server takes precedence over the
// computed delay.
func (c *HTTPClient) call(ctx context.Context, method, url string, body []byte, out any) error {
	delay := c.baseBackoff
	var err error

	for attempt := 0; ; attempt++ {
		err = c.send(ctx, method, url, body, out)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt >= c.maxRetries {
			break
		}

		wait := delay
		var re *retryableError
		if errors.As(err, &re) && re.after > 0 {
			wait = re.after
		}
		wait = min(wait, maxBackoff)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("runpod: %s %s: %w", method, url, ctx.Err())
		case <-t.C:
		}
		delay = min(delay*2, maxBackoff)
	}

	return fmt.Errorf("runpod: giving up after %d attempts: %w", c.maxRetries+1, err)
}

// send performs a single request and decodes a 2xx JSON body into out.
func (c *HTTPClient) send(ctx context.Context, method, url string, body []byte, out any) error {
	var payload io.Reader
	if body != nil {
		payload = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return fmt.Errorf("runpod: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("runpod: %s %s: %w", method, url, ctx.Err())
		}
		return &retryableError{err: fmt.Errorf("runpod: transport: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("runpod: read response: %w", err)}
	}

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return &retryableError{
			err:   fmt.Errorf("%w: %s", ErrRateLimited, snippet(data)),
			after: retryAfter(resp.Header.Get("Retry-After")),
		}
	case code >= 500:
		return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, code, snippet(data))}
	case code < 200 || code >= 300:
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, code, snippet(data))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("runpod: decode response: %w", err)
	}
	return nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func snippet(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err   error
	after time.Duration // server-provided delay, 0 if none
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// IsRetryable reports whether err is a transient transport failure
// (connection error, 5xx, 429), including after retries were exhausted.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
