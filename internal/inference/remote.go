package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"
)

// Static errors for the remote pipeline.
var (
	// ErrPipelineURLRequired is returned when no model server URL is configured.
	ErrPipelineURLRequired = errors.New("inference: pipeline URL is required")
	// ErrGenerateFailed is returned when the model server rejects a generation.
	ErrGenerateFailed = errors.New("inference: generate failed")
	// ErrNoFramesReturned is returned when the model server returns no frames.
	ErrNoFramesReturned = errors.New("inference: no frames returned")
	// ErrUnhealthy is returned when the model server health check fails.
	ErrUnhealthy = errors.New("inference: model server unhealthy")
)

type generateRequest struct {
	Image     string `json:"image"`
	Prompt    string `json:"prompt"`
	NumFrames int    `json:"num_frames"`
	ModelID   string `json:"model_id"`
}

type generateResponse struct {
	Frames []string `json:"frames"`
	Error  string   `json:"error,omitempty"`
}

// RemotePipeline calls a model server over HTTP. The server owns the GPU,
// the weights and their loading strategy.
type RemotePipeline struct {
	baseURL    string
	modelID    string
	httpClient *http.Client
}

// Compile-time check that RemotePipeline implements Pipeline.
var _ Pipeline = (*RemotePipeline)(nil)

// RemoteOption is a function that configures a RemotePipeline.
type RemoteOption func(*RemotePipeline)

// WithModelID sets the model the server should run. Empty keeps the default.
func WithModelID(id string) RemoteOption {
	return func(p *RemotePipeline) {
		if id != "" {
			p.modelID = id
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(p *RemotePipeline) {
		p.httpClient = c
	}
}

// NewRemotePipeline creates a pipeline backed by the model server at baseURL.
func NewRemotePipeline(baseURL string, opts ...RemoteOption) (*RemotePipeline, error) {
	if baseURL == "" {
		return nil, ErrPipelineURLRequired
	}

	p := &RemotePipeline{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		modelID: DefaultModelID,
		// Inference of a few seconds of video can take minutes.
		httpClient: &http.Client{Timeout: 15 * time.Minute},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// ModelID returns the model the pipeline requests.
func (p *RemotePipeline) ModelID() string {
	return p.modelID
}

// Generate sends img as PNG to the model server and decodes the returned frames.
func (p *RemotePipeline) Generate(ctx context.Context, img image.Image, params Params) ([]image.Image, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("inference: encode input image: %w", err)
	}

	body, err := json.Marshal(generateRequest{
		Image:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		Prompt:    params.Prompt,
		NumFrames: params.NumFrames,
		ModelID:   p.modelID,
	})
	if err != nil {
		return nil, fmt.Errorf("inference: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inference: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("inference: read response: %w", err)
	}

	var out generateResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if json.Unmarshal(respBody, &out) == nil && out.Error != "" {
			return nil, fmt.Errorf("%w with status %d: %s", ErrGenerateFailed, resp.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("%w with status %d: %s", ErrGenerateFailed, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("inference: unmarshal response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrGenerateFailed, out.Error)
	}
	if len(out.Frames) == 0 {
		return nil, ErrNoFramesReturned
	}

	frames := make([]image.Image, 0, len(out.Frames))
	for i, f := range out.Frames {
		frame, err := decodeFrame(f)
		if err != nil {
			return nil, fmt.Errorf("inference: decode frame %d: %w", i, err)
		}
		frames = append(frames, frame)
	}

	return frames, nil
}

// Ping checks that the model server answers its health endpoint.
func (p *RemotePipeline) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("inference: create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

func decodeFrame(b64 string) (image.Image, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(data))
}
