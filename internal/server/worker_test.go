package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/wan-ti2v-api/internal/generation"
	"github.com/maauso/wan-ti2v-api/internal/handler"
	"github.com/maauso/wan-ti2v-api/internal/inference"
)

// stubEncoder writes a fixed payload instead of running ffmpeg.
type stubEncoder struct {
	frames int
}

func (e *stubEncoder) EncodeFrames(_ context.Context, frames []image.Image, _ int, dst string) error {
	e.frames = len(frames)
	return os.WriteFile(dst, []byte("stub mp4"), 0600)
}

func (e *stubEncoder) ProbeFrameCount(context.Context, string) (int, error) {
	return e.frames, nil
}

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error { return p.err }

func newWorkerRouter(t *testing.T, opts ...WorkerOption) (http.Handler, *int) {
	t.Helper()

	calls := 0
	pipeline := inference.PipelineFunc(func(_ context.Context, img image.Image, params inference.Params) ([]image.Image, error) {
		calls++
		frames := make([]image.Image, params.NumFrames)
		for i := range frames {
			frames[i] = img
		}
		return frames, nil
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hd, err := handler.New(pipeline, &stubEncoder{}, handler.WithLogger(logger), handler.WithTempDir(t.TempDir()))
	require.NoError(t, err)

	opts = append([]WorkerOption{WithMemoryFunc(func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 16 << 30, Available: 8 << 30, UsedPercent: 50}, nil
	})}, opts...)

	return NewWorkerRouter(NewWorkerHandlers(hd, logger, opts...), logger, DefaultConfig()), &calls
}

func postRun(t *testing.T, h http.Handler, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWorkerRun_Success(t *testing.T) {
	router, calls := newWorkerRouter(t)

	png, err := generation.SolidPNG(512, 512, color.RGBA{B: 200, A: 255})
	require.NoError(t, err)
	body, err := json.Marshal(handler.Event{
		ID: "evt-1",
		Input: generation.Input{
			Image:     base64.StdEncoding.EncodeToString(png),
			Prompt:    "a calm lake",
			NumFrames: 8,
			FPS:       4,
		},
	})
	require.NoError(t, err)

	rec := postRun(t, router, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "evt-1", resp.ID)
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Empty(t, resp.Error)
	assert.Equal(t, handler.StatusSuccess, resp.Output.Status)
	assert.Equal(t, 8, resp.Output.NumFrames)
	assert.Equal(t, 8, resp.Output.FramesProduced)
	assert.Equal(t, 4, resp.Output.FPS)
	assert.Equal(t, "a calm lake", resp.Output.Prompt)

	video, err := base64.StdEncoding.DecodeString(resp.Output.Video)
	require.NoError(t, err)
	assert.Equal(t, []byte("stub mp4"), video)
	assert.Equal(t, 1, *calls)
}

func TestWorkerRun_MissingImage(t *testing.T) {
	router, calls := newWorkerRouter(t)

	rec := postRun(t, router, []byte(`{"input":{"prompt":"no image"}}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "FAILED", resp.Status)
	assert.Contains(t, resp.Error, "image")
	assert.Equal(t, handler.KindValidation, resp.Output.ErrorKind)
	assert.Empty(t, resp.Output.Video)
	assert.Zero(t, *calls)
}

func TestWorkerRun_InvalidJSON(t *testing.T) {
	router, _ := newWorkerRouter(t)

	rec := postRun(t, router, []byte(`{"input":`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "INVALID_JSON", resp.Code)
}

func TestWorkerHealth(t *testing.T) {
	t.Run("pipeline reachable", func(t *testing.T) {
		router, _ := newWorkerRouter(t, WithPinger(stubPinger{}, inference.DefaultModelID))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp WorkerHealthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "ok", resp.Pipeline)
		assert.Equal(t, inference.DefaultModelID, resp.ModelID)
		require.NotNil(t, resp.Memory)
		assert.Equal(t, uint64(16<<30), resp.Memory.TotalBytes)
		assert.InDelta(t, 50.0, resp.Memory.UsedPercent, 0.001)
	})

	t.Run("pipeline unreachable", func(t *testing.T) {
		router, _ := newWorkerRouter(t, WithPinger(stubPinger{err: errors.New("connection refused")}, "m"))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp WorkerHealthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "unreachable", resp.Pipeline)
	})

	t.Run("no pinger configured", func(t *testing.T) {
		router, _ := newWorkerRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp WorkerHealthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "unchecked", resp.Pipeline)
	})
}
