package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/maauso/wan-ti2v-api/internal/handler"
	"github.com/maauso/wan-ti2v-api/internal/runpod"
)

// Pinger checks that the model server is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemoryFunc reports host memory. mem.VirtualMemoryWithContext satisfies it.
type MemoryFunc func(ctx context.Context) (*mem.VirtualMemoryStat, error)

// WorkerHandlers contains the HTTP handlers for the inference worker.
type WorkerHandlers struct {
	handler *handler.Handler
	pinger  Pinger
	modelID string
	memory  MemoryFunc
	logger  *slog.Logger
}

// WorkerOption configures WorkerHandlers.
type WorkerOption func(*WorkerHandlers)

// WithPinger sets the model server health check used by /health.
func WithPinger(p Pinger, modelID string) WorkerOption {
	return func(h *WorkerHandlers) {
		h.pinger = p
		h.modelID = modelID
	}
}

// WithMemoryFunc overrides the host memory probe.
func WithMemoryFunc(f MemoryFunc) WorkerOption {
	return func(h *WorkerHandlers) {
		h.memory = f
	}
}

// NewWorkerHandlers creates the worker handlers around an inference handler.
func NewWorkerHandlers(hd *handler.Handler, logger *slog.Logger, opts ...WorkerOption) *WorkerHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &WorkerHandlers{
		handler: hd,
		memory:  mem.VirtualMemoryWithContext,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run handles POST /run: it executes one job event synchronously.
// Generation failures are reported in the body with status FAILED, not as
// HTTP errors, so the queue records them as job failures.
func (h *WorkerHandlers) Run(w http.ResponseWriter, r *http.Request) {
	var ev handler.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.logger.Warn("failed to decode event body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	start := time.Now()
	out := h.handler.Handle(r.Context(), ev)

	resp := RunResponse{
		ID:            ev.ID,
		Status:        string(runpod.StatusCompleted),
		Output:        out,
		ExecutionTime: time.Since(start).Milliseconds(),
	}
	if out.Failed() {
		resp.Status = string(runpod.StatusFailed)
		resp.Error = out.Error
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health. It reports 503 when the model server is down.
func (h *WorkerHandlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := WorkerHealthResponse{
		Status:   "ok",
		ModelID:  h.modelID,
		Pipeline: "unchecked",
	}
	status := http.StatusOK

	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.Warn("model server health check failed", slog.String("error", err.Error()))
			resp.Status = "degraded"
			resp.Pipeline = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Pipeline = "ok"
		}
	}

	if h.memory != nil {
		if vm, err := h.memory(r.Context()); err != nil {
			h.logger.Debug("memory stats unavailable", slog.String("error", err.Error()))
		} else {
			resp.Memory = &MemoryStats{
				TotalBytes:     vm.Total,
				AvailableBytes: vm.Available,
				UsedPercent:    vm.UsedPercent,
			}
		}
	}

	writeJSON(w, status, resp)
}
