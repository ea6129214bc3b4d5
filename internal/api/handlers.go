package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/weftlabs/meshbond/internal/mesh"
	"github.com/weftlabs/meshbond/internal/platform"
	"github.com/weftlabs/meshbond/internal/quality"
)

// Engine is the surface the handlers need from the mesh manager.
type Engine interface {
	Status() mesh.Status
	Stats() quality.Report
	ManualFailover(from, to string) error
	TestInterface(ctx context.Context, name string, duration time.Duration) (mesh.TestResult, error)
	SetInterfaceAdmin(name string, up bool) error
}

// NewMux builds the route table over the engine.
func NewMux(log *slog.Logger, engine Engine) *http.ServeMux {
	h := &handlers{log: log, engine: engine}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.serveHealth)
	mux.HandleFunc("GET /status", h.serveStatus)
	mux.HandleFunc("GET /stats", h.serveStats)
	mux.HandleFunc("POST /failover", h.serveFailover)
	mux.HandleFunc("POST /test", h.serveTest)
	mux.HandleFunc("POST /interface", h.serveInterface)
	return mux
}

type handlers struct {
	log    *slog.Logger
	engine Engine
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("api: failed to encode response", "error", err)
	}
}

func (h *handlers) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *handlers) serveHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) serveStatus(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Status())
}

func (h *handlers) serveStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

// FailoverRequest is the body of POST /failover.
type FailoverRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (h *handlers) serveFailover(w http.ResponseWriter, r *http.Request) {
	var req FailoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.From == "" || req.To == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("from and to are required"))
		return
	}
	if err := h.engine.ManualFailover(req.From, req.To); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"primary": req.To})
}

// TestRequest is the body of POST /test.
type TestRequest struct {
	Interface string `json:"interface"`
	DurationS int    `json:"duration_s"`
}

func (h *handlers) serveTest(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Interface == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("interface is required"))
		return
	}

	result, err := h.engine.TestInterface(r.Context(), req.Interface, time.Duration(req.DurationS)*time.Second)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, platform.ErrUnavailableInterface) {
			status = http.StatusNotFound
		}
		h.writeError(w, status, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// InterfaceRequest is the body of POST /interface.
type InterfaceRequest struct {
	Name string `json:"name"`
	Up   bool   `json:"up"`
}

func (h *handlers) serveInterface(w http.ResponseWriter, r *http.Request) {
	var req InterfaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	if err := h.engine.SetInterfaceAdmin(req.Name, req.Up); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, platform.ErrUnavailableInterface) {
			status = http.StatusNotFound
		}
		h.writeError(w, status, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"name": req.Name, "up": req.Up})
}
