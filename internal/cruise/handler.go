package cruise

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rextempo/LiqPro-AI-sub007/internal/agent"
)

// Handler serves the Cruise Control API.
type Handler struct {
	sched *Scheduler
}

// NewHandler creates a Handler for the given scheduler.
func NewHandler(sched *Scheduler) *Handler {
	return &Handler{sched: sched}
}

// Routes returns the Control API router, meant to be mounted at /cruise.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.getStatus)
	r.Get("/metrics", h.getMetrics)
	r.Get("/metrics/{agentID}", h.getAgentMetrics)
	r.Post("/agents", h.registerAgent)
	r.Get("/agents/{agentID}", h.getAgent)
	r.Delete("/agents/{agentID}", h.unregisterAgent)
	r.Post("/agents/{agentID}/events", h.postAgentEvent)
	r.Post("/agents/{agentID}/health-check", h.triggerHealthCheck)
	r.Post("/agents/{agentID}/optimize", h.triggerOptimization)
	return r
}

// envelope is the uniform response shape: {success, data|error, message?}.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("cruise: write response failed", slog.String("error", err.Error()))
	}
}

// writeError maps scheduler and validation errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotRegistered):
		status = http.StatusNotFound
	case errors.Is(err, ErrNotRunning), errors.Is(err, ErrBusy),
		errors.Is(err, agent.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, agent.ErrValidation):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, envelope{Success: false, Error: err.Error()})
}

func parseAgentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "agentID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid agent id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: h.sched.Status()})
}

func (h *Handler) getMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: h.sched.Metrics()})
}

func (h *Handler) getAgentMetrics(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	snap, err := h.sched.AgentMetrics(agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: snap})
}

func (h *Handler) registerAgent(w http.ResponseWriter, r *http.Request) {
	var cfg agent.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
		return
	}
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	m, err := h.sched.Register(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: agent.Snapshot{
		Config: m.Config(),
		Status: m.Status(),
	}})
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	detail, err := h.sched.AgentDetail(agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: detail})
}

func (h *Handler) unregisterAgent(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	if err := h.sched.Unregister(r.Context(), agentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "agent unregistered"})
}

func (h *Handler) postAgentEvent(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	var body struct {
		Event agent.Event `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Event == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
		return
	}

	if err := h.sched.HandleAgentEvent(r.Context(), agentID, body.Event); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "event applied"})
}

func (h *Handler) triggerHealthCheck(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	if err := h.sched.TriggerHealthCheck(r.Context(), agentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "health check completed"})
}

func (h *Handler) triggerOptimization(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	if err := h.sched.TriggerOptimization(r.Context(), agentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "optimization completed"})
}
