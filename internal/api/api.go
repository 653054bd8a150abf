package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gathertown/grapevine/internal/chat"
	"github.com/gathertown/grapevine/internal/models"
	"github.com/gathertown/grapevine/internal/router"
	"github.com/gathertown/grapevine/internal/store"
	"github.com/gathertown/grapevine/internal/triage"
)

// eventTimeout bounds the background processing of one inbound event.
const eventTimeout = 5 * time.Minute

// Server provides the REST API handlers.
type Server struct {
	store  store.Store
	router *router.Router
	triage *triage.Engine
	logger *slog.Logger
}

// NewServer creates a new API server.
func NewServer(s store.Store, rt *router.Router, tr *triage.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: s, router: rt, triage: tr, logger: logger}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/events", s.ingestEvent)

	mux.HandleFunc("GET /api/v1/tenants", s.listTenants)
	mux.HandleFunc("POST /api/v1/tenants", s.createTenant)
	mux.HandleFunc("GET /api/v1/tenants/{id}", s.getTenant)
	mux.HandleFunc("PUT /api/v1/tenants/{id}", s.updateTenant)

	mux.HandleFunc("POST /api/v1/triage", s.runTriage)

	mux.HandleFunc("GET /api/v1/actions", s.listActions)
	mux.HandleFunc("GET /api/v1/actions/{id}", s.getAction)
	mux.HandleFunc("POST /api/v1/actions/{id}/confirm", s.confirmAction)
	mux.HandleFunc("DELETE /api/v1/actions/{id}", s.cancelAction)

	mux.HandleFunc("DELETE /api/v1/tickets/{id}", s.deleteTicket)

	mux.HandleFunc("GET /api/v1/healthz", s.healthz)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(err error) int {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"):
		return http.StatusNotFound
	case strings.Contains(msg, "already executed"):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// --- Events ---

// ingestEvent accepts one message event and processes it asynchronously.
// The messaging platform retries on slow acknowledgements, so the handler
// returns before any LLM work starts.
func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var ev chat.MessageEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if ev.TenantID == "" || ev.ChannelID == "" || ev.TS == "" {
		writeError(w, http.StatusBadRequest, "tenant_id, channel_id and ts are required")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		if err := s.router.Route(ctx, ev); err != nil {
			s.logger.Error("event processing failed",
				"tenant", ev.TenantID, "channel", ev.ChannelID, "ts", ev.TS, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// --- Tenants ---

func (s *Server) listTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.store.ListTenants(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tenants)
}

func (s *Server) createTenant(w http.ResponseWriter, r *http.Request) {
	var t models.Tenant
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if t.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.store.CreateTenant(r.Context(), &t); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) getTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.store.GetTenant(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func (s *Server) updateTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.store.GetTenant(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if err := json.NewDecoder(r.Body).Decode(tenant); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	tenant.ID = r.PathValue("id")
	if err := s.store.UpdateTenant(r.Context(), tenant); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// --- Triage ---

type triageRequest struct {
	TenantID    string           `json:"tenant_id"`
	ChannelID   string           `json:"channel_id"`
	ThreadTS    string           `json:"thread_ts"`
	ExplicitRef string           `json:"explicit_ref"`
	Mode        string           `json:"mode"`
	Messages    []models.Message `json:"messages"`
}

type triageResponse struct {
	Operation *models.LinearOperation `json:"operation"`
	Result    *models.ExecutionResult `json:"result,omitempty"`
}

// runTriage runs the triage workflow over a posted transcript. Mode defaults
// to the tenant's configured mode.
func (s *Server) runTriage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TenantID == "" || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "tenant_id and messages are required")
		return
	}
	tenant, err := s.store.GetTenant(r.Context(), req.TenantID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	mode := tenant.TriageMode
	if req.Mode != "" {
		mode = models.TriageMode(req.Mode)
	}
	if mode != models.ModeProactive && mode != models.ModeNonProactive {
		writeError(w, http.StatusBadRequest, "invalid mode")
		return
	}

	op, result, err := s.triage.Run(r.Context(), triage.Conversation{
		TenantID:    tenant.ID,
		ChannelID:   req.ChannelID,
		ThreadTS:    req.ThreadTS,
		Messages:    req.Messages,
		ExplicitRef: req.ExplicitRef,
	}, mode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, triageResponse{Operation: op, Result: result})
}

// --- Pending actions ---

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	filter := store.PendingActionFilter{
		TenantID:        r.URL.Query().Get("tenant_id"),
		IncludeExecuted: r.URL.Query().Get("include_executed") == "true",
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	actions, err := s.store.ListPendingActions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

func (s *Server) getAction(w http.ResponseWriter, r *http.Request) {
	action, err := s.store.GetPendingAction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) confirmAction(w http.ResponseWriter, r *http.Request) {
	result, err := s.triage.ConfirmAction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) cancelAction(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeletePendingAction(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// --- Tickets ---

func (s *Server) deleteTicket(w http.ResponseWriter, r *http.Request) {
	ok, err := s.triage.DeleteTicket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "ticket not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Health ---

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ListTenants(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
