package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callaudit/audit-service/internal/store"
)

// BundleCounter reports how many correlation bundles are in flight.
type BundleCounter interface {
	Len() int
}

type Server struct {
	store   store.DataStore
	bundles BundleCounter
	router  chi.Router
	port    int
}

func NewServer(s store.DataStore, bundles BundleCounter, port int) *Server {
	srv := &Server{
		store:   s,
		bundles: bundles,
		port:    port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Get("/audits", srv.handleListAudits)
		r.Get("/audits/flagged", srv.handleFlaggedAudits)
		r.Get("/audits/{callID}", srv.handleGetAudit)
		r.Get("/audits/{callID}/violations", srv.handleGetAuditViolations)
		r.Get("/violations", srv.handleListViolations)
		r.Get("/reports", srv.handleReport)
		r.Get("/rules", srv.handleListRules)
		r.Get("/rules/{ruleID}", srv.handleGetRule)
	})
	r.Handle("/metrics", promhttp.Handler())

	srv.router = r
	return srv
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("starting HTTP API", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        "audit-service",
		"pendingBundles": s.bundles.Len(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	result, err := s.store.GetAuditByCall(r.Context(), callID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "audit not found"})
			return
		}
		slog.Error("get audit failed", "call_id", callID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetAuditViolations(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	if _, err := s.store.GetAuditByCall(r.Context(), callID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "audit not found"})
			return
		}
		slog.Error("get audit failed", "call_id", callID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	violations, err := s.store.GetViolationsByCall(r.Context(), callID)
	if err != nil {
		slog.Error("get violations failed", "call_id", callID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if violations == nil {
		violations = []map[string]any{}
	}

	writeJSON(w, http.StatusOK, violations)
}

func (s *Server) handleListAudits(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" {
		switch status {
		case "passed", "failed", "review_required":
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
			return
		}
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	results, err := s.store.QueryAudits(r.Context(), status, nil, limit)
	if err != nil {
		slog.Error("query audits failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleFlaggedAudits(w http.ResponseWriter, r *http.Request) {
	flagged := true
	results, err := s.store.QueryAudits(r.Context(), "", &flagged, 0)
	if err != nil {
		slog.Error("query flagged audits failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleListViolations(w http.ResponseWriter, r *http.Request) {
	ruleID := r.URL.Query().Get("rule_id")
	severity := r.URL.Query().Get("severity")
	if severity != "" {
		switch severity {
		case "critical", "high", "medium", "low":
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid severity"})
			return
		}
	}

	violations, err := s.store.QueryViolations(r.Context(), ruleID, severity)
	if err != nil {
		slog.Error("query violations failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, violations)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	start, ok := parseTimeParam(w, r, "start")
	if !ok {
		return
	}
	end, ok := parseTimeParam(w, r, "end")
	if !ok {
		return
	}

	report, err := s.store.Report(r.Context(), start, end)
	if err != nil {
		slog.Error("report generation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	var active *bool
	if a := r.URL.Query().Get("active"); a != "" {
		b, err := strconv.ParseBool(a)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid active flag"})
			return
		}
		active = &b
	}

	rs, err := s.store.GetRules(r.Context(), active)
	if err != nil {
		slog.Error("query rules failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleID")

	rule, err := s.store.GetRule(r.Context(), ruleID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "rule not found"})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

func parseTimeParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": name + " must be RFC3339"})
		return nil, false
	}
	return &t, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
