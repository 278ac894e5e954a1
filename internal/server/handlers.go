package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-brain/internal/db"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/engine"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

const (
	maxBodyBytes     = 1 << 20
	defaultPageLimit = 20
	maxPageLimit     = 200
)

// registerHandlers registers HTTP handlers
func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	var ask http.Handler = http.HandlerFunc(s.handleAsk)
	if s.limiter != nil {
		ask = s.limiter.Middleware(ask)
	}
	mux.Handle("POST /v1/ask", ask)
	mux.HandleFunc("GET /v1/intents", s.handleIntents)
	mux.HandleFunc("GET /v1/responses", s.handleListResponses)
	mux.HandleFunc("GET /v1/responses/{id}", s.handleGetResponse)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady fails while the archive is configured but unreachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleAsk runs one question. With ?persist=true the response is archived
// before it is returned.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req types.AskRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "malformed_question")
		return
	}

	q, err := engine.QuestionFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), engine.ErrorCode(err))
		return
	}

	resp, err := s.brain.Ask(r.Context(), q)
	if err != nil {
		if engine.IsInputError(err) {
			writeError(w, http.StatusBadRequest, err.Error(), engine.ErrorCode(err))
			return
		}
		s.logger.Error("ask failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}

	if persist, _ := strconv.ParseBool(r.URL.Query().Get("persist")); persist {
		if err := s.brain.Save(r.Context(), q, resp); err != nil {
			if errors.Is(err, engine.ErrNoStore) {
				writeError(w, http.StatusServiceUnavailable, err.Error(), "archive_unavailable")
				return
			}
			s.logger.Error("persist response failed",
				zap.String("evidence_id", resp.Evidence.EvidenceID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error(), "internal")
			return
		}
	}

	s.logger.Info("question answered",
		zap.String("evidence_id", resp.Evidence.EvidenceID),
		zap.String("intent", resp.Evidence.Intent),
		zap.String("band", string(resp.Confidence.Band)),
		zap.String("escalation", string(resp.Confidence.Escalation)),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"intents": s.brain.Intents()})
}

func (s *Server) handleListResponses(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer", "bad_request")
		return
	}
	limit = min(limit, maxPageLimit)
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer", "bad_request")
		return
	}

	records, err := s.brain.ListResponses(r.Context(), limit, offset)
	if err != nil {
		s.archiveError(w, err)
		return
	}
	if records == nil {
		records = []*db.ResponseRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"responses": records,
		"limit":     limit,
		"offset":    offset,
	})
}

func (s *Server) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	resp, err := s.brain.GetResponse(r.Context(), r.PathValue("id"))
	if err != nil {
		s.archiveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) archiveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNoStore):
		writeError(w, http.StatusServiceUnavailable, err.Error(), "archive_unavailable")
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "not_found")
	default:
		s.logger.Error("archive read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
