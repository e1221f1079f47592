// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface: ingestion, read-only state
// snapshots, lap histories, stored results and the operational
// endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/apexgrid/pitwall/internal/app"
	"github.com/apexgrid/pitwall/internal/log"
	"github.com/apexgrid/pitwall/internal/model"
)

// Server carries the handler dependencies.
type Server struct {
	manager *app.Manager
	logger  zerolog.Logger

	snapshotRateLimit int
}

// NewServer builds the API server on top of the event manager.
func NewServer(manager *app.Manager, snapshotRateLimit int) *Server {
	return &Server{
		manager:           manager,
		logger:            log.WithComponent("api"),
		snapshotRateLimit: snapshotRateLimit,
	}
}

// Router assembles the chi router with the middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/events/{eventID}", func(r chi.Router) {
		r.Post("/messages", s.handlePostMessage)
		r.Post("/cars/{carNumber}/penalty", s.handlePostPenalty)

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(s.snapshotRateLimit, time.Minute))
			r.Get("/snapshot", s.handleGetSnapshot)
			r.Get("/laps/{carNumber}", s.handleGetLaps)
			r.Get("/sessions/{sessionID}/result", s.handleGetResult)
		})
	})
	return r
}

// rateLimit is a per-IP sliding window limiter with a JSON 429 body.
func rateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var msg model.TimingMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode message: %w", err))
		return
	}
	if msg.Type == "" {
		writeError(w, http.StatusBadRequest, errors.New("message type must not be empty"))
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if err := s.manager.Post(r.Context(), eventID, msg); err != nil {
		s.logger.Error().Err(err).
			Int(log.FieldEventID, eventID).
			Str(log.FieldMessageType, msg.Type).
			Msg("message processing failed")
		writeError(w, http.StatusInternalServerError, errors.New("message processing failed"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type penaltyRequest struct {
	Laps     int `json:"laps"`
	Warnings int `json:"warnings"`
}

func (s *Server) handlePostPenalty(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	carNumber := chi.URLParam(r, "carNumber")
	if carNumber == "" {
		writeError(w, http.StatusBadRequest, errors.New("car number must not be empty"))
		return
	}
	var req penaltyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode penalty: %w", err))
		return
	}
	if req.Laps < 0 || req.Warnings < 0 {
		writeError(w, http.StatusBadRequest, errors.New("penalty values must not be negative"))
		return
	}
	coord, err := s.manager.Coordinator(eventID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	coord.SetPenalty(carNumber, req.Laps, req.Warnings)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	coord, err := s.manager.Coordinator(eventID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, coord.Session().Snapshot())
}

func (s *Server) handleGetLaps(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	carNumber := chi.URLParam(r, "carNumber")
	laps, err := s.manager.History(eventID).GetLaps(r.Context(), carNumber)
	if err != nil {
		s.logger.Error().Err(err).
			Int(log.FieldEventID, eventID).
			Str(log.FieldCarNumber, carNumber).
			Msg("lap history read failed")
		writeError(w, http.StatusInternalServerError, errors.New("lap history unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, laps)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sessionID, err := strconv.Atoi(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("session id: %w", err))
		return
	}
	result, err := s.manager.Store().GetSessionResult(r.Context(), eventID, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("result read failed"))
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, errors.New("no result for session"))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func eventIDParam(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "eventID"))
	if err != nil {
		return 0, fmt.Errorf("event id: %w", err)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
