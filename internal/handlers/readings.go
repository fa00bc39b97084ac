package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"vitalink/internal/engine"
	mw "vitalink/internal/middleware"
	"vitalink/internal/models"
	"vitalink/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// ReadingLister is the readback slice of the store.
type ReadingLister interface {
	Latest(ctx context.Context, userID, limit int, emotionOnly bool) ([]models.Reading, error)
}

type ReadingsHandler struct {
	readings ReadingLister
	users    store.UserStore
	engine   Ingester
	logger   *zap.Logger
}

func NewReadingsHandler(readings ReadingLister, users store.UserStore, eng Ingester, logger *zap.Logger) *ReadingsHandler {
	return &ReadingsHandler{readings: readings, users: users, engine: eng, logger: logger}
}

func parseLimit(r *http.Request) int {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

func (h *ReadingsHandler) list(w http.ResponseWriter, r *http.Request, emotionOnly bool) {
	subject := mw.Subject(r.Context())

	user, err := h.users.UpsertUserBySubject(r.Context(), subject)
	if err != nil {
		h.logger.Error("user upsert failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage_error", "could not resolve user")
		return
	}

	rows, err := h.readings.Latest(r.Context(), user.ID, parseLimit(r), emotionOnly)
	if err != nil {
		h.logger.Error("readback failed", zap.Int("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage_error", "could not fetch readings")
		return
	}
	if rows == nil {
		rows = []models.Reading{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// LatestEmotions returns the user's recent emotion-bearing readings,
// oldest-first, for the dashboard chart.
func (h *ReadingsHandler) LatestEmotions(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

// List returns the user's recent readings of any kind, oldest-first.
func (h *ReadingsHandler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

type simulateRequest struct {
	HeartRate *float64 `json:"heartRate"`
	SpO2      *float64 `json:"spO2"`
	Emotion   *string  `json:"emotion"`
}

// Simulate lets an authenticated dashboard user inject a manual reading,
// routed through the same correlation path as device traffic.
func (h *ReadingsHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	subject := mw.Subject(r.Context())

	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_input", "body is not valid JSON")
		return
	}
	if req.HeartRate == nil && req.SpO2 == nil && req.Emotion == nil {
		writeError(w, http.StatusBadRequest, "malformed_input", "provide at least one field")
		return
	}

	user, err := h.users.UpsertUserBySubject(r.Context(), subject)
	if err != nil {
		h.logger.Error("user upsert failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage_error", "could not resolve user")
		return
	}

	src := "simulate"
	p := engine.Partial{
		HeartRate: req.HeartRate,
		SpO2:      req.SpO2,
		Emotion:   req.Emotion,
		Source:    &src,
	}

	ih := IngestHandler{engine: h.engine, logger: h.logger}
	res, err := h.engine.Ingest(r.Context(), user, p)
	ih.respond(w, user, res, err)
}
