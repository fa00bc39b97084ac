package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"vitalink/internal/emotion"
	"vitalink/internal/engine"
	"vitalink/internal/models"
	mw "vitalink/internal/middleware"
)

// Ingester is the slice of the correlation engine the HTTP layer needs.
type Ingester interface {
	Ingest(ctx context.Context, user *models.User, in engine.Partial) (engine.Result, error)
}

type IngestHandler struct {
	engine Ingester
	logger *zap.Logger
}

func NewIngestHandler(eng Ingester, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{engine: eng, logger: logger}
}

type ingestRequest struct {
	HeartRate     *float64   `json:"heartRate"`
	SpO2          *float64   `json:"spO2"`
	Emotion       *string    `json:"emotion"`
	Confidence    *float64   `json:"confidence"`
	Timestamp     *Timestamp `json:"timestamp"`
	DeviceID      *string    `json:"deviceId"`
	CorrelationID *string    `json:"correlationId"`
	Source        *string    `json:"source"`
}

func (req *ingestRequest) partial() engine.Partial {
	p := engine.Partial{
		HeartRate:     req.HeartRate,
		SpO2:          req.SpO2,
		Emotion:       req.Emotion,
		Confidence:    req.Confidence,
		DeviceID:      req.DeviceID,
		CorrelationID: req.CorrelationID,
		Source:        req.Source,
	}
	if req.Timestamp != nil && req.Timestamp.Set {
		t := req.Timestamp.Time
		p.Timestamp = &t
	}
	return p
}

func (h *IngestHandler) respond(w http.ResponseWriter, user *models.User, res engine.Result, err error) {
	if err != nil {
		if errors.Is(err, engine.ErrOutOfRange) {
			writeError(w, http.StatusBadRequest, "out_of_range", err.Error())
			return
		}
		h.logger.Error("ingest failed", zap.Int("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage_error", "could not persist reading")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ok":     true,
		"id":     res.Reading.ID,
		"merged": res.Merged,
	})
}

// Ingest is the unified entry point: any subset of vitals and emotion,
// correlated and merged by the engine.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	user := mw.DeviceUser(r.Context())

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_input", "body is not valid JSON")
		return
	}

	res, err := h.engine.Ingest(r.Context(), user, req.partial())
	h.respond(w, user, res, err)
}

// IngestVitals accepts heart rate and SpO₂ from IoT devices. At least one of
// the two must be present.
func (h *IngestHandler) IngestVitals(w http.ResponseWriter, r *http.Request) {
	user := mw.DeviceUser(r.Context())

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_input", "body is not valid JSON")
		return
	}
	if req.HeartRate == nil && req.SpO2 == nil {
		writeError(w, http.StatusBadRequest, "malformed_input", "provide at least one of heartRate or spO2")
		return
	}

	p := req.partial()
	p.Emotion = nil
	p.Confidence = nil
	if p.Source == nil {
		src := "iot"
		p.Source = &src
	}

	res, err := h.engine.Ingest(r.Context(), user, p)
	h.respond(w, user, res, err)
}

// IngestEmotion accepts the camera pipeline's classification. The raw label
// is required; unrecognized labels score as stress here because a
// single-source confidence pipeline has nothing else to fall back on.
func (h *IngestHandler) IngestEmotion(w http.ResponseWriter, r *http.Request) {
	user := mw.DeviceUser(r.Context())

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_input", "body is not valid JSON")
		return
	}
	if req.Emotion == nil || *req.Emotion == "" {
		writeError(w, http.StatusBadRequest, "malformed_input", "emotion required")
		return
	}

	p := req.partial()
	p.HeartRate = nil
	p.SpO2 = nil
	forced := string(emotion.NormalizeOrStressed(*req.Emotion))
	p.Emotion = &forced
	if p.Source == nil {
		src := "camera"
		p.Source = &src
	}

	res, err := h.engine.Ingest(r.Context(), user, p)
	h.respond(w, user, res, err)
}
