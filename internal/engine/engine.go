// Package engine decides, for each incoming reading, whether it continues an
// existing observation window or starts a new one, merges partial fields, and
// republishes the result to live subscribers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vitalink/internal/config"
	"vitalink/internal/emotion"
	"vitalink/internal/models"
	"vitalink/internal/store"
)

// ErrOutOfRange is returned under the reject validation policy when a
// numeric field is outside its physiological bounds.
var ErrOutOfRange = errors.New("value out of physiological range")

// Publisher receives every created or merged reading. Implementations must
// never block the ingestion path; errors are theirs to swallow.
type Publisher interface {
	Publish(v any)
}

// Partial is one incoming reading. Everything is optional; whatever is
// present gets merged.
type Partial struct {
	HeartRate     *float64
	SpO2          *float64
	Emotion       *string
	Confidence    *float64
	Timestamp     *time.Time
	DeviceID      *string
	CorrelationID *string
	Source        *string
}

// Result reports what Ingest did with a reading.
type Result struct {
	Reading *models.Reading
	Merged  bool
}

// Event is the envelope pushed to live subscribers. It carries the user's
// external identity reference, never the internal row id, so clients can
// filter without a privileged lookup.
type Event struct {
	Type   string   `json:"type"`
	UserID string   `json:"userId"`
	Row    EventRow `json:"row"`
}

type EventRow struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	HeartRate   *int            `json:"heartRate"`
	SpO2        *float64        `json:"spO2"`
	Emotion     *models.Emotion `json:"emotion"`
	StressScore *int            `json:"stressScore"`
}

// Engine correlates readings per user and applies the field-level merge
// policy. The store's read-decide-write sequence is serialized per user, so
// two near-simultaneous readings for one user cannot both miss each other
// and create duplicate rows.
type Engine struct {
	readings store.ReadingStore
	pub      Publisher
	logger   *zap.Logger

	window time.Duration
	policy config.ValidationPolicy

	mu    sync.Mutex
	locks map[int]*sync.Mutex

	now func() time.Time
}

func New(readings store.ReadingStore, pub Publisher, logger *zap.Logger, window time.Duration, policy config.ValidationPolicy) *Engine {
	return &Engine{
		readings: readings,
		pub:      pub,
		logger:   logger,
		window:   window,
		policy:   policy,
		locks:    make(map[int]*sync.Mutex),
		now:      time.Now,
	}
}

func (e *Engine) userLock(userID int) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	return l
}

// Ingest normalizes, correlates and persists one reading for the user, then
// publishes the resulting row. Store failures propagate to the caller;
// publish failures never do.
func (e *Engine) Ingest(ctx context.Context, user *models.User, in Partial) (Result, error) {
	ts := e.now().UTC()
	if in.Timestamp != nil {
		ts = in.Timestamp.UTC()
	}

	hr, spo2, err := e.validate(in, user.ID)
	if err != nil {
		return Result{}, err
	}

	var em *models.Emotion
	if in.Emotion != nil {
		if norm, ok := emotion.Normalize(*in.Emotion); ok {
			em = &norm
		}
	}

	source := ""
	if in.Source != nil {
		source = strings.TrimSpace(*in.Source)
	}
	if source == "" {
		if hr != nil || spo2 != nil {
			source = "iot"
		} else {
			source = "camera"
		}
	}

	lock := e.userLock(user.ID)
	lock.Lock()
	defer lock.Unlock()

	target, err := e.findTarget(ctx, user.ID, in.CorrelationID, ts, source)
	if err != nil {
		return Result{}, err
	}

	if target != nil {
		e.merge(target, in, hr, spo2, em, ts, source)
		if err := e.readings.Update(ctx, target); err != nil {
			return Result{}, err
		}
		e.logger.Info("reading merged",
			zap.String("id", target.ID),
			zap.Int("user_id", user.ID),
			zap.String("source", target.Source))
		e.publish(user, target)
		return Result{Reading: target, Merged: true}, nil
	}

	row := &models.Reading{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		Timestamp:     ts,
		HeartRate:     hr,
		SpO2:          spo2,
		Emotion:       em,
		Confidence:    in.Confidence,
		Source:        source,
		DeviceID:      in.DeviceID,
		CorrelationID: in.CorrelationID,
	}
	if em != nil {
		s := emotion.Score(*em)
		row.StressScore = &s
	}
	if err := e.readings.Insert(ctx, row); err != nil {
		return Result{}, err
	}
	e.logger.Info("reading created",
		zap.String("id", row.ID),
		zap.Int("user_id", user.ID),
		zap.String("source", row.Source))
	e.publish(user, row)
	return Result{Reading: row}, nil
}

// findTarget applies the merge-target search in strict priority order:
// correlation id first (authoritative pairing), then the most recent
// different-source reading inside the merge window.
func (e *Engine) findTarget(ctx context.Context, userID int, correlationID *string, ts time.Time, source string) (*models.Reading, error) {
	if correlationID != nil && *correlationID != "" {
		r, err := e.readings.FindByCorrelation(ctx, userID, *correlationID)
		if err != nil || r != nil {
			return r, err
		}
	}
	return e.readings.FindMergeCandidate(ctx, userID, ts, e.window, source)
}

func (e *Engine) validate(in Partial, userID int) (hr *int, spo2 *float64, err error) {
	if in.HeartRate != nil {
		v := int(*in.HeartRate + 0.5)
		if v > models.HeartRateMin && v < models.HeartRateMax {
			hr = &v
		} else if e.policy == config.PolicyReject {
			return nil, nil, fmt.Errorf("heartRate %d: %w", v, ErrOutOfRange)
		} else {
			e.logger.Warn("dropping out-of-range heartRate",
				zap.Int("heart_rate", v), zap.Int("user_id", userID))
		}
	}
	if in.SpO2 != nil {
		v := *in.SpO2
		if v > models.SpO2Min && v <= models.SpO2Max {
			spo2 = &v
		} else if e.policy == config.PolicyReject {
			return nil, nil, fmt.Errorf("spO2 %.1f: %w", v, ErrOutOfRange)
		} else {
			e.logger.Warn("dropping out-of-range spO2",
				zap.Float64("spo2", v), zap.Int("user_id", userID))
		}
	}
	return hr, spo2, nil
}

// merge applies the field-level merge policy: present fields overwrite,
// timestamp is latest-wins, source is a set union, and the identity fields
// (deviceId, correlationId) backfill only when previously absent.
func (e *Engine) merge(target *models.Reading, in Partial, hr *int, spo2 *float64, em *models.Emotion, ts time.Time, source string) {
	if ts.After(target.Timestamp) {
		target.Timestamp = ts
	}
	if hr != nil {
		target.HeartRate = hr
	}
	if spo2 != nil {
		target.SpO2 = spo2
	}
	if em != nil {
		target.Emotion = em
		s := emotion.Score(*em)
		target.StressScore = &s
	}
	if in.Confidence != nil {
		target.Confidence = in.Confidence
	}
	if target.DeviceID == nil && in.DeviceID != nil {
		target.DeviceID = in.DeviceID
	}
	if target.CorrelationID == nil && in.CorrelationID != nil {
		target.CorrelationID = in.CorrelationID
	}
	target.Source = unionSources(target.Source, source)
}

// unionSources joins two comma-separated tag lists as a set, preserving
// first-seen order, so repeated merges never accumulate duplicate tags.
func unionSources(stored, incoming string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, tag := range strings.Split(stored+","+incoming, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return strings.Join(out, ",")
}

func (e *Engine) publish(user *models.User, row *models.Reading) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(Event{
		Type:   "emotion",
		UserID: user.Subject,
		Row: EventRow{
			ID:          row.ID,
			Timestamp:   row.Timestamp,
			HeartRate:   row.HeartRate,
			SpO2:        row.SpO2,
			Emotion:     row.Emotion,
			StressScore: row.StressScore,
		},
	})
}
