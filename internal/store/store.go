// Package store persists users and readings in Postgres and exposes the
// narrow query surface the correlation engine needs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"vitalink/internal/models"
)

// KeySlot selects which of a user's two device-key hashes an operation
// targets.
type KeySlot string

const (
	SlotIoT     KeySlot = "api_key_hash"     // general IoT devices
	SlotEmotion KeySlot = "emotion_key_hash" // browser camera inference
)

// ReadingStore is the persistence surface consumed by the correlation
// engine. Find methods return (nil, nil) when no row matches.
type ReadingStore interface {
	FindByCorrelation(ctx context.Context, userID int, correlationID string) (*models.Reading, error)
	FindMergeCandidate(ctx context.Context, userID int, ts time.Time, window time.Duration, source string) (*models.Reading, error)
	Insert(ctx context.Context, r *models.Reading) error
	Update(ctx context.Context, r *models.Reading) error
}

// UserStore resolves and maintains user identities and their key hashes.
type UserStore interface {
	UserByKeyHash(ctx context.Context, hash string) (*models.User, error)
	UpsertUserBySubject(ctx context.Context, subject string) (*models.User, error)
	RotateKey(ctx context.Context, userID int, slot KeySlot, hash string) error
}

// Postgres implements ReadingStore and UserStore over sqlx.
type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

const readingColumns = `id, user_id, timestamp, heart_rate, spo2, emotion, confidence, stress_score, source, device_id, correlation_id, created_at, updated_at`

// FindByCorrelation returns the user's reading carrying the given
// correlation id, if any. At most one exists per user (unique index).
func (p *Postgres) FindByCorrelation(ctx context.Context, userID int, correlationID string) (*models.Reading, error) {
	var r models.Reading
	err := p.db.GetContext(ctx, &r,
		`SELECT `+readingColumns+` FROM data_points WHERE user_id=$1 AND correlation_id=$2`,
		userID, correlationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by correlation: %w", err)
	}
	return &r, nil
}

// FindMergeCandidate returns the most recent reading for the user within
// ±window of ts whose source set does not already contain the incoming tag.
// Source tags are stored comma-joined, so membership is checked against the
// padded list.
func (p *Postgres) FindMergeCandidate(ctx context.Context, userID int, ts time.Time, window time.Duration, source string) (*models.Reading, error) {
	var r models.Reading
	err := p.db.GetContext(ctx, &r,
		`SELECT `+readingColumns+` FROM data_points
		 WHERE user_id=$1 AND timestamp BETWEEN $2 AND $3
		   AND position(','||$4||',' in ','||source||',') = 0
		 ORDER BY timestamp DESC LIMIT 1`,
		userID, ts.Add(-window), ts.Add(window), source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find merge candidate: %w", err)
	}
	return &r, nil
}

func (p *Postgres) Insert(ctx context.Context, r *models.Reading) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO data_points (id, user_id, timestamp, heart_rate, spo2, emotion, confidence, stress_score, source, device_id, correlation_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.UserID, r.Timestamp, r.HeartRate, r.SpO2, r.Emotion, r.Confidence, r.StressScore, r.Source, r.DeviceID, r.CorrelationID)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// Update rewrites one row in a single statement, so a merge's field updates
// are all-or-nothing for that row.
func (p *Postgres) Update(ctx context.Context, r *models.Reading) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE data_points SET timestamp=$2, heart_rate=$3, spo2=$4, emotion=$5, confidence=$6, stress_score=$7, source=$8, device_id=$9, correlation_id=$10, updated_at=NOW()
		 WHERE id=$1`,
		r.ID, r.Timestamp, r.HeartRate, r.SpO2, r.Emotion, r.Confidence, r.StressScore, r.Source, r.DeviceID, r.CorrelationID)
	if err != nil {
		return fmt.Errorf("update reading: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update reading: row %s gone", r.ID)
	}
	return nil
}

// Latest returns up to limit of the user's most recent readings,
// oldest-first. With emotionOnly set, rows without an emotion are skipped.
func (p *Postgres) Latest(ctx context.Context, userID, limit int, emotionOnly bool) ([]models.Reading, error) {
	q := `SELECT ` + readingColumns + ` FROM data_points WHERE user_id=$1`
	if emotionOnly {
		q += ` AND emotion IS NOT NULL`
	}
	q += ` ORDER BY timestamp DESC LIMIT $2`

	var rows []models.Reading
	if err := p.db.SelectContext(ctx, &rows, q, userID, limit); err != nil {
		return nil, fmt.Errorf("latest readings: %w", err)
	}
	// Query is newest-first for the limit; callers chart oldest-first.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// UserByKeyHash resolves a device-key hash against both slots.
func (p *Postgres) UserByKeyHash(ctx context.Context, hash string) (*models.User, error) {
	var u models.User
	err := p.db.GetContext(ctx, &u,
		`SELECT id, subject, email, api_key_hash, emotion_key_hash, created_at FROM users
		 WHERE api_key_hash=$1 OR emotion_key_hash=$1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user by key hash: %w", err)
	}
	return &u, nil
}

// UpsertUserBySubject creates the user row on first authenticated
// interaction and returns it either way.
func (p *Postgres) UpsertUserBySubject(ctx context.Context, subject string) (*models.User, error) {
	var u models.User
	err := p.db.GetContext(ctx, &u,
		`INSERT INTO users (subject, email) VALUES ($1, $1 || '@placeholder.local')
		 ON CONFLICT (subject) DO UPDATE SET subject = EXCLUDED.subject
		 RETURNING id, subject, email, api_key_hash, emotion_key_hash, created_at`, subject)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &u, nil
}

// RotateKey overwrites the slot's hash. The previous key stops resolving the
// moment this commits.
func (p *Postgres) RotateKey(ctx context.Context, userID int, slot KeySlot, hash string) error {
	if slot != SlotIoT && slot != SlotEmotion {
		return fmt.Errorf("rotate key: unknown slot %q", slot)
	}
	// slot is one of two fixed column names, never caller input.
	res, err := p.db.ExecContext(ctx,
		`UPDATE users SET `+string(slot)+`=$2 WHERE id=$1`, userID, hash)
	if err != nil {
		return fmt.Errorf("rotate key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rotate key: user %d not found", userID)
	}
	return nil
}
