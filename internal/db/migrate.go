package db

import (
	"context"

	"github.com/jmoiron/sqlx"
)

func RunMigrations(db *sqlx.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
    id SERIAL PRIMARY KEY,
    subject TEXT UNIQUE NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    api_key_hash TEXT UNIQUE,
    emotion_key_hash TEXT UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS data_points (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    heart_rate INTEGER CHECK (heart_rate > 0 AND heart_rate < 250),
    spo2 DOUBLE PRECISION CHECK (spo2 > 50 AND spo2 <= 100),
    emotion TEXT CHECK (emotion IN ('HAPPY','NEUTRAL','SAD','ANGRY','STRESSED')),
    confidence DOUBLE PRECISION,
    stress_score INTEGER,
    source TEXT NOT NULL DEFAULT '',
    device_id TEXT,
    correlation_id TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_data_points_user_ts ON data_points (user_id, timestamp DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_data_points_user_corr ON data_points (user_id, correlation_id) WHERE correlation_id IS NOT NULL;
`
	_, err := db.ExecContext(context.Background(), schema)
	return err
}
