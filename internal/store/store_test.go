package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalink/internal/models"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(sqlx.NewDb(db, "pgx")), mock
}

var readingCols = []string{
	"id", "user_id", "timestamp", "heart_rate", "spo2", "emotion", "confidence",
	"stress_score", "source", "device_id", "correlation_id", "created_at", "updated_at",
}

func TestFindByCorrelation(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM data_points WHERE user_id=\$1 AND correlation_id=\$2`).
		WithArgs(7, "corr-1").
		WillReturnRows(sqlmock.NewRows(readingCols).
			AddRow("r1", 7, now, 72, nil, "HAPPY", nil, 20, "iot", nil, "corr-1", now, now))

	r, err := st.FindByCorrelation(context.Background(), 7, "corr-1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "r1", r.ID)
	require.NotNil(t, r.Emotion)
	assert.Equal(t, models.EmotionHappy, *r.Emotion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByCorrelationAbsentIsNilNil(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM data_points WHERE user_id=\$1 AND correlation_id=\$2`).
		WithArgs(7, "nope").
		WillReturnRows(sqlmock.NewRows(readingCols))

	r, err := st.FindByCorrelation(context.Background(), 7, "nope")
	require.NoError(t, err)
	assert.Nil(t, r)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindMergeCandidateWindowBounds(t *testing.T) {
	st, mock := newMockStore(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 10 * time.Second

	mock.ExpectQuery(`SELECT .+ FROM data_points\s+WHERE user_id=\$1 AND timestamp BETWEEN \$2 AND \$3`).
		WithArgs(7, ts.Add(-window), ts.Add(window), "iot").
		WillReturnRows(sqlmock.NewRows(readingCols))

	r, err := st.FindMergeCandidate(context.Background(), 7, ts, window, "iot")
	require.NoError(t, err)
	assert.Nil(t, r)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReading(t *testing.T) {
	st, mock := newMockStore(t)
	hr := 72
	corr := "corr-9"

	mock.ExpectExec(`INSERT INTO data_points`).
		WithArgs("r1", 7, sqlmock.AnyArg(), &hr, nil, nil, nil, nil, "iot", nil, &corr).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.Insert(context.Background(), &models.Reading{
		ID:            "r1",
		UserID:        7,
		Timestamp:     time.Now(),
		HeartRate:     &hr,
		Source:        "iot",
		CorrelationID: &corr,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMissingRowFails(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE data_points SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.Update(context.Background(), &models.Reading{ID: "gone"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestReversesToOldestFirst(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM data_points WHERE user_id=\$1 AND emotion IS NOT NULL ORDER BY timestamp DESC LIMIT \$2`).
		WithArgs(7, 50).
		WillReturnRows(sqlmock.NewRows(readingCols).
			AddRow("newest", 7, now, nil, nil, "SAD", nil, 65, "camera", nil, nil, now, now).
			AddRow("oldest", 7, now.Add(-time.Minute), nil, nil, "HAPPY", nil, 20, "camera", nil, nil, now, now))

	rows, err := st.Latest(context.Background(), 7, 50, true)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "oldest", rows[0].ID)
	assert.Equal(t, "newest", rows[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserByKeyHashChecksBothSlots(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM users\s+WHERE api_key_hash=\$1 OR emotion_key_hash=\$1`).
		WithArgs("abc123").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subject", "email", "api_key_hash", "emotion_key_hash", "created_at"}).
			AddRow(7, "user_abc", "user_abc@placeholder.local", "abc123", nil, now))

	u, err := st.UserByKeyHash(context.Background(), "abc123")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "user_abc", u.Subject)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserByKeyHashUnknownIsNilNil(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM users`).
		WithArgs("deadbeef").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subject", "email", "api_key_hash", "emotion_key_hash", "created_at"}))

	u, err := st.UserByKeyHash(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, u)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateKeyTargetsSlotColumn(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE users SET emotion_key_hash=\$2 WHERE id=\$1`).
		WithArgs(7, "newhash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.RotateKey(context.Background(), 7, SlotEmotion, "newhash"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateKeyRejectsUnknownSlot(t *testing.T) {
	st, _ := newMockStore(t)
	err := st.RotateKey(context.Background(), 7, KeySlot("evil; DROP TABLE"), "h")
	require.Error(t, err)
}
