package models

import "time"

// Emotion is one of the five canonical categories the system reasons over.
// Raw vendor labels are mapped onto these before anything is stored.
type Emotion string

const (
	EmotionHappy    Emotion = "HAPPY"
	EmotionNeutral  Emotion = "NEUTRAL"
	EmotionSad      Emotion = "SAD"
	EmotionAngry    Emotion = "ANGRY"
	EmotionStressed Emotion = "STRESSED"
)

// Valid reports whether e is one of the canonical categories.
func (e Emotion) Valid() bool {
	switch e {
	case EmotionHappy, EmotionNeutral, EmotionSad, EmotionAngry, EmotionStressed:
		return true
	}
	return false
}

// Physiological bounds for ingested vitals. Out-of-bounds values are either
// dropped or rejected depending on the configured validation policy.
const (
	HeartRateMin = 0   // exclusive
	HeartRateMax = 250 // exclusive
	SpO2Min      = 50  // exclusive
	SpO2Max      = 100 // inclusive
)

type User struct {
	ID             int       `db:"id" json:"id"`
	Subject        string    `db:"subject" json:"subject"` // external identity provider reference
	Email          string    `db:"email" json:"email"`
	APIKeyHash     *string   `db:"api_key_hash" json:"-"`     // IoT slot, hex SHA-256
	EmotionKeyHash *string   `db:"emotion_key_hash" json:"-"` // camera slot, hex SHA-256
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Reading is one fused observation of a user's vitals and emotion at a point
// in time. Rows are created by the correlation engine and mutated in place
// when a later reading merges into them; they are never deleted by this
// service.
type Reading struct {
	ID            string    `db:"id" json:"id"`
	UserID        int       `db:"user_id" json:"-"`
	Timestamp     time.Time `db:"timestamp" json:"timestamp"` // when observed, not received
	HeartRate     *int      `db:"heart_rate" json:"heartRate,omitempty"`
	SpO2          *float64  `db:"spo2" json:"spO2,omitempty"`
	Emotion       *Emotion  `db:"emotion" json:"emotion,omitempty"`
	Confidence    *float64  `db:"confidence" json:"confidence,omitempty"`
	StressScore   *int      `db:"stress_score" json:"stressScore,omitempty"`
	Source        string    `db:"source" json:"source"` // comma-joined set of producer tags
	DeviceID      *string   `db:"device_id" json:"deviceId,omitempty"`
	CorrelationID *string   `db:"correlation_id" json:"correlationId,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
