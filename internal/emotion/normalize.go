// Package emotion maps raw classifier labels onto the canonical category set.
package emotion

import (
	"strings"

	"vitalink/internal/models"
)

// labelTable maps lower-cased vendor labels (DeepFace, face-api and friends)
// onto canonical categories. Fear/disgust/surprise all read as stress for our
// purposes.
var labelTable = map[string]models.Emotion{
	"happy":     models.EmotionHappy,
	"neutral":   models.EmotionNeutral,
	"sad":       models.EmotionSad,
	"angry":     models.EmotionAngry,
	"stressed":  models.EmotionStressed,
	"stress":    models.EmotionStressed,
	"fear":      models.EmotionStressed,
	"fearful":   models.EmotionStressed,
	"disgust":   models.EmotionStressed,
	"disgusted": models.EmotionStressed,
	"surprise":  models.EmotionStressed,
	"surprised": models.EmotionStressed,
}

// Normalize maps a raw label onto a canonical category, case-insensitively.
// Unknown or empty labels return ok=false; the caller decides whether
// no-opinion is acceptable. Never fails.
func Normalize(raw string) (models.Emotion, bool) {
	e, ok := labelTable[strings.ToLower(strings.TrimSpace(raw))]
	return e, ok
}

// NormalizeOrStressed is the forced-default variant used by the single-source
// camera pipeline, where an unrecognized label is scored as stress rather
// than discarded. The correlation path uses Normalize instead so it never
// manufactures an alarm-level reading out of a bogus label.
func NormalizeOrStressed(raw string) models.Emotion {
	if e, ok := Normalize(raw); ok {
		return e
	}
	return models.EmotionStressed
}

var scoreTable = map[models.Emotion]int{
	models.EmotionHappy:    20,
	models.EmotionNeutral:  40,
	models.EmotionSad:      65,
	models.EmotionAngry:    75,
	models.EmotionStressed: 85,
}

// Score returns the stress score associated with a canonical category.
func Score(e models.Emotion) int {
	if s, ok := scoreTable[e]; ok {
		return s
	}
	return 50
}
