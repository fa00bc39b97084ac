package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the machine-readable error body shared by all endpoints.
// Never echoes credential material or raw internal errors.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": msg})
}

// Timestamp accepts either an epoch number or an RFC 3339 string, since the
// producers disagree: wearables send millisecond epochs, the camera pipeline
// sends seconds or ISO strings. Unparseable values leave it unset and the
// engine falls back to ingestion time.
type Timestamp struct {
	time.Time
	Set bool
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		// Heuristic: epochs below ~5000 CE in seconds are seconds.
		if n < 1e11 {
			n *= 1000
		}
		t.Time = time.UnixMilli(int64(n)).UTC()
		t.Set = true
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			t.Time = parsed.UTC()
			t.Set = true
		} else if n, err := strconv.ParseFloat(s, 64); err == nil && n > 0 {
			if n < 1e11 {
				n *= 1000
			}
			t.Time = time.UnixMilli(int64(n)).UTC()
			t.Set = true
		}
	}
	// Unrecognized shapes are tolerated; the reading keeps server time.
	return nil
}
