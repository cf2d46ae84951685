package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Envelope is the shared wire format for every event on the bus. Payload stays
// raw until the subject tells us which payload type to decode.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CausationID   string          `json:"causationId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Normalize fills in missing envelope fields with sensible defaults.
// It never invents a payload; a missing payload is an error.
func Normalize(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, err
	}

	if len(e.Payload) == 0 {
		return Envelope{}, fmt.Errorf("event missing payload")
	}

	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}

	if e.Timestamp.IsZero() {
		slog.Warn("event missing timestamp, using receipt time", "event_id", e.EventID)
		e.Timestamp = time.Now().UTC()
	}

	if e.Version == 0 {
		e.Version = 1
	}

	return e, nil
}

// Event types carried in the envelope.
const (
	TypeCallTranscribed   = "CallTranscribed"
	TypeSentimentAnalyzed = "SentimentAnalyzed"
	TypeVocAnalyzed       = "VocAnalyzed"
	TypeCallAudited       = "CallAudited"
)

// Bus subjects for the audit core.
const (
	SubjectTranscribed = "calls.transcribed"
	SubjectSentiment   = "calls.sentiment-analyzed"
	SubjectVoc         = "calls.voc-analyzed"
	SubjectAudited     = "calls.audited"
	SubjectDLQPrefix   = "calls.dlq."
)
