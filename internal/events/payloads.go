package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Segment is one speaker turn in a transcript. Times are seconds from call
// start; EndTime >= StartTime.
type Segment struct {
	Speaker    string  `json:"speaker"`
	StartTime  float64 `json:"startTime"`
	EndTime    float64 `json:"endTime"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcription is the payload of a CallTranscribed event.
type Transcription struct {
	CallID    string    `json:"callId"`
	FullText  string    `json:"fullText"`
	Language  string    `json:"language,omitempty"`
	WordCount int       `json:"wordCount,omitempty"`
	Segments  []Segment `json:"segments"`
}

// CallEnd returns the end time of the last segment, in seconds.
func (t *Transcription) CallEnd() float64 {
	var end float64
	for _, s := range t.Segments {
		if s.EndTime > end {
			end = s.EndTime
		}
	}
	return end
}

// SentimentSegment is the sentiment label for one time slice of the call.
type SentimentSegment struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Sentiment string  `json:"sentiment"`
	Score     float64 `json:"score"`
}

// Sentiment is the payload of a SentimentAnalyzed event.
type Sentiment struct {
	CallID             string             `json:"callId"`
	OverallSentiment   string             `json:"overallSentiment"`
	SentimentScore     float64            `json:"sentimentScore,omitempty"`
	EscalationDetected bool               `json:"escalationDetected"`
	SegmentSentiments  []SentimentSegment `json:"segmentSentiments"`
}

// VoiceInsight is the payload of a VocAnalyzed event.
type VoiceInsight struct {
	CallID               string           `json:"callId"`
	PrimaryIntent        string           `json:"primaryIntent"`
	Topics               []string         `json:"topics,omitempty"`
	Keywords             []string         `json:"keywords,omitempty"`
	CustomerSatisfaction string           `json:"customerSatisfaction"`
	PredictedChurnRisk   float64          `json:"predictedChurnRisk"`
	ActionableItems      []map[string]any `json:"actionableItems,omitempty"`
	RootCause            string           `json:"rootCause,omitempty"`
	Summary              string           `json:"summary,omitempty"`
}

// DecodeTranscription extracts and validates a Transcription payload.
func DecodeTranscription(e Envelope) (*Transcription, error) {
	var t Transcription
	if err := json.Unmarshal(e.Payload, &t); err != nil {
		return nil, fmt.Errorf("decode transcription payload: %w", err)
	}
	if t.CallID == "" {
		return nil, fmt.Errorf("transcription missing callId")
	}
	if len(t.Segments) == 0 {
		return nil, fmt.Errorf("transcription for call %s has no segments", t.CallID)
	}
	return &t, nil
}

// DecodeSentiment extracts and validates a Sentiment payload.
func DecodeSentiment(e Envelope) (*Sentiment, error) {
	var s Sentiment
	if err := json.Unmarshal(e.Payload, &s); err != nil {
		return nil, fmt.Errorf("decode sentiment payload: %w", err)
	}
	if s.CallID == "" {
		return nil, fmt.Errorf("sentiment missing callId")
	}
	return &s, nil
}

// DecodeVoiceInsight extracts and validates a VoiceInsight payload.
func DecodeVoiceInsight(e Envelope) (*VoiceInsight, error) {
	var v VoiceInsight
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return nil, fmt.Errorf("decode voc payload: %w", err)
	}
	if v.CallID == "" {
		return nil, fmt.Errorf("voc insight missing callId")
	}
	return &v, nil
}

// QualityMetrics carries the three sub-scores in a CallAudited payload.
type QualityMetrics struct {
	ScriptAdherence         int `json:"scriptAdherence"`
	CustomerService         int `json:"customerService"`
	ResolutionEffectiveness int `json:"resolutionEffectiveness"`
}

// ViolationInfo is the violation summary carried downstream.
type ViolationInfo struct {
	RuleID          string   `json:"ruleId"`
	RuleName        string   `json:"ruleName"`
	Severity        string   `json:"severity"`
	Description     string   `json:"description"`
	Evidence        string   `json:"evidence,omitempty"`
	TimestampInCall *float64 `json:"timestampInCall,omitempty"`
}

// AuditPayload is the payload of a CallAudited event.
type AuditPayload struct {
	CallID           string          `json:"callId"`
	OverallScore     int             `json:"overallScore"`
	ComplianceStatus string          `json:"complianceStatus"`
	QualityMetrics   QualityMetrics  `json:"qualityMetrics"`
	FlagsForReview   bool            `json:"flagsForReview"`
	ReviewReason     string          `json:"reviewReason,omitempty"`
	Violations       []ViolationInfo `json:"violations"`
	ProcessingTimeMs int             `json:"processingTimeMs"`
}

// NewCallAudited wraps an audit payload in the standard envelope, keyed and
// correlated by call ID.
func NewCallAudited(p AuditPayload) (Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal audit payload: %w", err)
	}
	return Envelope{
		EventID:       uuid.New().String(),
		EventType:     TypeCallAudited,
		AggregateID:   p.CallID,
		AggregateType: "Call",
		Timestamp:     time.Now().UTC(),
		Version:       1,
		CorrelationID: p.CallID,
		Metadata:      map[string]any{"service": "audit-service"},
		Payload:       raw,
	}, nil
}
