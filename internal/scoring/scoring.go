package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/callaudit/audit-service/internal/events"
	"github.com/callaudit/audit-service/internal/rules"
)

// Status is the compliance classification of an audited call.
type Status string

const (
	StatusPassed         Status = "passed"
	StatusFailed         Status = "failed"
	StatusReviewRequired Status = "review_required"
)

// Weights distributes the overall score across the three sub-scores. Must sum
// to 1.0; enforced by config validation at startup.
type Weights struct {
	Script     float64
	Service    float64
	Resolution float64
}

// Scores holds the three quality sub-scores and their weighted combination,
// each in [0,100].
type Scores struct {
	ScriptAdherence         int
	CustomerService         int
	ResolutionEffectiveness int
	Overall                 int
}

// Verdict is the full quality outcome for one call.
type Verdict struct {
	Scores         Scores
	Status         Status
	FlagsForReview bool
	ReviewReason   string
}

// Engine computes quality scores and classifies verdicts. All methods are
// pure functions of their inputs.
type Engine struct {
	weights         Weights
	passThreshold   int
	reviewThreshold int
}

func NewEngine(w Weights, passThreshold, reviewThreshold int) *Engine {
	return &Engine{
		weights:         w,
		passThreshold:   passThreshold,
		reviewThreshold: reviewThreshold,
	}
}

// Script phrase checklist. A category counts once no matter how many of its
// alternative phrasings appear.
var scriptCategories = [][]string{
	{"hello", "hi", "welcome", "good morning", "good afternoon"},        // greeting
	{"how can i help", "how may i assist"},                              // opening
	{"thank you for calling", "have a great day", "is there anything else"}, // closing
}

var empathyMarkers = []string{"understand", "sorry", "apologize", "appreciate", "help"}

// ScriptAdherence scores how much of the required call script was covered.
func (e *Engine) ScriptAdherence(tr *events.Transcription) int {
	text := strings.ToLower(tr.FullText)

	matched := 0
	for _, category := range scriptCategories {
		for _, phrase := range category {
			if strings.Contains(text, phrase) {
				matched++
				break
			}
		}
	}

	score := int(math.Round(float64(matched) / float64(len(scriptCategories)) * 100))
	return clamp(score)
}

// CustomerService scores the agent's handling of the customer from overall
// sentiment, escalation, and empathy language.
func (e *Engine) CustomerService(tr *events.Transcription, sent *events.Sentiment) int {
	score := 70

	if sent != nil {
		switch strings.ToLower(sent.OverallSentiment) {
		case "positive":
			score += 20
		case "negative":
			score -= 20
		}
		if sent.EscalationDetected {
			score -= 15
		}
	}

	text := strings.ToLower(tr.FullText)
	distinct := 0
	for _, w := range empathyMarkers {
		if strings.Contains(text, w) {
			distinct++
		}
	}
	if distinct >= 3 {
		score += 10
	}

	return clamp(score)
}

// ResolutionEffectiveness scores the outcome of the call from the
// customer-voice insight.
func (e *Engine) ResolutionEffectiveness(voc *events.VoiceInsight) int {
	score := 60
	if voc == nil {
		return score
	}

	switch strings.ToLower(voc.CustomerSatisfaction) {
	case "high":
		score += 30
	case "medium":
		score += 10
	case "low":
		score -= 20
	}

	switch strings.ToLower(voc.PrimaryIntent) {
	case "compliment":
		score += 10
	case "complaint":
		// Recorded actionable items indicate an attempt to resolve.
		if len(voc.ActionableItems) > 0 {
			score += 10
		} else {
			score -= 10
		}
	}

	if voc.PredictedChurnRisk > 0.7 {
		score -= 15
	}

	return clamp(score)
}

// Score computes all sub-scores and the weighted overall score.
func (e *Engine) Score(tr *events.Transcription, sent *events.Sentiment, voc *events.VoiceInsight) Scores {
	s := Scores{
		ScriptAdherence:         e.ScriptAdherence(tr),
		CustomerService:         e.CustomerService(tr, sent),
		ResolutionEffectiveness: e.ResolutionEffectiveness(voc),
	}
	s.Overall = clamp(int(math.Round(
		float64(s.ScriptAdherence)*e.weights.Script +
			float64(s.CustomerService)*e.weights.Service +
			float64(s.ResolutionEffectiveness)*e.weights.Resolution,
	)))
	return s
}

// Classify turns scores plus detected violations into the final verdict.
func (e *Engine) Classify(s Scores, violations []rules.Violation, sent *events.Sentiment) Verdict {
	var critical, high int
	for _, v := range violations {
		switch v.Severity {
		case rules.SeverityCritical:
			critical++
		case rules.SeverityHigh:
			high++
		}
	}

	status := StatusPassed
	switch {
	case critical > 0:
		status = StatusFailed
	case s.Overall < e.reviewThreshold:
		status = StatusFailed
	case s.Overall < e.passThreshold:
		status = StatusReviewRequired
	case high > 0:
		status = StatusReviewRequired
	}

	escalated := sent != nil && sent.EscalationDetected
	flag := s.Overall < e.passThreshold || critical > 0 || high > 0 || escalated

	var reasons []string
	if s.Overall < e.reviewThreshold {
		reasons = append(reasons, fmt.Sprintf("Low overall score: %d", s.Overall))
	}
	if critical > 0 {
		reasons = append(reasons, fmt.Sprintf("%d critical violation(s)", critical))
	}
	if high > 0 {
		reasons = append(reasons, fmt.Sprintf("%d high severity violation(s)", high))
	}
	if escalated {
		reasons = append(reasons, "Customer escalation detected")
	}

	return Verdict{
		Scores:         s,
		Status:         status,
		FlagsForReview: flag,
		ReviewReason:   strings.Join(reasons, "; "),
	}
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
