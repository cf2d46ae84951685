package rules

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/callaudit/audit-service/internal/events"
)

// Engine evaluates compliance rules against a joined transcript + sentiment
// pair. Evaluation is pure: no side effects beyond logging, and each rule is
// independent of the others.
type Engine struct {
	responseWindow int
}

// NewEngine creates an Engine. responseWindow is how many following
// speaker-filtered segments a sentiment-response rule inspects.
func NewEngine(responseWindow int) *Engine {
	return &Engine{responseWindow: responseWindow}
}

// Evaluate runs every active rule and returns the violations found. A rule
// whose definition cannot be parsed is logged and skipped; one malformed rule
// never blocks the rest.
func (e *Engine) Evaluate(rs []Rule, tr *events.Transcription, sent *events.Sentiment) []Violation {
	var violations []Violation
	for _, r := range rs {
		if !r.IsActive {
			continue
		}
		v := e.evaluateRule(r, tr, sent)
		if v != nil {
			violations = append(violations, *v)
			slog.Warn("violation detected", "rule_id", r.ID, "rule_name", r.Name, "severity", r.Severity)
		}
	}
	return violations
}

func (e *Engine) evaluateRule(r Rule, tr *events.Transcription, sent *events.Sentiment) *Violation {
	def, err := ParseDefinition(r.Definition)
	if err != nil {
		slog.Warn("skipping rule with bad definition", "rule_id", r.ID, "error", err)
		return nil
	}

	switch d := def.(type) {
	case KeywordCheck:
		return e.evaluateKeywordCheck(r, d, tr)
	case ProhibitedWords:
		return e.evaluateProhibitedWords(r, d, tr)
	case SentimentResponse:
		return e.evaluateSentimentResponse(r, d, tr, sent)
	default:
		slog.Warn("skipping rule with unhandled definition type", "rule_id", r.ID)
		return nil
	}
}

func (e *Engine) evaluateKeywordCheck(r Rule, d KeywordCheck, tr *events.Transcription) *Violation {
	segs := filterBySpeaker(tr.Segments, d.Speaker)
	if d.Window != nil {
		segs = filterByWindow(segs, *d.Window, tr.CallEnd())
	}

	for _, s := range segs {
		if containsAny(s.Text, d.Keywords) {
			return nil
		}
	}

	speaker := d.Speaker
	if speaker == "" {
		speaker = "any"
	}
	return &Violation{
		RuleID:      r.ID,
		RuleName:    r.Name,
		Severity:    r.Severity,
		Description: "Required keyword not found: " + strings.Join(d.Keywords, ", "),
		Evidence:    fmt.Sprintf("No matching keywords in %s segments", speaker),
	}
}

func (e *Engine) evaluateProhibitedWords(r Rule, d ProhibitedWords, tr *events.Transcription) *Violation {
	// First match wins; no point enumerating every occurrence of a word the
	// speaker should never have said once.
	for _, s := range filterBySpeaker(tr.Segments, d.Speaker) {
		text := strings.ToLower(s.Text)
		for _, w := range d.Words {
			if strings.Contains(text, strings.ToLower(w)) {
				ts := s.StartTime
				return &Violation{
					RuleID:          r.ID,
					RuleName:        r.Name,
					Severity:        r.Severity,
					Description:     "Prohibited word detected: " + w,
					Evidence:        s.Text,
					TimestampInCall: &ts,
				}
			}
		}
	}
	return nil
}

func (e *Engine) evaluateSentimentResponse(r Rule, d SentimentResponse, tr *events.Transcription, sent *events.Sentiment) *Violation {
	if sent == nil || len(sent.SegmentSentiments) == 0 {
		return nil
	}

	for _, trig := range sent.SegmentSentiments {
		if !strings.EqualFold(trig.Sentiment, d.TriggerSentiment) {
			continue
		}

		responded := false
		checked := 0
		for _, s := range filterBySpeaker(tr.Segments, d.Speaker) {
			if s.StartTime < trig.EndTime {
				continue
			}
			if containsAny(s.Text, d.RequiredKeywords) {
				responded = true
				break
			}
			checked++
			if checked >= e.responseWindow {
				break
			}
		}

		// Report the first unanswered trigger; one is enough to fail the rule.
		if !responded {
			ts := trig.StartTime
			return &Violation{
				RuleID:          r.ID,
				RuleName:        r.Name,
				Severity:        r.Severity,
				Description:     fmt.Sprintf("No qualifying response after %s sentiment", d.TriggerSentiment),
				Evidence:        fmt.Sprintf("%s sentiment at %.1fs was not followed by any required response keyword", d.TriggerSentiment, trig.StartTime),
				TimestampInCall: &ts,
			}
		}
	}
	return nil
}

func filterBySpeaker(segs []events.Segment, speaker string) []events.Segment {
	if speaker == "" {
		return segs
	}
	var out []events.Segment
	for _, s := range segs {
		if strings.EqualFold(s.Speaker, speaker) {
			out = append(out, s)
		}
	}
	return out
}

// filterByWindow keeps segments whose interval intersects the window. A
// negative bound counts back from the end of the call; a nil or zero end
// means through end of call.
func filterByWindow(segs []events.Segment, w TimeWindow, callEnd float64) []events.Segment {
	start := 0.0
	if w.Start != nil {
		start = *w.Start
		if start < 0 {
			start = callEnd + start
		}
	}
	end := callEnd
	if w.End != nil && *w.End != 0 {
		end = *w.End
		if end < 0 {
			end = callEnd + end
		}
	}

	var out []events.Segment
	for _, s := range segs {
		if s.EndTime >= start && s.StartTime <= end {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
