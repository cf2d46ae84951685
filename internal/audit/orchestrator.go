package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/callaudit/audit-service/internal/correlator"
	"github.com/callaudit/audit-service/internal/events"
	"github.com/callaudit/audit-service/internal/metrics"
	"github.com/callaudit/audit-service/internal/rules"
	"github.com/callaudit/audit-service/internal/scoring"
	"github.com/callaudit/audit-service/internal/store"
)

// PublishFunc publishes a payload to the bus.
type PublishFunc func(subject string, data []byte) error

// FlaggedFunc is an optional hook invoked for verdicts that need attention.
type FlaggedFunc func(ctx context.Context, p events.AuditPayload)

// Orchestrator sequences a completed bundle through rule evaluation, scoring,
// persistence, and downstream publication.
type Orchestrator struct {
	store       store.DataStore
	ruleEngine  *rules.Engine
	scoreEngine *scoring.Engine
	publish     PublishFunc
	onFlagged   FlaggedFunc

	maxAttempts  int
	retryBackoff time.Duration
}

func New(s store.DataStore, re *rules.Engine, se *scoring.Engine, publish PublishFunc, maxAttempts int) *Orchestrator {
	return &Orchestrator{
		store:        s,
		ruleEngine:   re,
		scoreEngine:  se,
		publish:      publish,
		maxAttempts:  maxAttempts,
		retryBackoff: 500 * time.Millisecond,
	}
}

// SetFlaggedHook registers a callback for failed or review-flagged verdicts.
func (o *Orchestrator) SetFlaggedHook(fn FlaggedFunc) {
	o.onFlagged = fn
}

// ProcessBundle audits one completed triple. It satisfies correlator.CompleteFunc.
//
// The bundle is retained here (in the arguments) until persistence succeeds or
// retries are exhausted; the correlator has already forgotten it. A persistence
// conflict means the call was audited by an earlier delivery, and the triple is
// dropped without republishing.
func (o *Orchestrator) ProcessBundle(ctx context.Context, callID string, b correlator.Bundle) {
	start := time.Now()

	activeRules, err := o.store.ListActiveRules(ctx)
	if err != nil {
		// Without a rule snapshot the audit cannot proceed; rely on bus
		// redelivery to rebuild the bundle.
		slog.Error("failed to load rule snapshot, abandoning audit", "call_id", callID, "error", err)
		metrics.AuditsFailed.Inc()
		return
	}

	violations := o.ruleEngine.Evaluate(activeRules, b.Transcript, b.Sentiment)
	scores := o.scoreEngine.Score(b.Transcript, b.Sentiment, b.Insight)
	verdict := o.scoreEngine.Classify(scores, violations, b.Sentiment)

	rec := store.AuditRecord{
		ID:                      uuid.New().String(),
		CallID:                  callID,
		OverallScore:            verdict.Scores.Overall,
		ComplianceStatus:        string(verdict.Status),
		ScriptAdherence:         verdict.Scores.ScriptAdherence,
		CustomerService:         verdict.Scores.CustomerService,
		ResolutionEffectiveness: verdict.Scores.ResolutionEffectiveness,
		FlagsForReview:          verdict.FlagsForReview,
		ReviewReason:            verdict.ReviewReason,
		ProcessingTimeMs:        int(time.Since(start).Milliseconds()),
	}

	if !o.persistWithRetry(ctx, callID, rec, violations) {
		return
	}

	for _, v := range violations {
		metrics.ViolationsDetected.WithLabelValues(string(v.Severity)).Inc()
	}
	metrics.AuditsCompleted.WithLabelValues(rec.ComplianceStatus).Inc()
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())

	payload := buildPayload(rec, violations)
	o.publishVerdict(callID, payload)

	if o.onFlagged != nil && (verdict.Status == scoring.StatusFailed || verdict.FlagsForReview) {
		o.onFlagged(ctx, payload)
	}

	slog.Info("call audited",
		"call_id", callID,
		"overall_score", rec.OverallScore,
		"status", rec.ComplianceStatus,
		"violations", len(violations),
		"flagged", rec.FlagsForReview,
	)
}

// persistWithRetry reports whether the record is durable and the verdict
// should be published.
func (o *Orchestrator) persistWithRetry(ctx context.Context, callID string, rec store.AuditRecord, violations []rules.Violation) bool {
	for attempt := 1; ; attempt++ {
		err := o.store.SaveAudit(ctx, rec, violations)
		if err == nil {
			return true
		}
		if errors.Is(err, store.ErrDuplicateAudit) {
			slog.Info("call already audited, dropping replayed bundle", "call_id", callID)
			return false
		}
		if attempt >= o.maxAttempts {
			slog.Error("persistence failed, audit abandoned",
				"call_id", callID, "attempts", attempt, "error", err)
			metrics.AuditsFailed.Inc()
			return false
		}
		slog.Warn("persistence failed, retrying",
			"call_id", callID, "attempt", attempt, "error", err)

		select {
		case <-time.After(o.retryBackoff * time.Duration(attempt)):
		case <-ctx.Done():
			return false
		}
	}
}

func (o *Orchestrator) publishVerdict(callID string, payload events.AuditPayload) {
	env, err := events.NewCallAudited(payload)
	if err != nil {
		slog.Error("failed to build CallAudited event", "call_id", callID, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("failed to marshal CallAudited event", "call_id", callID, "error", err)
		return
	}

	// The result is already durable; a publish failure only delays downstream
	// delivery, it never re-runs scoring.
	if err := o.publish(events.SubjectAudited, data); err != nil {
		slog.Error("failed to publish CallAudited event", "call_id", callID, "error", err)
		return
	}
	slog.Info("published CallAudited event", "call_id", callID, "subject", events.SubjectAudited)
}

func buildPayload(rec store.AuditRecord, violations []rules.Violation) events.AuditPayload {
	infos := make([]events.ViolationInfo, 0, len(violations))
	for _, v := range violations {
		infos = append(infos, events.ViolationInfo{
			RuleID:          v.RuleID,
			RuleName:        v.RuleName,
			Severity:        string(v.Severity),
			Description:     v.Description,
			Evidence:        v.Evidence,
			TimestampInCall: v.TimestampInCall,
		})
	}
	return events.AuditPayload{
		CallID:           rec.CallID,
		OverallScore:     rec.OverallScore,
		ComplianceStatus: rec.ComplianceStatus,
		QualityMetrics: events.QualityMetrics{
			ScriptAdherence:         rec.ScriptAdherence,
			CustomerService:         rec.CustomerService,
			ResolutionEffectiveness: rec.ResolutionEffectiveness,
		},
		FlagsForReview:   rec.FlagsForReview,
		ReviewReason:     rec.ReviewReason,
		Violations:       infos,
		ProcessingTimeMs: rec.ProcessingTimeMs,
	}
}
