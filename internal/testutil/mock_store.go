package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/callaudit/audit-service/internal/rules"
	"github.com/callaudit/audit-service/internal/store"
)

// MockStore is a thread-safe in-memory implementation of store.DataStore for
// testing.
type MockStore struct {
	mu sync.Mutex

	Audits     map[string]store.AuditRecord // keyed by call ID
	Violations map[string][]rules.Violation // keyed by audit result ID
	Rules      []rules.Rule

	SaveErr     error
	ListErr     error
	GetErr      error // returned by GetAuditByCall and GetViolationsByCall
	SaveErrOnce bool  // clear SaveErr after the first failed attempt

	SaveCalls int
	ListCalls int
}

func NewMockStore() *MockStore {
	return &MockStore{
		Audits:     make(map[string]store.AuditRecord),
		Violations: make(map[string][]rules.Violation),
	}
}

func (m *MockStore) SaveAudit(_ context.Context, rec store.AuditRecord, violations []rules.Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if m.SaveErr != nil {
		err := m.SaveErr
		if m.SaveErrOnce {
			m.SaveErr = nil
		}
		return err
	}
	if _, exists := m.Audits[rec.CallID]; exists {
		return store.ErrDuplicateAudit
	}
	m.Audits[rec.CallID] = rec
	m.Violations[rec.ID] = append([]rules.Violation(nil), violations...)
	return nil
}

func (m *MockStore) ListActiveRules(_ context.Context) ([]rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var active []rules.Rule
	for _, r := range m.Rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	return active, nil
}

func (m *MockStore) GetAuditByCall(_ context.Context, callID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	rec, ok := m.Audits[callID]
	if !ok {
		return nil, fmt.Errorf("audit for call %s: %w", callID, pgx.ErrNoRows)
	}
	return auditMap(rec), nil
}

func (m *MockStore) GetViolationsByCall(_ context.Context, callID string) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	rec, ok := m.Audits[callID]
	if !ok {
		return nil, fmt.Errorf("audit for call %s: %w", callID, pgx.ErrNoRows)
	}
	return violationMaps(rec.ID, m.Violations[rec.ID]), nil
}

func (m *MockStore) QueryAudits(_ context.Context, status string, flagged *bool, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []map[string]any
	for _, rec := range m.Audits {
		if status != "" && rec.ComplianceStatus != status {
			continue
		}
		if flagged != nil && rec.FlagsForReview != *flagged {
			continue
		}
		results = append(results, auditMap(rec))
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *MockStore) QueryViolations(_ context.Context, ruleID, severity string) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []map[string]any
	for auditID, vs := range m.Violations {
		for _, v := range vs {
			if ruleID != "" && v.RuleID != ruleID {
				continue
			}
			if severity != "" && string(v.Severity) != severity {
				continue
			}
			results = append(results, violationMaps(auditID, []rules.Violation{v})...)
		}
	}
	return results, nil
}

func (m *MockStore) GetRules(_ context.Context, active *bool) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []map[string]any
	for _, r := range m.Rules {
		if active != nil && r.IsActive != *active {
			continue
		}
		results = append(results, map[string]any{
			"id":             r.ID,
			"name":           r.Name,
			"severity":       string(r.Severity),
			"ruleDefinition": r.Definition,
			"isActive":       r.IsActive,
		})
	}
	return results, nil
}

func (m *MockStore) GetRule(_ context.Context, ruleID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Rules {
		if r.ID == ruleID {
			return map[string]any{
				"id":             r.ID,
				"name":           r.Name,
				"severity":       string(r.Severity),
				"ruleDefinition": r.Definition,
				"isActive":       r.IsActive,
			}, nil
		}
	}
	return nil, fmt.Errorf("rule %s not found", ruleID)
}

func (m *MockStore) Report(_ context.Context, _, _ *time.Time) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var passed, failed, review, flagged int64
	var scoreSum int
	for _, rec := range m.Audits {
		switch rec.ComplianceStatus {
		case "passed":
			passed++
		case "failed":
			failed++
		case "review_required":
			review++
		}
		if rec.FlagsForReview {
			flagged++
		}
		scoreSum += rec.OverallScore
	}

	avg := 0.0
	if len(m.Audits) > 0 {
		avg = float64(scoreSum) / float64(len(m.Audits))
	}

	return map[string]any{
		"totalCalls": int64(len(m.Audits)),
		"complianceBreakdown": map[string]any{
			"passed":         passed,
			"failed":         failed,
			"reviewRequired": review,
		},
		"averageScore":     avg,
		"flaggedForReview": flagged,
	}, nil
}

func (m *MockStore) Close() {}

// GetAudit returns the stored record for a call (test helper).
func (m *MockStore) GetAudit(callID string) (store.AuditRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.Audits[callID]
	return rec, ok
}

// GetSaveCalls returns how many times SaveAudit was called.
func (m *MockStore) GetSaveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SaveCalls
}

// AuditCount returns the number of stored audit results.
func (m *MockStore) AuditCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Audits)
}

func auditMap(rec store.AuditRecord) map[string]any {
	result := map[string]any{
		"id":                      rec.ID,
		"callId":                  rec.CallID,
		"overallScore":            rec.OverallScore,
		"complianceStatus":        rec.ComplianceStatus,
		"scriptAdherence":         rec.ScriptAdherence,
		"customerService":         rec.CustomerService,
		"resolutionEffectiveness": rec.ResolutionEffectiveness,
		"flagsForReview":          rec.FlagsForReview,
		"processingTimeMs":        rec.ProcessingTimeMs,
	}
	if rec.ReviewReason != "" {
		result["reviewReason"] = rec.ReviewReason
	}
	return result
}

func violationMaps(auditID string, vs []rules.Violation) []map[string]any {
	var out []map[string]any
	for _, v := range vs {
		mv := map[string]any{
			"auditResultId": auditID,
			"ruleId":        v.RuleID,
			"ruleName":      v.RuleName,
			"severity":      string(v.Severity),
			"description":   v.Description,
		}
		if v.Evidence != "" {
			mv["evidence"] = v.Evidence
		}
		if v.TimestampInCall != nil {
			mv["timestampInCall"] = *v.TimestampInCall
		}
		out = append(out, mv)
	}
	return out
}
