package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/callaudit/audit-service/internal/rules"
)

func skipWithoutDB(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	return url
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	url := skipWithoutDB(t)
	ctx := context.Background()
	s, err := New(ctx, url)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(callID string) AuditRecord {
	return AuditRecord{
		ID:                      uuid.New().String(),
		CallID:                  callID,
		OverallScore:            82,
		ComplianceStatus:        "passed",
		ScriptAdherence:         67,
		CustomerService:         90,
		ResolutionEffectiveness: 90,
		ProcessingTimeMs:        12,
	}
}

func TestIntegration_SaveAndGetAudit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	callID := "int-call-" + time.Now().Format("20060102150405.000")
	ts := 12.5
	violations := []rules.Violation{{
		RuleID:          "int-rule-1",
		RuleName:        "integration rule",
		Severity:        rules.SeverityMedium,
		Description:     "Required keyword not found: disclosure",
		Evidence:        "No matching keywords in agent segments",
		TimestampInCall: &ts,
	}}

	rec := testRecord(callID)
	if err := s.SaveAudit(ctx, rec, violations); err != nil {
		t.Fatalf("save audit: %v", err)
	}

	got, err := s.GetAuditByCall(ctx, callID)
	if err != nil {
		t.Fatalf("get audit: %v", err)
	}
	if got["callId"] != callID {
		t.Errorf("callId = %v, want %s", got["callId"], callID)
	}
	if got["overallScore"] != 82 {
		t.Errorf("overallScore = %v, want 82", got["overallScore"])
	}

	vs, err := s.GetViolationsByCall(ctx, callID)
	if err != nil {
		t.Fatalf("get violations: %v", err)
	}
	if len(vs) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(vs))
	}
	if vs[0]["ruleId"] != "int-rule-1" {
		t.Errorf("ruleId = %v, want int-rule-1", vs[0]["ruleId"])
	}
	if vs[0]["timestampInCall"] != 12.5 {
		t.Errorf("timestampInCall = %v, want 12.5", vs[0]["timestampInCall"])
	}
}

func TestIntegration_SaveAudit_DuplicateCallRejected(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	callID := "int-dup-" + time.Now().Format("20060102150405.000")

	if err := s.SaveAudit(ctx, testRecord(callID), nil); err != nil {
		t.Fatalf("first save: %v", err)
	}

	err := s.SaveAudit(ctx, testRecord(callID), nil)
	if !errors.Is(err, ErrDuplicateAudit) {
		t.Errorf("expected ErrDuplicateAudit, got %v", err)
	}
}

func TestIntegration_QueryAuditsAndReport(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	callID := "int-query-" + time.Now().Format("20060102150405.000")
	rec := testRecord(callID)
	rec.ComplianceStatus = "failed"
	rec.FlagsForReview = true
	rec.ReviewReason = "Low overall score: 42"
	rec.OverallScore = 42
	if err := s.SaveAudit(ctx, rec, nil); err != nil {
		t.Fatalf("save audit: %v", err)
	}

	flagged := true
	results, err := s.QueryAudits(ctx, "failed", &flagged, 10)
	if err != nil {
		t.Fatalf("query audits: %v", err)
	}
	found := false
	for _, r := range results {
		if r["callId"] == callID {
			found = true
			if r["reviewReason"] != "Low overall score: 42" {
				t.Errorf("reviewReason = %v", r["reviewReason"])
			}
		}
	}
	if !found {
		t.Error("flagged failed audit missing from query results")
	}

	report, err := s.Report(ctx, nil, nil)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report["totalCalls"].(int64) < 1 {
		t.Errorf("totalCalls = %v, want >= 1", report["totalCalls"])
	}
}

func TestIntegration_ListActiveRules(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rs, err := s.ListActiveRules(ctx)
	if err != nil {
		t.Fatalf("list active rules: %v", err)
	}
	for _, r := range rs {
		if !r.IsActive {
			t.Errorf("rule %s is inactive but was returned", r.ID)
		}
		if !r.Severity.Valid() {
			t.Errorf("rule %s has invalid severity %q", r.ID, r.Severity)
		}
		var doc any
		if err := json.Unmarshal(r.Definition, &doc); err != nil {
			t.Errorf("rule %s definition is not valid JSON: %v", r.ID, err)
		}
	}
}
