package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/callaudit/audit-service/internal/rules"
	"github.com/callaudit/audit-service/internal/store"
	"github.com/callaudit/audit-service/internal/testutil"
)

type fixedBundles int

func (f fixedBundles) Len() int { return int(f) }

func seedAudit(t *testing.T, ms *testutil.MockStore, callID, status string, flagged bool, violations ...rules.Violation) {
	t.Helper()
	rec := store.AuditRecord{
		ID:               "audit-" + callID,
		CallID:           callID,
		OverallScore:     80,
		ComplianceStatus: status,
		FlagsForReview:   flagged,
	}
	if err := ms.SaveAudit(context.Background(), rec, violations); err != nil {
		t.Fatalf("seed audit: %v", err)
	}
}

func doGet(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	srv := NewServer(testutil.NewMockStore(), fixedBundles(4), 0)

	rec := doGet(t, srv, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	body := decodeBody[map[string]any](t, rec)
	if body["status"] != "ok" {
		t.Errorf("health status = %v", body["status"])
	}
	if body["pendingBundles"] != float64(4) {
		t.Errorf("pendingBundles = %v, want 4", body["pendingBundles"])
	}
}

func TestGetAudit(t *testing.T) {
	ms := testutil.NewMockStore()
	seedAudit(t, ms, "call-1", "passed", false)
	srv := NewServer(ms, fixedBundles(0), 0)

	rec := doGet(t, srv, "/api/v1/audits/call-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["callId"] != "call-1" || body["complianceStatus"] != "passed" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestGetAudit_NotFound(t *testing.T) {
	srv := NewServer(testutil.NewMockStore(), fixedBundles(0), 0)

	rec := doGet(t, srv, "/api/v1/audits/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetAuditViolations(t *testing.T) {
	ms := testutil.NewMockStore()
	ts := 12.0
	seedAudit(t, ms, "call-1", "failed", true, rules.Violation{
		RuleID:          "r1",
		RuleName:        "no guarantees",
		Severity:        rules.SeverityCritical,
		Description:     "Prohibited word detected: guarantee",
		Evidence:        "We guarantee your money back",
		TimestampInCall: &ts,
	})
	srv := NewServer(ms, fixedBundles(0), 0)

	rec := doGet(t, srv, "/api/v1/audits/call-1/violations")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[[]map[string]any](t, rec)
	if len(body) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(body))
	}
	if body[0]["ruleId"] != "r1" || body[0]["severity"] != "critical" {
		t.Errorf("unexpected violation: %v", body[0])
	}
}

func TestGetAuditViolations_StoreErrorIsNot404(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.GetErr = errors.New("connection reset")
	srv := NewServer(ms, fixedBundles(0), 0)

	rec := doGet(t, srv, "/api/v1/audits/call-1/violations")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestGetAuditViolations_EmptyListNotNull(t *testing.T) {
	ms := testutil.NewMockStore()
	seedAudit(t, ms, "call-1", "passed", false)
	srv := NewServer(ms, fixedBundles(0), 0)

	rec := doGet(t, srv, "/api/v1/audits/call-1/violations")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got == "null\n" {
		t.Error("empty violations must encode as [], not null")
	}
}

func TestListAudits_StatusFilter(t *testing.T) {
	ms := testutil.NewMockStore()
	seedAudit(t, ms, "call-1", "passed", false)
	seedAudit(t, ms, "call-2", "failed", true)
	srv := NewServer(ms, fixedBundles(0), 0)

	rec := doGet(t, srv, "/api/v1/audits?status=failed")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[[]map[string]any](t, rec)
	if len(body) != 1 || body[0]["callId"] != "call-2" {
		t.Errorf("unexpected filter result: %v", body)
	}
}

func TestListAudits_InvalidStatusRejected(t *testing.T) {
	srv := NewServer(testutil.NewMockStore(), fixedBundles(0), 0)

	rec := doGet(t, srv, "/api/v1/audits?status=bogus")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestFlaggedAudits(t *testing.T) {
	ms := testutil.NewMockStore()
	seedAudit(t, ms, "call-1", "passed", false)
	seedAudit(t, ms, "call-2", "review_required", true)
	srv := NewServer(ms, fixedBundles(0), 0)

	rec := doGet(t, srv, "/api/v1/audits/flagged")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[[]map[string]any](t, rec)
	if len(body) != 1 || body[0]["callId"] != "call-2" {
		t.Errorf("unexpected flagged result: %v", body)
	}
}

func TestListViolations_SeverityValidation(t *testing.T) {
	srv := NewServer(testutil.NewMockStore(), fixedBundles(0), 0)

	rec := doGet(t, srv, "/api/v1/violations?severity=extreme")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = doGet(t, srv, "/api/v1/violations?severity=critical")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReport(t *testing.T) {
	ms := testutil.NewMockStore()
	seedAudit(t, ms, "call-1", "passed", false)
	seedAudit(t, ms, "call-2", "failed", true)
	srv := NewServer(ms, fixedBundles(0), 0)

	rec := doGet(t, srv, "/api/v1/reports")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["totalCalls"] != float64(2) {
		t.Errorf("totalCalls = %v, want 2", body["totalCalls"])
	}
}

func TestReport_BadTimeRejected(t *testing.T) {
	srv := NewServer(testutil.NewMockStore(), fixedBundles(0), 0)

	rec := doGet(t, srv, "/api/v1/reports?start=yesterday")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListRules_ActiveFilter(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.Rules = []rules.Rule{
		{ID: "r1", Name: "active rule", Severity: rules.SeverityHigh, IsActive: true},
		{ID: "r2", Name: "retired rule", Severity: rules.SeverityLow, IsActive: false},
	}
	srv := NewServer(ms, fixedBundles(0), 0)

	rec := doGet(t, srv, "/api/v1/rules?active=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[[]map[string]any](t, rec)
	if len(body) != 1 || body[0]["id"] != "r1" {
		t.Errorf("unexpected rules result: %v", body)
	}

	rec = doGet(t, srv, "/api/v1/rules?active=sometimes")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetRule(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.Rules = []rules.Rule{{ID: "r1", Name: "active rule", Severity: rules.SeverityHigh, IsActive: true}}
	srv := NewServer(ms, fixedBundles(0), 0)

	rec := doGet(t, srv, "/api/v1/rules/r1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["name"] != "active rule" {
		t.Errorf("unexpected rule: %v", body)
	}

	rec = doGet(t, srv, "/api/v1/rules/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
