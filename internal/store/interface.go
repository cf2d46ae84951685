package store

import (
	"context"
	"time"

	"github.com/callaudit/audit-service/internal/rules"
)

// DataStore is the interface consumed by the orchestrator and the API.
// The concrete implementation is *Store (pgx-backed).
type DataStore interface {
	SaveAudit(ctx context.Context, rec AuditRecord, violations []rules.Violation) error
	ListActiveRules(ctx context.Context) ([]rules.Rule, error)

	GetAuditByCall(ctx context.Context, callID string) (map[string]any, error)
	GetViolationsByCall(ctx context.Context, callID string) ([]map[string]any, error)
	QueryAudits(ctx context.Context, status string, flagged *bool, limit int) ([]map[string]any, error)
	QueryViolations(ctx context.Context, ruleID, severity string) ([]map[string]any, error)
	GetRules(ctx context.Context, active *bool) ([]map[string]any, error)
	GetRule(ctx context.Context, ruleID string) (map[string]any, error)
	Report(ctx context.Context, start, end *time.Time) (map[string]any, error)
	Close()
}
