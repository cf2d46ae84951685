package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callaudit/audit-service/internal/rules"
)

// ErrDuplicateAudit means an audit result already exists for the call.
// Audit results are append-only; a replayed triple is dropped, never merged.
var ErrDuplicateAudit = errors.New("audit result already exists for call")

// AuditRecord is the durable verdict row for one call.
type AuditRecord struct {
	ID                      string
	CallID                  string
	OverallScore            int
	ComplianceStatus        string
	ScriptAdherence         int
	CustomerService         int
	ResolutionEffectiveness int
	FlagsForReview          bool
	ReviewReason            string
	ProcessingTimeMs        int
}

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// SaveAudit writes the audit result and its violations in one transaction.
// The call_id unique constraint makes replays visible as ErrDuplicateAudit.
func (s *Store) SaveAudit(ctx context.Context, rec AuditRecord, violations []rules.Violation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO audit_results
			(id, call_id, overall_score, compliance_status, script_adherence,
			 customer_service, resolution_effectiveness, flags_for_review,
			 review_reason, processing_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, now())
		ON CONFLICT (call_id) DO NOTHING
	`, rec.ID, rec.CallID, rec.OverallScore, rec.ComplianceStatus,
		rec.ScriptAdherence, rec.CustomerService, rec.ResolutionEffectiveness,
		rec.FlagsForReview, rec.ReviewReason, rec.ProcessingTimeMs)
	if err != nil {
		return fmt.Errorf("insert audit result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateAudit
	}

	for _, v := range violations {
		_, err := tx.Exec(ctx, `
			INSERT INTO compliance_violations
				(audit_result_id, rule_id, rule_name, severity, description,
				 evidence, timestamp_in_call, created_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, now())
		`, rec.ID, v.RuleID, v.RuleName, string(v.Severity), v.Description,
			v.Evidence, v.TimestampInCall)
		if err != nil {
			return fmt.Errorf("insert violation for rule %s: %w", v.RuleID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit audit: %w", err)
	}

	slog.Debug("audit persisted", "call_id", rec.CallID, "violations", len(violations))
	return nil
}

// ListActiveRules returns a consistent snapshot of the active rule set.
func (s *Store) ListActiveRules(ctx context.Context) ([]rules.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, severity, rule_definition, is_active
		FROM compliance_rules
		WHERE is_active
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query active rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var r rules.Rule
		var sev string
		var def json.RawMessage
		if err := rows.Scan(&r.ID, &r.Name, &sev, &def, &r.IsActive); err != nil {
			return nil, err
		}
		r.Severity = rules.Severity(sev)
		r.Definition = def
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetAuditByCall returns the audit result for a call.
func (s *Store) GetAuditByCall(ctx context.Context, callID string) (map[string]any, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, call_id, overall_score, compliance_status, script_adherence,
		       customer_service, resolution_effectiveness, flags_for_review,
		       review_reason, processing_time_ms, created_at
		FROM audit_results
		WHERE call_id = $1
	`, callID)
	return scanAudit(row)
}

// GetViolationsByCall returns the violations belonging to a call's audit.
func (s *Store) GetViolationsByCall(ctx context.Context, callID string) ([]map[string]any, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT v.id, v.audit_result_id, v.rule_id, v.rule_name, v.severity,
		       v.description, v.evidence, v.timestamp_in_call, v.created_at
		FROM compliance_violations v
		JOIN audit_results a ON a.id = v.audit_result_id
		WHERE a.call_id = $1
		ORDER BY v.created_at
	`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanViolations(rows)
}

// QueryAudits returns audit results filtered by status and/or review flag.
func (s *Store) QueryAudits(ctx context.Context, status string, flagged *bool, limit int) ([]map[string]any, error) {
	q := `
		SELECT id, call_id, overall_score, compliance_status, script_adherence,
		       customer_service, resolution_effectiveness, flags_for_review,
		       review_reason, processing_time_ms, created_at
		FROM audit_results`
	args := []any{}
	argN := 1
	where := ""

	if status != "" {
		where = fmt.Sprintf(" WHERE compliance_status = $%d", argN)
		args = append(args, status)
		argN++
	}
	if flagged != nil {
		if where == "" {
			where = fmt.Sprintf(" WHERE flags_for_review = $%d", argN)
		} else {
			where += fmt.Sprintf(" AND flags_for_review = $%d", argN)
		}
		args = append(args, *flagged)
		argN++
	}

	q += where + " ORDER BY created_at DESC"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		r, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// QueryViolations returns violations across all audits, filtered by rule
// and/or severity.
func (s *Store) QueryViolations(ctx context.Context, ruleID, severity string) ([]map[string]any, error) {
	q := `
		SELECT id, audit_result_id, rule_id, rule_name, severity, description,
		       evidence, timestamp_in_call, created_at
		FROM compliance_violations`
	args := []any{}
	argN := 1
	where := ""

	if ruleID != "" {
		where = fmt.Sprintf(" WHERE rule_id = $%d", argN)
		args = append(args, ruleID)
		argN++
	}
	if severity != "" {
		if where == "" {
			where = fmt.Sprintf(" WHERE severity = $%d", argN)
		} else {
			where += fmt.Sprintf(" AND severity = $%d", argN)
		}
		args = append(args, severity)
	}

	rows, err := s.pool.Query(ctx, q+where+" ORDER BY created_at DESC", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanViolations(rows)
}

// GetRules lists compliance rules, optionally filtered by active flag. Rules
// are read-only from this service; writes come from the admin surface.
func (s *Store) GetRules(ctx context.Context, active *bool) ([]map[string]any, error) {
	q := `
		SELECT id, name, severity, rule_definition, is_active, created_at, updated_at
		FROM compliance_rules`
	args := []any{}
	if active != nil {
		q += " WHERE is_active = $1"
		args = append(args, *active)
	}
	q += " ORDER BY id"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetRule returns one compliance rule by ID.
func (s *Store) GetRule(ctx context.Context, ruleID string) (map[string]any, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, severity, rule_definition, is_active, created_at, updated_at
		FROM compliance_rules
		WHERE id = $1
	`, ruleID)
	return scanRule(row)
}

// Report aggregates audit outcomes over an optional date range.
func (s *Store) Report(ctx context.Context, start, end *time.Time) (map[string]any, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE compliance_status = 'passed'),
		       count(*) FILTER (WHERE compliance_status = 'failed'),
		       count(*) FILTER (WHERE compliance_status = 'review_required'),
		       count(*) FILTER (WHERE flags_for_review),
		       COALESCE(avg(overall_score), 0),
		       COALESCE(avg(script_adherence), 0),
		       COALESCE(avg(customer_service), 0),
		       COALESCE(avg(resolution_effectiveness), 0)
		FROM audit_results
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at <= $2)
	`, start, end)

	var (
		total, passed, failed, review, flagged         int64
		avgScore, avgScript, avgService, avgResolution float64
	)
	if err := row.Scan(&total, &passed, &failed, &review, &flagged,
		&avgScore, &avgScript, &avgService, &avgResolution); err != nil {
		return nil, err
	}

	dateRange := map[string]any{"start": "N/A", "end": "N/A"}
	if start != nil {
		dateRange["start"] = *start
	}
	if end != nil {
		dateRange["end"] = *end
	}

	return map[string]any{
		"totalCalls": total,
		"dateRange":  dateRange,
		"complianceBreakdown": map[string]any{
			"passed":         passed,
			"failed":         failed,
			"reviewRequired": review,
		},
		"averageScore":     avgScore,
		"flaggedForReview": flagged,
		"qualityMetrics": map[string]any{
			"avgScriptAdherence":         avgScript,
			"avgCustomerService":         avgService,
			"avgResolutionEffectiveness": avgResolution,
		},
	}, nil
}

// row is satisfied by both pgx.Row and pgx.Rows.
type row interface {
	Scan(dest ...any) error
}

func scanAudit(r row) (map[string]any, error) {
	var (
		id, callID, status       string
		overall, script, service int
		resolution, processingMs int
		flagged                  bool
		reason                   *string
		createdAt                time.Time
	)
	if err := r.Scan(&id, &callID, &overall, &status, &script, &service,
		&resolution, &flagged, &reason, &processingMs, &createdAt); err != nil {
		return nil, err
	}

	result := map[string]any{
		"id":                      id,
		"callId":                  callID,
		"overallScore":            overall,
		"complianceStatus":        status,
		"scriptAdherence":         script,
		"customerService":         service,
		"resolutionEffectiveness": resolution,
		"flagsForReview":          flagged,
		"processingTimeMs":        processingMs,
		"createdAt":               createdAt,
	}
	if reason != nil {
		result["reviewReason"] = *reason
	}
	return result, nil
}

func scanViolations(rows pgx.Rows) ([]map[string]any, error) {
	var results []map[string]any
	for rows.Next() {
		var (
			id, auditID, ruleID, ruleName, severity, description string
			evidence                                             *string
			ts                                                   *float64
			createdAt                                            time.Time
		)
		if err := rows.Scan(&id, &auditID, &ruleID, &ruleName, &severity,
			&description, &evidence, &ts, &createdAt); err != nil {
			return nil, err
		}
		v := map[string]any{
			"id":            id,
			"auditResultId": auditID,
			"ruleId":        ruleID,
			"ruleName":      ruleName,
			"severity":      severity,
			"description":   description,
			"createdAt":     createdAt,
		}
		if evidence != nil {
			v["evidence"] = *evidence
		}
		if ts != nil {
			v["timestampInCall"] = *ts
		}
		results = append(results, v)
	}
	return results, rows.Err()
}

func scanRule(r row) (map[string]any, error) {
	var (
		id, name, severity   string
		def                  json.RawMessage
		active               bool
		createdAt, updatedAt time.Time
	)
	if err := r.Scan(&id, &name, &severity, &def, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return map[string]any{
		"id":             id,
		"name":           name,
		"severity":       severity,
		"ruleDefinition": def,
		"isActive":       active,
		"createdAt":      createdAt,
		"updatedAt":      updatedAt,
	}, nil
}
