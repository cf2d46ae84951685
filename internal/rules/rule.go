package rules

import "encoding/json"

// Severity of a compliance rule and of the violations it produces.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Rule is one configured compliance rule. The definition stays raw until
// evaluation; rules are configuration data and are never mutated here.
type Rule struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Severity   Severity        `json:"severity"`
	IsActive   bool            `json:"isActive"`
	Definition json.RawMessage `json:"ruleDefinition"`
}

// Violation is a single detected rule breach. Immutable once created; owned
// by the audit result it is persisted under.
type Violation struct {
	RuleID          string
	RuleName        string
	Severity        Severity
	Description     string
	Evidence        string
	TimestampInCall *float64
}
