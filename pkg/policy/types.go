package policy

import (
	"time"

	"github.com/planesync/planesync/pkg/engine"
	"github.com/planesync/planesync/pkg/template"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are reported but do not block a run.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the batch.
	SeverityError Severity = "error"

	// SeverityCritical blocks the batch.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies a template.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module whose deny set is evaluated against templates.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is used for deny entries that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	Tags []string `json:"tags,omitempty"`

	// Builtin marks policies shipped with planesync.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Rule is the Rego package that produced the violation.
	Rule string `json:"rule,omitempty"`

	// Path locates the offending template element, e.g. "projects[0].issues[2]".
	Path string `json:"path,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// PolicyResult represents the result of policy evaluation.
type PolicyResult struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists findings that do not block the batch.
	Warnings []PolicyViolation `json:"warnings,omitempty"`

	// Errors lists policies that failed to evaluate.
	Errors []string `json:"errors,omitempty"`

	EvaluatedAt       time.Time     `json:"evaluated_at"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// PolicyInput is the document policies see as "input".
type PolicyInput struct {
	// Template is the batch template being checked.
	Template *template.BatchTemplate `json:"template"`

	// Counts is the number of resources the template declares.
	Counts template.Counts `json:"counts"`

	Context *PolicyContext `json:"context"`
}

// PolicyContext provides context information for policy evaluation.
type PolicyContext struct {
	// Operation is "create" for a real run and "validate" for a dry run.
	Operation string `json:"operation"`

	// Workspace is the workspace the batch would run in.
	Workspace string `json:"workspace,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	DryRun    bool      `json:"dry_run"`
}

// toEngine converts violations for engine.PolicyError.
func toEngine(violations []PolicyViolation) []engine.PolicyViolation {
	out := make([]engine.PolicyViolation, len(violations))
	for i, v := range violations {
		out[i] = engine.PolicyViolation{
			Policy:   v.Policy,
			Rule:     v.Rule,
			Message:  v.Message,
			Severity: string(v.Severity),
			Path:     v.Path,
		}
	}
	return out
}
