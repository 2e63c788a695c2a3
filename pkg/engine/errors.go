package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/planesync/planesync/pkg/stores"
)

var (
	// ErrBatchNotFound is returned when a batch ID is not in the ledger.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrBatchRunning is returned when cleanup is requested for a batch that
	// is still marked RUNNING and force was not given.
	ErrBatchRunning = errors.New("batch is still running")

	// ErrSelfReference is returned when the remote API hands back an issue ID
	// that was already created in the same project, which would make an issue
	// its own ancestor.
	ErrSelfReference = errors.New("issue references itself")

	// ErrNoWorkspace is returned when neither the template nor the executor
	// options name a workspace.
	ErrNoWorkspace = errors.New("no workspace slug")

	// ErrInvalidTransition is returned for a batch status change the
	// lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid batch status transition")
)

// StepError describes which creation or deletion step failed.
type StepError struct {
	// Operation is the remote operation, e.g. "create_cycle" or "link_module".
	Operation string

	// ResourceType is the kind of resource being handled.
	ResourceType stores.ResourceType

	// Name is the template name of the resource, or its remote ID during
	// cleanup.
	Name string

	// Project is the project identifier the step belongs to.
	Project string

	// Err is the underlying error, usually a *plane.RemoteError.
	Err error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Project != "" {
		return fmt.Sprintf("%s %q (project %s): %v", e.Operation, e.Name, e.Project, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Operation, e.Name, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *StepError) Unwrap() error {
	return e.Err
}

// LedgerWriteError is returned when a remote resource was created but its
// ledger row could not be written. The resource exists remotely and is not
// tracked, so cleanup will not remove it.
type LedgerWriteError struct {
	BatchID      string
	ResourceType stores.ResourceType
	RemoteID     string
	Err          error
}

// Error implements the error interface.
func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("batch %s: %s %s was created remotely but not recorded: %v",
		e.BatchID, e.ResourceType, e.RemoteID, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *LedgerWriteError) Unwrap() error {
	return e.Err
}

// PolicyViolation is a single guardrail failure reported by a Guard.
type PolicyViolation struct {
	Policy   string `json:"policy"`
	Rule     string `json:"rule,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Path     string `json:"path,omitempty"`
}

// PolicyError is returned when a blocking policy denies a template. No
// batch is created.
type PolicyError struct {
	Violations []PolicyViolation
}

// Error implements the error interface.
func (e *PolicyError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if v.Path != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s (%s)", v.Policy, v.Message, v.Path))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
		}
	}
	return fmt.Sprintf("template denied by %d policy violation(s): %s",
		len(e.Violations), strings.Join(msgs, "; "))
}

// IsPolicyError reports whether err carries a *PolicyError.
func IsPolicyError(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}
