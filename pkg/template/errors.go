package template

import (
	"fmt"
	"strings"
)

// Problem is a single reason a template was rejected.
type Problem struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

func (p Problem) String() string {
	var b strings.Builder
	if p.Line > 0 {
		fmt.Fprintf(&b, "%d:%d: ", p.Line, p.Column)
	}
	if p.Path != "" {
		b.WriteString(p.Path)
		b.WriteString(": ")
	}
	b.WriteString(p.Message)
	return b.String()
}

// ValidationError reports a malformed template. It is raised before any
// remote call is made.
type ValidationError struct {
	Source   string
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return fmt.Sprintf("invalid template %s", e.Source)
	}
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid template %s: %s", e.Source, e.Problems[0])
	}
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.String()
	}
	return fmt.Sprintf("invalid template %s: %d problems: %s", e.Source, len(e.Problems), strings.Join(msgs, "; "))
}

func newValidationError(source, format string, args ...any) *ValidationError {
	return &ValidationError{
		Source:   source,
		Problems: []Problem{{Message: fmt.Sprintf(format, args...)}},
	}
}
