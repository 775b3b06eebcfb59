package domain

import (
	"fmt"
	"strings"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine whether submission may proceed.
const (
	// SeverityBlock prevents any remote call.
	SeverityBlock Severity = "block"
	// SeverityWarn is reported but does not stop submission.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed check. Rule names the kind of failure and
// EntityID carries the offending natural key.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from extraction and validation.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// Add appends a single violation.
func (r *Result) Add(v Violation) {
	r.Violations = append(r.Violations, v)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Blocking returns only the blocking violations, in order.
func (r Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// Messages returns the violation messages, in order.
func (r Result) Messages() []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Message)
	}
	return out
}

// ValidationError is returned when blocking violations are present. No remote
// state exists when it is raised.
type ValidationError struct {
	Result Result
}

func (e ValidationError) Error() string {
	blocking := e.Result.Blocking()
	lines := make([]string, 0, len(blocking))
	for _, v := range blocking {
		lines = append(lines, v.Message)
	}
	return "validation errors occurred:\n" + strings.Join(lines, "\n")
}

// SubmissionError reports failures raised while talking to the catalogue.
type SubmissionError struct {
	Errors []string
	Err    error
}

func (e *SubmissionError) Error() string {
	var b strings.Builder
	b.WriteString("submission errors occurred")
	if len(e.Errors) > 0 {
		b.WriteString(":\n")
		b.WriteString(strings.Join(e.Errors, "\n"))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, "\ncause: %v", e.Err)
	}
	return b.String()
}

func (e *SubmissionError) Unwrap() error { return e.Err }
