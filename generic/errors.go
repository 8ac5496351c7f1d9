/*
errors.go - Centralized error types for the payroll and KPI engines

PURPOSE:
  All error types in one place for consistency and discoverability.
  Engine packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Configuration errors - missing or empty rule sets, missing profiles,
     invalid periods. Fatal for the current employee pass only.
  2. Formula errors - syntax or runtime failure inside the sandbox.
     Always recovered locally (condition false, amount zero).
  3. Data unavailable - an upstream resolver or work item source failed.
     The pass continues with empty inputs and flags what was defaulted.
  4. Store errors - missing records, closed periods.

USAGE:
  if generic.IsDataUnavailable(err) {
      defaulted = generic.DefaultedInputs(err)
  }

SEE ALSO:
  - formula/: Produces FormulaError
  - payroll/engine.go: Produces ConfigurationError
  - variables/resolver.go: Produces DataUnavailableError
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration is the root of all configuration failures.
	ErrConfiguration = errors.New("configuration error")

	// ErrFormulaEvaluation is the root of all sandbox failures.
	ErrFormulaEvaluation = errors.New("formula evaluation failed")

	// ErrDataUnavailable is returned when an upstream data source failed.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrPeriodClosed is returned when recomputing a closed KPI period.
	ErrPeriodClosed = errors.New("period is closed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError names the misconfigured subject.
type ConfigurationError struct {
	Subject string // e.g. "structure VN_STD", "quality profile"
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Subject, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// NewConfigurationError is a shorthand constructor.
func NewConfigurationError(subject, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Subject: subject, Reason: fmt.Sprintf(format, args...)}
}

// FormulaError describes a failed expression. Pos is a byte offset, -1 if unknown.
type FormulaError struct {
	Source string
	Pos    int
	Msg    string
}

func (e *FormulaError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("formula %q: %s at offset %d", e.Source, e.Msg, e.Pos)
	}
	return fmt.Sprintf("formula %q: %s", e.Source, e.Msg)
}

func (e *FormulaError) Unwrap() error {
	return ErrFormulaEvaluation
}

// DataUnavailableError carries the inputs that were defaulted because Source failed.
type DataUnavailableError struct {
	Source string
	Inputs []string
	Err    error
}

func (e *DataUnavailableError) Error() string {
	msg := fmt.Sprintf("data unavailable from %s", e.Source)
	if len(e.Inputs) > 0 {
		msg += " (" + strings.Join(e.Inputs, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataUnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDataUnavailable}
	}
	return []error{ErrDataUnavailable, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConfiguration returns true for configuration failures.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsDataUnavailable returns true when an upstream source failed.
func IsDataUnavailable(err error) bool {
	return errors.Is(err, ErrDataUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrPeriodClosed)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// DefaultedInputs collects the Inputs of every DataUnavailableError in err's
// tree, including errors combined with errors.Join.
func DefaultedInputs(err error) []string {
	var out []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if du, ok := e.(*DataUnavailableError); ok {
			if len(du.Inputs) == 0 {
				out = append(out, du.Source)
			}
			out = append(out, du.Inputs...)
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}
