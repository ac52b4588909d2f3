package capability

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by the pipeline, loader and dispatcher. Use errors.Is to check.
var (
	ErrAnalysisFailure   = errors.New("analysis failure")
	ErrSchemaValidation  = errors.New("schema validation failure")
	ErrSynthesisWrite    = errors.New("synthesis write failure")
	ErrDiscovery         = errors.New("discovery failure")
	ErrUnknownCapability = errors.New("unknown capability")
	ErrInvalidArguments  = errors.New("invalid arguments")
	ErrExecution         = errors.New("execution error")
)

// SchemaValidationError carries every structural violation found in a mapping.
type SchemaValidationError struct {
	Errors []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failure: %s", strings.Join(e.Errors, "; "))
}

func (e *SchemaValidationError) Unwrap() error { return ErrSchemaValidation }

// CallError is returned by the dispatcher for a failed tools/call. Kind is one of
// ErrUnknownCapability, ErrInvalidArguments or ErrExecution.
type CallError struct {
	Name  string
	Kind  error
	Cause error
}

func (e *CallError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrUnknownCapability):
		return fmt.Sprintf("tool %q not found", e.Name)
	case errors.Is(e.Kind, ErrInvalidArguments):
		return fmt.Sprintf("invalid arguments for tool %q", e.Name)
	case e.Cause != nil:
		return fmt.Sprintf("tool %q failed: %v", e.Name, e.Cause)
	default:
		return fmt.Sprintf("tool %q failed", e.Name)
	}
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *CallError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}
