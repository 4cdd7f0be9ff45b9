package env

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every ConfigurationError.
	ErrConfiguration = errors.New("configuration error")
	// ErrEnvironment matches every EnvironmentError.
	ErrEnvironment = errors.New("environment error")
	// ErrContract matches every ContractViolation.
	ErrContract = errors.New("contract violation")
)

// ConfigurationError reports invalid construction parameters. It is raised
// before any episode starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// EnvironmentError wraps a failure raised by the underlying environment
// during reset or step.
type EnvironmentError struct {
	Op   string
	Tick int
	Err  error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("environment %s failed at tick %d: %v", e.Op, e.Tick, e.Err)
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

func (e *EnvironmentError) Is(target error) bool { return target == ErrEnvironment }

// ContractViolation reports a shape or protocol mismatch between the
// configured spaces and what a caller or environment actually supplied.
type ContractViolation struct {
	What   string
	Detail string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("contract violation: %s: %s", e.What, e.Detail)
}

func (e *ContractViolation) Is(target error) bool { return target == ErrContract }

// DimensionMismatch builds the violation raised when a vector has the
// wrong length.
func DimensionMismatch(what string, want, got int) *ContractViolation {
	return &ContractViolation{What: what, Detail: fmt.Sprintf("expected dimension %d, got %d", want, got)}
}
