package contract

import (
	"errors"
	"fmt"
)

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")
	ErrClassification  = errors.New("intent classification failed")
	ErrPluginNotFound  = errors.New("plugin not found")
	ErrToolNotFound    = errors.New("tool not found")
	ErrIntentConflict  = errors.New("intent already claimed by another plugin")
	ErrStorage         = errors.New("storage failure")
)

// ToolExecutionError wraps a failure raised by a plugin while serving a tool call.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

type ProviderErrorKind string

const (
	ProviderErrorAuth      ProviderErrorKind = "auth"
	ProviderErrorRateLimit ProviderErrorKind = "rate_limit"
	ProviderErrorNetwork   ProviderErrorKind = "network"
	ProviderErrorMalformed ProviderErrorKind = "malformed"
)

type ProviderError struct {
	Kind     ProviderErrorKind
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("provider error (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s error (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrModelInvoke) match any provider failure.
func (e *ProviderError) Is(target error) bool {
	return target == ErrModelInvoke
}

func IsToolNotFound(err error) bool {
	return errors.Is(err, ErrToolNotFound)
}

// rootMessage strips the ToolExecutionError envelope so tool output stays readable.
func rootMessage(err error) string {
	var execErr *ToolExecutionError
	if errors.As(err, &execErr) && execErr.Err != nil {
		return execErr.Err.Error()
	}
	return err.Error()
}
