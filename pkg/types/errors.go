package types

import (
	"errors"
	"fmt"
)

var (
	// Input validation errors
	ErrEmptyInput  = errors.New("topology description is empty")
	ErrInvalidYAML = errors.New("invalid YAML syntax")
	ErrNoServices  = errors.New("topology must define at least one service")

	// Reference errors
	ErrUnknownDependency = errors.New("depends_on references an undeclared service")
	ErrUnknownVolume     = errors.New("mount references an undeclared volume")
	ErrUnknownReference  = errors.New("environment references an unknown service")
	ErrSelfDependency    = errors.New("service cannot depend on itself")
	ErrDuplicateName     = errors.New("duplicate name")
)

// ConfigError reports a malformed or inconsistent topology. It is fatal
// before any service starts and never retried.
type ConfigError struct {
	Field   string // e.g. "services.web.depends_on"
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a ConfigError with field context.
func NewConfigError(field, message string, err error) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
