package availability

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrConfiguration = errors.New("availability configuration error")

// ConfigurationError reports malformed availability data. The affected
// professional is treated as unavailable for the date.
type ConfigurationError struct {
	Entity   string
	EntityID uuid.UUID
	Reason   string
	Err      error // underlying cause, if any
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.EntityID, e.Reason)
}

func (e *ConfigurationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Err}
}

func configErr(entity string, id uuid.UUID, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Entity: entity, EntityID: id, Reason: fmt.Sprintf(format, args...)}
}

func configCause(entity string, id uuid.UUID, err error) *ConfigurationError {
	return &ConfigurationError{Entity: entity, EntityID: id, Reason: err.Error(), Err: err}
}
