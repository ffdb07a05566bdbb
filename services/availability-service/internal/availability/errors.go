package availability

import (
	"errors"
	"fmt"
)

// ErrConfiguration matches every ConfigError via errors.Is.
var ErrConfiguration = errors.New("availability configuration error")

// ConfigError reports bad upstream data (rules, exceptions, zones, slot
// settings). It belongs to the tutor-profile owner, not the booking caller.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", ErrConfiguration.Error(), e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErr(field, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}

func configErrf(field string, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
