package config

import "fmt"

// ConfigurationError reports an unknown environment tag, a missing required
// field, or an invalid value. It is returned before any connection is attempted.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg = fmt.Sprintf("configuration error: %s", e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func missing(field string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: "required value is missing"}
}

func invalid(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
