package sync

import "fmt"

// ConfigurationError reports an invalid mapping or channel configuration.
// It is fatal at setup and aborts the channel.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func configErrorf(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// ValidationError reports an event that failed structural accept checks.
// Such events are dropped before any remote call is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Reason)
}

// TranslationError reports a single field value that could not be converted,
// e.g. a status with no mapping entry. It is non-fatal: the field is skipped
// with a warning and the rest of the event still applies.
type TranslationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf(
		"cannot translate value %v for field %s: %s",
		e.Value,
		e.Field,
		e.Reason,
	)
}

// RemoteWriteError reports a write rejected by one of the remote systems. It
// aborts the remaining work for the event; retrying is left to the upstream
// transport.
type RemoteWriteError struct {
	System     Origin
	EntityType string
	EntityID   string
	Err        error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf(
		"remote write to %s %s (%s) failed: %s",
		e.System,
		e.EntityType,
		e.EntityID,
		e.Err,
	)
}

func (e *RemoteWriteError) Unwrap() error {
	return e.Err
}

// EchoError marks an event that was generated by the bridge's own prior
// write. Echoes are suppressed, not reported as failures.
type EchoError struct {
	Origin Origin
	Actor  string
}

func (e *EchoError) Error() string {
	return fmt.Sprintf(
		"%s event by %s is an echo of our own write",
		e.Origin,
		e.Actor,
	)
}
