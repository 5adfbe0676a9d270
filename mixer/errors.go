package mixer

import "fmt"

// The control surface reports failures as one of four typed errors.
// ValidationError, NotFoundError and ConflictError originate here in
// the graph; DeviceError originates in the engine package.

// ValidationError reports a parameter that failed validation. The
// mutation it belongs to was not applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a reference to a channel, bus, device, or
// preset that does not exist.
type NotFoundError struct {
	Kind string // "channel", "bus", "device", "preset"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ConflictError reports a mutation that contradicts existing state,
// such as reusing an id or removing the master channel.
type ConflictError struct {
	Kind   string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Kind, e.ID, e.Reason)
}
