package troubadour

import (
	"errors"

	"github.com/troubadour-audio/troubadour/engine"
	"github.com/troubadour-audio/troubadour/mixer"
)

// The four error kinds of the control surface. Validation, not-found
// and conflict originate in the mixer graph; device errors in the
// engine. They are re-exported here so callers only import this
// package.
type (
	ValidationError = mixer.ValidationError
	NotFoundError   = mixer.NotFoundError
	ConflictError   = mixer.ConflictError
	DeviceError     = engine.DeviceError
)

// Error kind strings used on the wire.
const (
	ErrKindValidation = "ValidationError"
	ErrKindNotFound   = "NotFound"
	ErrKindConflict   = "Conflict"
	ErrKindDevice     = "DeviceError"
	ErrKindInternal   = "Internal"
)

// ErrorKind classifies an error for the response envelope.
func ErrorKind(err error) string {
	var (
		ve *ValidationError
		nf *NotFoundError
		ce *ConflictError
		de *DeviceError
	)
	switch {
	case errors.As(err, &ve):
		return ErrKindValidation
	case errors.As(err, &nf):
		return ErrKindNotFound
	case errors.As(err, &ce):
		return ErrKindConflict
	case errors.As(err, &de):
		return ErrKindDevice
	}
	return ErrKindInternal
}
