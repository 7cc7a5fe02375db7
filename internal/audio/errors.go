package audio

import "errors"

var (
	ErrSessionActive     = errors.New("recording session already active")
	ErrNotRecording      = errors.New("no recording in progress")
	ErrNilSink           = errors.New("output sink is required")
	ErrPermissionDenied  = errors.New("microphone access denied")
	ErrUnsupportedFormat = errors.New("unsupported sample format")
	ErrInvalidConfig     = errors.New("invalid session configuration")
	ErrClosed            = errors.New("recorder is shut down")
)

// Frame Source read codes. Any of these ends the capture loop; every other
// read error is treated as transient.
var (
	ErrInvalidOperation = errors.New("capture: invalid operation")
	ErrBadValue         = errors.New("capture: bad value")
	ErrDeadObject       = errors.New("capture: device no longer valid")
	ErrDevice           = errors.New("capture: device error")
)

// IsFatalReadError reports whether a Frame Source read error must stop the
// session.
func IsFatalReadError(err error) bool {
	return errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrBadValue) ||
		errors.Is(err, ErrDeadObject) ||
		errors.Is(err, ErrDevice)
}
