package batch

import "errors"

var (
	ErrStopped      = errors.New("translation service stopped")
	ErrNotRetryable = errors.New("only failed chapters can be retried")
	ErrBatchBusy    = errors.New("another batch is active")
	ErrNotIdle      = errors.New("progress can only be cleared while idle")
	ErrNoProgress   = errors.New("no progress recorded for chapter")

	ErrNoChapters        = errors.New("no chapters selected")
	ErrNoMatches         = errors.New("no matching chapters found")
	ErrInvalidLanguage   = errors.New("invalid language")
	ErrUnsupportedEngine = errors.New("unsupported translation engine")
)

// ValidationError rejects a request before any state changes. Message is
// suitable for showing to a user.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error, msg string) error {
	if msg == "" {
		msg = err.Error()
	}
	return &ValidationError{Message: msg, Err: err}
}

// IsValidation reports whether err rejected a request.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
