package riot

import (
	"errors"
	"fmt"
)

// ErrInvalidCredentials indicates the username/password pair was rejected
// by the authorization endpoint. Not retryable with the same credentials.
var ErrInvalidCredentials = errors.New("invalid riot credentials")

// ErrNotAuthenticated indicates a call that requires tokens was made before
// Authenticate succeeded.
var ErrNotAuthenticated = errors.New("not authenticated")

// MultiFactorError is returned when the authorization endpoint demands a
// multi-factor code. It is a recoverable condition: the caller must obtain
// the code from the user and resubmit it via SubmitMFACode on the same
// client, which keeps the pending-auth cookies needed for the resubmission.
type MultiFactorError struct {
	Email      string // masked email the code was sent to
	CodeLength int
}

func (e *MultiFactorError) Error() string {
	return fmt.Sprintf("multi-factor code required (sent to %s)", e.Email)
}

// IsMultiFactor reports whether err is a multi-factor challenge.
func IsMultiFactor(err error) bool {
	var mfa *MultiFactorError
	return errors.As(err, &mfa)
}
