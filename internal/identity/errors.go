package identity

import "errors"

var (
	// ErrValidation marks a username that does not have the accepted shape.
	ErrValidation = errors.New("invalid username")

	// ErrConflict is returned when a username was claimed by a concurrent
	// resolution between lookup and create.
	ErrConflict = errors.New("username already claimed")

	// ErrRemote wraps any failure talking to the identity service.
	ErrRemote = errors.New("identity service unavailable")

	// ErrVerification means a created profile could not be read back.
	ErrVerification = errors.New("profile not observable after create")

	// ErrProfileNotFound is returned when no profile matches the lookup key.
	ErrProfileNotFound = errors.New("profile not found")
)

type remoteError struct {
	op  string
	err error
}

func (e *remoteError) Error() string {
	return e.op + ": " + ErrRemote.Error() + ": " + e.err.Error()
}

func (e *remoteError) Unwrap() []error {
	return []error{ErrRemote, e.err}
}

// Remote tags err as a remote failure of op while keeping the cause
// reachable through errors.Is and errors.As. Nil stays nil and errors already
// tagged are only prefixed.
func Remote(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *remoteError
	if errors.As(err, &re) {
		return &remoteError{op: op, err: re.err}
	}
	return &remoteError{op: op, err: err}
}
