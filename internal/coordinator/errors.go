package coordinator

import (
	"errors"
	"fmt"

	"github.com/seedreap/qbitstats/internal/download"
)

// Sentinel errors for the two failure classes of a refresh.
var (
	// ErrAuthFailed means the backend rejected the credentials. Automatic
	// refreshes should stop until the credentials are fixed.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrUpdateFailed means any other API or transport failure. It is transient.
	ErrUpdateFailed = errors.New("update failed")
)

// AuthError is returned by Refresh when the backend rejects the credentials.
type AuthError struct {
	Client string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Client, ErrAuthFailed, e.Err)
}

// Unwrap exposes both ErrAuthFailed and the underlying cause.
func (e *AuthError) Unwrap() []error {
	return []error{ErrAuthFailed, e.Err}
}

// UpdateError is returned by Refresh for transient failures.
type UpdateError struct {
	Client string
	Err    error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Client, ErrUpdateFailed, e.Err)
}

// Unwrap exposes both ErrUpdateFailed and the underlying cause.
func (e *UpdateError) Unwrap() []error {
	return []error{ErrUpdateFailed, e.Err}
}

func classify(client string, err error) error {
	if errors.Is(err, download.ErrAuthentication) {
		return &AuthError{Client: client, Err: err}
	}
	return &UpdateError{Client: client, Err: err}
}
