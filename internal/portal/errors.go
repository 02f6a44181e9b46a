package portal

import (
	"errors"
	"fmt"
)

// ErrSessionExpired marks an authorization failure detected by the
// fallback transport mid-pagination. The current call keeps its
// partial result; the next call re-authenticates.
var ErrSessionExpired = errors.New("portal session expired")

// ErrNoCredentials means no cookies were captured at login, so the
// fallback transport cannot run for this cycle.
var ErrNoCredentials = errors.New("no session credentials for fallback transport")

// AuthError reports login exhaustion. Fatal for the calling request.
type AuthError struct {
	LastURL string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("portal login failed (last url %q): %v", e.LastURL, e.Err)
	}
	return fmt.Sprintf("portal login failed (last url %q)", e.LastURL)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError reports a single failed page retrieval. Recovered
// locally by escalating to the fallback transport or by ending the
// pagination loop with partial data.
type TransportError struct {
	Transport string // "page" or "http"
	Page      int
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport failed on page %d: %v", e.Transport, e.Page, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports a report fragment that could not be parsed at
// all. Treated like a transport failure by the pagination loop.
type ParseError struct {
	Page int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse report page %d: %v", e.Page, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
