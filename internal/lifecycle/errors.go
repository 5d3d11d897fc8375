package lifecycle

import (
	"errors"
	"fmt"
)

// ErrRequestTokenStale reports a complete-flow attempt with a request token
// that has been superseded by a newer start, consumed, or outlived its TTL.
// The operator must restart from the beginning of the flow.
var ErrRequestTokenStale = errors.New("request token superseded or expired")

// UpstreamRequestTokenError reports that the broker rejected the
// request-token leg of the handshake. Never retried automatically.
type UpstreamRequestTokenError struct {
	Environment Environment
	StatusCode  int
	Detail      string
}

func (e *UpstreamRequestTokenError) Error() string {
	return fmt.Sprintf("%s: request token rejected upstream (status %d): %s", e.Environment, e.StatusCode, e.Detail)
}

// UpstreamAccessTokenError reports that the broker rejected the access-token
// leg of the handshake for a reason other than a bad verifier.
type UpstreamAccessTokenError struct {
	Environment Environment
	StatusCode  int
	Detail      string
}

func (e *UpstreamAccessTokenError) Error() string {
	return fmt.Sprintf("%s: access token rejected upstream (status %d): %s", e.Environment, e.StatusCode, e.Detail)
}

// VerifierRejectedError reports a bad or expired PIN. The operator must
// restart from the beginning of the flow.
type VerifierRejectedError struct {
	Environment Environment
}

func (e *VerifierRejectedError) Error() string {
	return fmt.Sprintf("%s: broker rejected the verifier PIN", e.Environment)
}

// PersistenceError reports that a durable write failed. A token that could
// not be durably saved is not considered obtained.
type PersistenceError struct {
	Environment Environment
	Cause       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: persisting credential state: %v", e.Environment, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// NetworkError reports a transport-level failure (timeout, connection reset)
// talking to the broker. Keep-alive callers log and wait for the next tick;
// handshake callers surface it immediately.
type NetworkError struct {
	Environment Environment
	Op          string
	Cause       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Environment, e.Op, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }
