package upstream

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an authenticated, successful call carries no
// record. It is not an error condition for caching purposes and must not be
// cached as a negative result.
var ErrNotFound = errors.New("record not found")

// AuthError means the session handshake failed. All operations depending on
// the session are unavailable for this call.
type AuthError struct {
	Step string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed at %s: %v", e.Step, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError covers timeouts, refused connections and non-2xx replies.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status code %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError means the response matched none of the known schema shapes.
// Payload holds the raw body for diagnosis; ArchiveID is set when the payload
// was written to an Archive.
type ParseError struct {
	Op        string
	Reason    string
	Payload   []byte
	ArchiveID string
	Err       error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%s: unexpected response: %s", e.Op, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.ArchiveID != "" {
		msg += " (archived as " + e.ArchiveID + ")"
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// RejectStage tells which success flag was false.
type RejectStage string

const (
	// StageAuthentication is the outer "was the call authenticated" flag.
	StageAuthentication RejectStage = "authentication"
	// StageOperation is the inner per-operation flag.
	StageOperation RejectStage = "operation"
	// StageFault is a SOAP fault body.
	StageFault RejectStage = "fault"
)

// UpstreamRejected means the call completed but the business operation
// failed. Reason is the upstream message, passed through unchanged.
type UpstreamRejected struct {
	Op     string
	Stage  RejectStage
	Reason string
}

func (e *UpstreamRejected) Error() string {
	return fmt.Sprintf("%s rejected (%s): %s", e.Op, e.Stage, e.Reason)
}

// Kind classifies err into the taxonomy. It returns "" for nil and
// "unknown" for errors outside the taxonomy.
func Kind(err error) string {
	var (
		authErr      *AuthError
		transportErr *TransportError
		parseErr     *ParseError
		rejected     *UpstreamRejected
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.As(err, &authErr):
		// checked before transport: auth failures usually wrap a TransportError
		return "auth"
	case errors.As(err, &rejected):
		return "rejected"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &transportErr):
		return "transport"
	default:
		return "unknown"
	}
}
