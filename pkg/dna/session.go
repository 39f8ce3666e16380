package dna

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiosklab/corelink/pkg/upstream"
)

// SessionLifetime is how long a session is reused. The core does not report
// an expiry, so the lifetime is tracked on the client.
const SessionLifetime = time.Hour

// Session is the result of the sign-on handshake.
type Session struct {
	Ticket    string
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the session can be used at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.Token != "" && now.Before(s.ExpiresAt)
}

// EnsureSession returns the current session, performing the handshake when
// there is none or it has expired. Concurrent callers wait for a running
// handshake and share its result. Failures are returned as
// *upstream.AuthError and nothing is kept.
func (c *Client) EnsureSession(ctx context.Context) (*Session, error) {
	c.lock.RLock()
	session := c.session
	c.lock.RUnlock()
	if session.Valid(c.Config.Now()) {
		return session, nil
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.session.Valid(c.Config.Now()) {
		return c.session, nil
	}
	c.session = nil

	slog.Info("authentication required, starting sign-on")
	session, err := c.handshake(ctx)
	if err != nil {
		slog.Warn("authentication failed, core API unavailable", "error", err)
		return nil, err
	}
	c.session = session
	slog.Info("authentication successful", "expires_at", session.ExpiresAt)
	return session, nil
}

// InvalidateSession drops the current session. The next operation signs on again.
func (c *Client) InvalidateSession() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.session = nil
}

func (c *Client) handshake(ctx context.Context) (*Session, error) {
	c.handshakes.Add(1)

	body, err := BuildSignonRequest(c.cfg, c.Config.Now())
	if err != nil {
		return nil, &upstream.AuthError{Step: "DirectSignon", Err: err}
	}
	resp, err := c.caller.Post(ctx, upstream.Request{
		Op:         "DirectSignon",
		Endpoint:   c.cfg.PIEEndpoint,
		SOAPAction: actionDirectSignon,
		Body:       body,
	})
	if err != nil {
		return nil, &upstream.AuthError{Step: "DirectSignon", Err: upstream.Rejection("DirectSignon", resp, err)}
	}
	ticket, err := parseSignonResponse(resp)
	if err != nil {
		return nil, &upstream.AuthError{Step: "DirectSignon", Err: c.caller.Archived(err)}
	}

	body, err = BuildWhoIsRequest(ticket, c.Config.Now())
	if err != nil {
		return nil, &upstream.AuthError{Step: "WhoIs", Err: err}
	}
	resp, err = c.caller.Post(ctx, upstream.Request{
		Op:         "WhoIs",
		Endpoint:   c.cfg.PIEEndpoint,
		SOAPAction: actionWhoIs,
		Body:       body,
	})
	if err != nil {
		return nil, &upstream.AuthError{Step: "WhoIs", Err: upstream.Rejection("WhoIs", resp, err)}
	}
	token, err := parseWhoIsResponse(resp)
	if err != nil {
		return nil, &upstream.AuthError{Step: "WhoIs", Err: c.caller.Archived(err)}
	}

	return &Session{
		Ticket:    ticket,
		Token:     token,
		ExpiresAt: c.Config.Now().Add(c.Config.SessionLifetime),
	}, nil
}

// parseSignonResponse extracts the SSO ticket. DirectSignonResult carries a
// second XML document as text.
func parseSignonResponse(body []byte) (string, error) {
	root, err := upstream.ParseTree(body)
	if err != nil {
		return "", &upstream.ParseError{Op: "DirectSignon", Reason: "malformed XML", Payload: body, Err: err}
	}
	if reason, ok := upstream.Fault(root); ok {
		return "", &upstream.UpstreamRejected{Op: "DirectSignon", Stage: upstream.StageFault, Reason: reason}
	}

	result := root.Find(nsPIE, "DirectSignonResult").Value()
	if result == "" {
		return "", &upstream.ParseError{Op: "DirectSignon", Reason: "no DirectSignonResult", Payload: body}
	}
	inner, err := upstream.ParseTree([]byte(result))
	if err != nil {
		return "", &upstream.ParseError{Op: "DirectSignon", Reason: "malformed DirectSignonResult", Payload: body, Err: err}
	}
	if inner.Is(upstream.AnyNamespace, "SSOTicket") && inner.Value() != "" {
		return inner.Value(), nil
	}
	if ticket := inner.Find(upstream.AnyNamespace, "SSOTicket").Value(); ticket != "" {
		return ticket, nil
	}
	if msg := inner.Find(upstream.AnyNamespace, "ErrorMessage").Value(); msg != "" {
		return "", &upstream.UpstreamRejected{Op: "DirectSignon", Stage: upstream.StageAuthentication, Reason: msg}
	}
	return "", &upstream.ParseError{Op: "DirectSignon", Reason: "no SSOTicket in DirectSignonResult", Payload: body}
}

func parseWhoIsResponse(body []byte) (string, error) {
	root, err := upstream.ParseTree(body)
	if err != nil {
		return "", &upstream.ParseError{Op: "WhoIs", Reason: "malformed XML", Payload: body, Err: err}
	}
	if reason, ok := upstream.Fault(root); ok {
		return "", &upstream.UpstreamRejected{Op: "WhoIs", Stage: upstream.StageFault, Reason: reason}
	}
	token := root.Find(nsPIE, "WhoIsResult").Value()
	if token == "" {
		return "", &upstream.ParseError{Op: "WhoIs", Reason: "no WhoIsResult", Payload: body}
	}
	return token, nil
}
