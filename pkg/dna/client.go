package dna

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kiosklab/corelink/pkg/upstream"
)

// Client talks to one DNA core. It holds at most one live session, shared by
// all concurrent operations.
type Client struct {
	cfg    Config
	Config *ClientConfig
	caller *upstream.Caller

	lock       sync.RWMutex
	session    *Session
	handshakes atomic.Int64
}

// NewClient creates a Client. It does not contact the upstream; the first
// operation performs the sign-on handshake.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	config := defaultClientConfig()
	for _, opt := range opts {
		opt(config)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		var err error
		httpClient, err = upstream.NewHTTPClient(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("creating http client: %w", err)
		}
	}

	return &Client{
		cfg:    cfg,
		Config: config,
		caller: &upstream.Caller{
			HTTPClient: httpClient,
			Timeout:    config.Timeout,
			Archive:    config.Archive,
		},
	}, nil
}

// Handshakes is the number of sign-on handshakes attempted so far.
func (c *Client) Handshakes() int64 {
	return c.handshakes.Load()
}

// submit runs one core API operation and parses its result.
func (c *Client) submit(ctx context.Context, kind RequestKind, params Params) (*Result, error) {
	session, err := c.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}

	body, err := BuildEnvelope(kind, params, Authentication{
		ApplicationID:   c.cfg.ApplicationID,
		NetworkNodeName: c.cfg.NetworkNodeName,
		Token:           session.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", kind, err)
	}

	resp, err := c.caller.Post(ctx, upstream.Request{
		Op:         kind.String(),
		Endpoint:   c.cfg.DNAEndpoint,
		SOAPAction: actionSubmitRequest,
		Body:       body,
	})
	if err != nil {
		return nil, upstream.Rejection(kind.String(), resp, err)
	}

	result, err := ParseEnvelope(kind, resp)
	if err != nil {
		var rejected *upstream.UpstreamRejected
		if errors.As(err, &rejected) && rejected.Stage == upstream.StageAuthentication {
			// the core no longer accepts the token
			c.InvalidateSession()
		}
		return nil, c.caller.Archived(err)
	}
	return result, nil
}
