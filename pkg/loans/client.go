// Package loans queries the MeridianLink loan origination API for the loan
// applications of a member.
package loans

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiosklab/corelink/pkg/upstream"
)

// DefaultTimeout bounds each call to the loan origination API.
const DefaultTimeout = 30 * time.Second

// Config is the connection configuration for the loan origination API.
type Config struct {
	SearchURL  string             `yaml:"search_url" validate:"required,url"`
	GetLoanURL string             `yaml:"get_loan_url" validate:"required,url"`
	UserID     string             `yaml:"user_id" validate:"required"`
	Password   string             `yaml:"password" validate:"required"`
	TLS        upstream.TLSConfig `yaml:"tls"`
}

// Client calls the search and get-loan endpoints. Credentials travel inside
// every request, so there is no session.
type Client struct {
	cfg    Config
	caller *upstream.Caller
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the http.Client used for all calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.caller.HTTPClient = httpClient
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.caller.Timeout = d
	}
}

// WithArchive sets where unparsable payloads are kept.
func WithArchive(a upstream.Archive) Option {
	return func(c *Client) {
		c.caller.Archive = a
	}
}

// NewClient creates a Client without contacting the API.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		caller: &upstream.Caller{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.caller.HTTPClient == nil {
		httpClient, err := upstream.NewHTTPClient(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("creating http client: %w", err)
		}
		c.caller.HTTPClient = httpClient
	}
	if cfg.UserID == "" || cfg.Password == "" {
		slog.Warn("loan origination credentials are not configured")
	}
	return c, nil
}

// FetchLoansBySSN lists the loan applications of a borrower. An empty slice
// means the borrower has no applications; failures are returned as errors.
func (c *Client) FetchLoansBySSN(ctx context.Context, ssn string) ([]Loan, error) {
	if ssn == "" {
		return nil, fmt.Errorf("%s: borrower SSN is required", opSearch)
	}
	body, err := buildSearchRequest(c.cfg, ssn)
	if err != nil {
		return nil, err
	}

	slog.Info("searching loan applications", "ssn_last4", last4(ssn))
	resp, err := c.caller.Post(ctx, upstream.Request{
		Op:          opSearch,
		Endpoint:    c.cfg.SearchURL,
		ContentType: "application/xml",
		Body:        body,
	})
	if err != nil {
		return nil, err
	}

	loans, err := parseSearchResponse(resp)
	if err != nil {
		return nil, c.caller.Archived(err)
	}
	slog.Debug("parsed loan applications", "ssn_last4", last4(ssn), "count", len(loans))
	return loans, nil
}

// FetchLoan loads the details of one loan application.
func (c *Client) FetchLoan(ctx context.Context, loanID string) (*LoanDetail, error) {
	if loanID == "" {
		return nil, fmt.Errorf("%s: loan id is required", opGetLoan)
	}
	body, err := buildGetLoanRequest(c.cfg, loanID)
	if err != nil {
		return nil, err
	}

	resp, err := c.caller.Post(ctx, upstream.Request{
		Op:          opGetLoan,
		Endpoint:    c.cfg.GetLoanURL,
		ContentType: "application/xml",
		Body:        body,
	})
	if err != nil {
		return nil, err
	}

	detail, err := parseGetLoanResponse(resp)
	if err != nil {
		return nil, c.caller.Archived(err)
	}
	return detail, nil
}

func last4(s string) string {
	if len(s) <= 4 {
		return s
	}
	return s[len(s)-4:]
}
