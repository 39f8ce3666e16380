package dna

import (
	"net/http"
	"time"

	"github.com/kiosklab/corelink/pkg/upstream"
)

// Config is the connection configuration for a DNA core.
// PIEEndpoint serves the sign-on handshake, DNAEndpoint the core API.
type Config struct {
	PIEEndpoint     string             `yaml:"pie_endpoint" validate:"required,url"`
	DNAEndpoint     string             `yaml:"dna_endpoint" validate:"required,url"`
	DeviceID        string             `yaml:"device_id" validate:"required"`
	ProdEnvCode     string             `yaml:"prod_env_cd" validate:"required"`
	ProdDefCode     string             `yaml:"prod_def_cd" validate:"required"`
	UserID          string             `yaml:"user_id" validate:"required"`
	Password        string             `yaml:"password" validate:"required"`
	ApplicationID   string             `yaml:"application_id" validate:"required"`
	NetworkNodeName string             `yaml:"network_node_name" validate:"required"`
	TLS             upstream.TLSConfig `yaml:"tls"`
}

// ClientConfig holds client-side behavior settings that are independent of
// the connection configuration.
type ClientConfig struct {
	// Timeout bounds each outbound call.
	Timeout time.Duration
	// SessionLifetime is how long a session is reused before a new handshake.
	SessionLifetime time.Duration
	// HTTPClient replaces the client built from Config.TLS.
	HTTPClient *http.Client
	// Archive receives payloads that fail to parse. Optional.
	Archive upstream.Archive
	// Now is the clock used for session expiry.
	Now func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*ClientConfig)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = d
	}
}

// WithHTTPClient sets the http.Client used for all calls.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *ClientConfig) {
		c.HTTPClient = httpClient
	}
}

// WithArchive sets where unparsable payloads are kept.
func WithArchive(a upstream.Archive) ClientOption {
	return func(c *ClientConfig) {
		c.Archive = a
	}
}

// WithClock sets the clock used for session expiry.
func WithClock(now func() time.Time) ClientOption {
	return func(c *ClientConfig) {
		c.Now = now
	}
}

func defaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:         upstream.DefaultTimeout,
		SessionLifetime: SessionLifetime,
		Now:             time.Now,
	}
}
