package upstream

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
)

// UserAgent is sent with every upstream request.
var UserAgent = "corelink/dev"

// TLSConfig controls certificate verification towards an upstream endpoint.
type TLSConfig struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CAFile             string `yaml:"ca_file"`
	ServerName         string `yaml:"server_name"`
}

// NewHTTPClient creates an http.Client for an upstream endpoint.
// It configures TLS but does not contact the upstream.
// Timeouts are applied per call, not on the client.
func NewHTTPClient(config TLSConfig) (*http.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			ServerName:         config.ServerName,
			InsecureSkipVerify: config.InsecureSkipVerify,
		},
	}

	if config.InsecureSkipVerify {
		slog.Warn("TLS certificate verification is disabled", "server_name", config.ServerName)
	}

	if config.CAFile != "" {
		pemData, err := os.ReadFile(config.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates found in %s", config.CAFile)
		}
		transport.TLSClientConfig.RootCAs = certPool
	}

	return &http.Client{
		Transport: &userAgentTransport{base: transport},
	}, nil
}

type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", UserAgent)
	return t.base.RoundTrip(r)
}
