package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
)

// TLSConfig holds TLS options for backend connections.
type TLSConfig struct {
	// InsecureSkipVerify skips certificate verification. Dev/test only.
	InsecureSkipVerify bool

	// CACertificate is a path to a custom CA certificate file.
	CACertificate string
}

// NewPooledTransport builds the shared connection pool used by all request
// sessions. Individual requests are independent; the pool amortizes TLS and
// TCP setup across backends.
func NewPooledTransport(cfg *TLSConfig) *http.Transport {
	transport := &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{},
	}

	if cfg == nil {
		return transport
	}

	if cfg.CACertificate != "" {
		if pool, err := loadCertPool(cfg.CACertificate); err == nil {
			transport.TLSClientConfig.RootCAs = pool
		}
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig.InsecureSkipVerify = true
	}

	return transport
}

// WithTLSConfig builds the client session over a transport with the given
// TLS options.
func WithTLSConfig(cfg *TLSConfig) Option {
	return func(c *Client) {
		c.session = &http.Client{
			Transport: NewPooledTransport(cfg),
			Timeout:   c.timeout,
		}
	}
}

func loadCertPool(path string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate from %s: %w", path, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate from %s", path)
	}
	return pool, nil
}
