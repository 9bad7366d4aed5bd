// Package certfetch retrieves a remote node's TLS leaf certificate
// out-of-band, over its plain REST port, the same way the reference
// implementation calls Python's ssl.get_server_certificate before trusting
// a node's API endpoint for anything else.
package certfetch

import (
	"context"
	"crypto/tls"
	"encoding/pem"
	"fmt"
	"net"
	"time"

	"github.com/proxyfleet/dispatcher/internal/core/domain"
	"github.com/proxyfleet/dispatcher/internal/core/ports"
)

const DefaultDialTimeout = 5 * time.Second

// Fetcher dials a node's REST port with TLS verification disabled purely to
// capture the certificate the peer presents, then re-encodes it as PEM.
// This is deliberately the only place in the module that turns off
// certificate verification, and it exists only to bootstrap trust for
// every subsequent call, which is made over a channel pinned to exactly
// this certificate.
type Fetcher struct {
	DialTimeout time.Duration
}

// New returns a Fetcher with the default dial timeout.
func New() *Fetcher {
	return &Fetcher{DialTimeout: DefaultDialTimeout}
}

// FetchLeafCert connects to node's REST port and returns its leaf
// certificate PEM-encoded.
func (f *Fetcher) FetchLeafCert(ctx context.Context, node domain.NodeView) ([]byte, error) {
	timeout := f.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	dialer := &net.Dialer{Timeout: timeout}
	target := fmt.Sprintf("%s:%d", node.Address, node.RESTPort)

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := tls.DialWithDialer(dialer, "tcp", target, &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // bootstrapping trust; callers pin the returned cert afterward
	})
	if err != nil {
		return nil, &domain.CertFetchError{Target: target, Err: err}
	}
	defer conn.Close()

	if dialCtx.Err() != nil {
		return nil, &domain.CertFetchError{Target: target, Err: dialCtx.Err()}
	}

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, &domain.CertFetchError{Target: target, Err: fmt.Errorf("peer presented no certificate")}
	}

	block := &pem.Block{Type: "CERTIFICATE", Bytes: certs[0].Raw}
	return pem.EncodeToMemory(block), nil
}

var _ ports.CertFetcher = (*Fetcher)(nil)
