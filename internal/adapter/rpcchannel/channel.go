package rpcchannel

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/proxyfleet/dispatcher/internal/core/domain"
	"github.com/proxyfleet/dispatcher/internal/core/ports"
)

// RpcChannel owns one persistent, lazily-established connection to a single
// endpoint — the main core or one node — and tracks its four-state
// lifecycle. There is no gRPC dependency anywhere in this module's stack;
// the proxy engine's remote-administration surface is modeled here as an
// inbound-handler HTTP endpoint speaking JSON, carried over a pooled
// *http.Client the same way the rest of this codebase talks to HTTP peers.
type RpcChannel struct {
	cfg Config

	mu       sync.Mutex
	state    domain.ChannelState
	lastErr  error
	client   *http.Client
	endpoint string // "https://host:port" or "http://host:port"
}

// New creates a channel in the DISCONNECTED state. It does not dial.
func New(cfg Config) *RpcChannel {
	scheme := "http"
	if len(cfg.TLSRootCert) > 0 {
		scheme = "https"
	}
	return &RpcChannel{
		cfg:      cfg,
		state:    domain.ChannelDisconnected,
		endpoint: fmt.Sprintf("%s://%s:%d", scheme, cfg.Address, cfg.Port),
	}
}

// State returns the channel's current lifecycle state.
func (c *RpcChannel) State() domain.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error that caused the most recent FAILED
// transition, if any.
func (c *RpcChannel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Target returns the "host:port" this channel is bound to, for error
// messages and logging.
func (c *RpcChannel) Target() string {
	return fmt.Sprintf("%s:%d", c.cfg.Address, c.cfg.Port)
}

// Connect is idempotent: a channel already CONNECTED returns immediately.
// Otherwise it transitions DISCONNECTED|FAILED -> CONNECTING, builds the
// underlying *http.Client (TLS-pinned when a root cert was supplied, with
// the SNI override applied when set), and probes readiness within
// connect_timeout before declaring CONNECTED.
func (c *RpcChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == domain.ChannelConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = domain.ChannelConnecting
	c.mu.Unlock()

	client, err := c.buildClient()
	if err != nil {
		c.fail(err)
		return &domain.ConnectError{Target: c.Target(), Err: err}
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.connectTimeout())
	defer cancel()

	if err := c.probe(dialCtx, client); err != nil {
		c.fail(err)
		return &domain.ConnectError{Target: c.Target(), Err: err}
	}

	c.mu.Lock()
	c.client = client
	c.state = domain.ChannelConnected
	c.lastErr = nil
	c.mu.Unlock()

	return nil
}

// Disconnect tears down the transport and transitions to DISCONNECTED. It
// never fails.
func (c *RpcChannel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	c.state = domain.ChannelDisconnected
	c.lastErr = nil
}

// EnsureConnected is the operation every RPC call site invokes first. If
// already CONNECTED it returns ok immediately (the pooled transport handles
// its own idle-connection recycling, so there is no separate IDLE probe
// needed at this layer); otherwise it transitions to DISCONNECTED and
// attempts a fresh Connect.
func (c *RpcChannel) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == domain.ChannelConnected {
		return nil
	}

	c.mu.Lock()
	c.state = domain.ChannelDisconnected
	c.mu.Unlock()

	return c.Connect(ctx)
}

// Transport returns the underlying HTTP client, failing with NotConnected
// unless the channel is CONNECTED.
func (c *RpcChannel) Transport() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.ChannelConnected || c.client == nil {
		return nil, &domain.NotConnected{Target: c.Target(), State: c.state}
	}
	return c.client, nil
}

func (c *RpcChannel) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	c.state = domain.ChannelFailed
	c.lastErr = err
}

func (c *RpcChannel) buildClient() (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        DefaultMaxIdleConnections,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		MaxIdleConnsPerHost: DefaultMaxIdleConnectionsPerHost,
	}

	if len(c.cfg.TLSRootCert) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(c.cfg.TLSRootCert) {
			return nil, fmt.Errorf("no valid certificates found in supplied root cert")
		}
		transport.TLSClientConfig = &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		}
		if c.cfg.TLSServerNameOverride != "" {
			transport.TLSClientConfig.ServerName = c.cfg.TLSServerNameOverride
		}
	}

	return &http.Client{
		Timeout:   c.cfg.callTimeout(),
		Transport: transport,
	}, nil
}

// probe issues a lightweight HEAD request to confirm the endpoint is
// reachable and, for TLS channels, that the handshake succeeds against the
// pinned root.
func (c *RpcChannel) probe(ctx context.Context, client *http.Client) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.endpoint+"/", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// AddUser issues an AlterInbound add against this channel's endpoint.
// Remote "already exists" failures are returned as errors; the caller (the
// manager) decides to treat them as success.
func (c *RpcChannel) AddUser(ctx context.Context, tag string, account domain.Account) error {
	return c.alterInbound(ctx, alterInboundRequest{
		Tag:       tag,
		Operation: "add",
		Add: &addUserOperation{
			Email:   account.Email,
			Flow:    string(account.Flow),
			Account: account.Settings,
		},
	})
}

// RemoveUser issues an AlterInbound remove against this channel's endpoint.
func (c *RpcChannel) RemoveUser(ctx context.Context, tag string, email string) error {
	return c.alterInbound(ctx, alterInboundRequest{
		Tag:       tag,
		Operation: "remove",
		Remove:    &removeUserOperation{Email: email},
	})
}

func (c *RpcChannel) alterInbound(ctx context.Context, body alterInboundRequest) error {
	client, err := c.Transport()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.callTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint+"/alter-inbound", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return &domain.CallTimeout{Target: c.Target(), Operation: body.Operation}
		}
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	var parsed alterInboundResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decoding alter-inbound response: %w", err)
	}

	if !parsed.Ok {
		return &domain.RemoteError{
			Target:    c.Target(),
			Tag:       body.Tag,
			Operation: body.Operation,
			Err:       fmt.Errorf("%s", parsed.Error),
		}
	}

	return nil
}

var _ ports.Transport = (*RpcChannel)(nil)
