package rpcchannel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxyfleet/dispatcher/internal/core/domain"
)

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/alter-inbound", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	return httptest.NewServer(mux)
}

func TestChannel_ConnectTransitionsThroughConnecting(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	ch := New(Config{Address: host, Port: port})

	assert.Equal(t, domain.ChannelDisconnected, ch.State())

	err := ch.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelConnected, ch.State())
}

func TestChannel_ConnectIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	ch := New(Config{Address: host, Port: port})

	require.NoError(t, ch.Connect(context.Background()))
	require.NoError(t, ch.Connect(context.Background()))
	assert.Equal(t, domain.ChannelConnected, ch.State())
}

func TestChannel_ConnectFailureTransitionsToFailed(t *testing.T) {
	ch := New(Config{Address: "127.0.0.1", Port: 1, ConnectTimeout: 0})

	err := ch.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ChannelFailed, ch.State())

	var connErr *domain.ConnectError
	assert.ErrorAs(t, err, &connErr)
}

func TestChannel_DisconnectAlwaysLeavesDisconnected(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	ch := New(Config{Address: host, Port: port})

	require.NoError(t, ch.Connect(context.Background()))
	ch.Disconnect()
	assert.Equal(t, domain.ChannelDisconnected, ch.State())

	ch.Disconnect()
	assert.Equal(t, domain.ChannelDisconnected, ch.State())
}

func TestChannel_EnsureConnectedReconnectsFromFailed(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	ch := New(Config{Address: host, Port: port})
	ch.fail(errors.New("simulated prior failure"))

	require.NoError(t, ch.EnsureConnected(context.Background()))
	assert.Equal(t, domain.ChannelConnected, ch.State())
}

func TestChannel_TransportFailsUnlessConnected(t *testing.T) {
	ch := New(Config{Address: "127.0.0.1", Port: 1})

	_, err := ch.Transport()
	require.Error(t, err)

	var notConn *domain.NotConnected
	assert.ErrorAs(t, err, &notConn)
}

func TestChannel_AddUserAndRemoveUserRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	ch := New(Config{Address: host, Port: port})
	require.NoError(t, ch.Connect(context.Background()))

	acct := domain.Account{Email: "1.alice", Settings: map[string]any{"id": "uuid"}}
	require.NoError(t, ch.AddUser(context.Background(), "vless-in", acct))
	require.NoError(t, ch.RemoveUser(context.Background(), "vless-in", acct.Email))
}

func TestChannel_AlterInboundSurfacesRemoteError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/alter-inbound", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"boom"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	ch := New(Config{Address: host, Port: port})
	require.NoError(t, ch.Connect(context.Background()))

	err := ch.AddUser(context.Background(), "vless-in", domain.Account{Email: "1.alice"})
	require.Error(t, err)

	var remoteErr *domain.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Contains(t, remoteErr.Err.Error(), "boom")
}
