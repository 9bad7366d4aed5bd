package fleet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

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

type fakeCatalog struct {
	catalog domain.InboundCatalog
}

func (f *fakeCatalog) InboundCatalog(_ context.Context) (domain.InboundCatalog, error) {
	return f.catalog, nil
}

type fakeCertFetcher struct {
	pem []byte
}

func (f *fakeCertFetcher) FetchLeafCert(_ context.Context, _ domain.NodeView) ([]byte, error) {
	return f.pem, nil
}

type countingLogger struct {
	mu     sync.Mutex
	errors int
}

func (l *countingLogger) Debug(string, ...any) {}
func (l *countingLogger) Info(string, ...any)  {}
func (l *countingLogger) Warn(string, ...any)  {}
func (l *countingLogger) Error(string, ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors++
}

func newAlterInboundServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/alter-inbound", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	return httptest.NewServer(mux)
}

func testCatalog() domain.InboundCatalog {
	return domain.InboundCatalog{
		"vless-in": {Tag: "vless-in", Network: domain.NetworkTCP, TLS: domain.TLSReality},
	}
}

func newTestDispatcher(t *testing.T, mainSrv *httptest.Server) (*Dispatcher, *countingLogger) {
	t.Helper()
	log := &countingLogger{}
	d := New(Config{ConnectTimeout: time.Second, CallTimeout: time.Second}, &fakeCatalog{catalog: testCatalog()}, &fakeCertFetcher{}, log)

	host, port := splitHostPort(t, mainSrv.URL)
	require.NoError(t, d.Start(context.Background(), host, port))
	return d, log
}

func TestDispatcher_StartConnectsMainChannel(t *testing.T) {
	srv := newAlterInboundServer(t)
	defer srv.Close()

	d, _ := newTestDispatcher(t, srv)
	defer d.Stop()

	assert.True(t, d.IsStarted())
	assert.Equal(t, domain.ChannelConnected, d.GetStats().MainChannelState)
}

func TestDispatcher_StopIsIdempotentAndDisconnects(t *testing.T) {
	srv := newAlterInboundServer(t)
	defer srv.Close()

	d, _ := newTestDispatcher(t, srv)
	d.Stop()
	d.Stop()

	assert.False(t, d.IsStarted())
}

func TestDispatcher_AddUserBeforeStartReturnsNotStarted(t *testing.T) {
	d := New(Config{}, &fakeCatalog{catalog: testCatalog()}, &fakeCertFetcher{}, nil)

	err := d.AddUser(context.Background(), domain.UserView{ID: 1, Username: "alice"})
	assert.ErrorIs(t, err, domain.ErrNotStarted)
}

func TestDispatcher_AddUserDirectFansOutToMainChannel(t *testing.T) {
	srv := newAlterInboundServer(t)
	defer srv.Close()

	d, _ := newTestDispatcher(t, srv)
	defer d.Stop()

	user := domain.UserView{
		ID:       7,
		Username: "bob",
		Proxies: map[domain.ProxyType]domain.ProxySettings{
			domain.ProxyVLESS: {Flow: domain.FlowVision, Settings: map[string]any{"id": "uuid"}},
		},
		Inbounds: map[domain.ProxyType][]string{
			domain.ProxyVLESS: {"vless-in"},
		},
	}

	require.NoError(t, d.AddUserDirect(context.Background(), user))
}

func TestDispatcher_EnqueuedAddFlushesThroughQueue(t *testing.T) {
	srv := newAlterInboundServer(t)
	defer srv.Close()

	log := &countingLogger{}
	d := New(Config{ConnectTimeout: time.Second, CallTimeout: time.Second, QueueFlushInterval: 10 * time.Millisecond},
		&fakeCatalog{catalog: testCatalog()}, &fakeCertFetcher{}, log)

	host, port := splitHostPort(t, srv.URL)
	require.NoError(t, d.Start(context.Background(), host, port))
	defer d.Stop()

	user := domain.UserView{
		ID:       9,
		Username: "carol",
		Inbounds: map[domain.ProxyType][]string{domain.ProxyVLESS: {"vless-in"}},
	}
	require.NoError(t, d.AddUser(context.Background(), user))

	require.Eventually(t, func() bool {
		return d.GetStats().Queue.Flushed >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcher_ConnectNodeTracksNodeUntilDisconnect(t *testing.T) {
	mainSrv := newAlterInboundServer(t)
	defer mainSrv.Close()
	nodeSrv := newAlterInboundServer(t)
	defer nodeSrv.Close()

	log := &countingLogger{}
	d := New(Config{ConnectTimeout: time.Second, CallTimeout: time.Second}, &fakeCatalog{catalog: testCatalog()}, &fakeCertFetcher{}, log)

	mainHost, mainPort := splitHostPort(t, mainSrv.URL)
	require.NoError(t, d.Start(context.Background(), mainHost, mainPort))
	defer d.Stop()

	nodeHost, nodePort := splitHostPort(t, nodeSrv.URL)
	require.NoError(t, d.ConnectNode(context.Background(), domain.NodeView{ID: 1, Name: "node-a", Address: nodeHost, RPCPort: nodePort, RESTPort: nodePort}))

	assert.Contains(t, d.ConnectedNodes(), 1)
	assert.Equal(t, 1, d.GetStats().ConnectedNodes)

	d.DisconnectNode(1)
	assert.NotContains(t, d.ConnectedNodes(), 1)
}

func TestDispatcher_SubscribeReceivesNodeLifecycleEvents(t *testing.T) {
	mainSrv := newAlterInboundServer(t)
	defer mainSrv.Close()
	nodeSrv := newAlterInboundServer(t)
	defer nodeSrv.Close()

	d, _ := newTestDispatcher(t, mainSrv)
	defer d.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, unsubscribe := d.Subscribe(ctx)
	defer unsubscribe()

	nodeHost, nodePort := splitHostPort(t, nodeSrv.URL)
	require.NoError(t, d.ConnectNode(context.Background(), domain.NodeView{ID: 5, Address: nodeHost, RPCPort: nodePort, RESTPort: nodePort}))

	select {
	case ev := <-events:
		assert.Equal(t, NodeConnected, ev.Type)
		assert.Equal(t, 5, ev.NodeID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for node connected event")
	}

	d.DisconnectNode(5)

	select {
	case ev := <-events:
		assert.Equal(t, NodeDisconnected, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for node disconnected event")
	}
}

func TestDispatcher_RemoveUserDirectSweepsEveryCatalogTag(t *testing.T) {
	srv := newAlterInboundServer(t)
	defer srv.Close()

	d, _ := newTestDispatcher(t, srv)
	defer d.Stop()

	err := d.RemoveUserDirect(context.Background(), domain.UserView{ID: 3, Username: "dave"})
	require.NoError(t, err)
}
