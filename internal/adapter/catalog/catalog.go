// Package catalog loads the main core's inbound configuration from a JSON
// file on disk and keeps it fresh, the way internal/config watches its own
// YAML file — fan-out needs the tag/network/tls/header_type tuple per
// inbound to decide flow-gating, and that detail lives in the proxy
// engine's own config, not in fleetd's.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/proxyfleet/dispatcher/internal/core/domain"
	"github.com/proxyfleet/dispatcher/internal/core/ports"
)

// DefaultReloadDebounce mirrors internal/config's guard against duplicate
// fsnotify events firing for a single save.
const DefaultReloadDebounce = 500 * time.Millisecond

// inboundEntry is one row of the catalog file.
type inboundEntry struct {
	Tag        string `json:"tag"`
	Network    string `json:"network"`
	TLS        string `json:"tls"`
	HeaderType string `json:"header_type"`
}

// Provider is a file-backed ports.InboundCatalogProvider. It loads once at
// construction and again whenever the file changes on disk.
type Provider struct {
	path string
	log  ports.Logger

	catalog atomic.Pointer[domain.InboundCatalog]

	mu         sync.Mutex
	lastReload time.Time
	watcher    *fsnotify.Watcher
}

// New loads path once and starts watching it for changes. The watcher
// goroutine exits when ctx is cancelled.
func New(ctx context.Context, path string, log ports.Logger) (*Provider, error) {
	p := &Provider{path: path, log: log}

	if err := p.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("starting catalog watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching catalog file %s: %w", path, err)
	}
	p.watcher = watcher

	go p.watchLoop(ctx)

	return p, nil
}

func (p *Provider) watchLoop(ctx context.Context) {
	defer p.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p.debouncedReload()
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			if p.log != nil {
				p.log.Warn("catalog watcher error", "error", err)
			}
		}
	}
}

func (p *Provider) debouncedReload() {
	p.mu.Lock()
	now := time.Now()
	if now.Sub(p.lastReload) < DefaultReloadDebounce {
		p.mu.Unlock()
		return
	}
	p.lastReload = now
	p.mu.Unlock()

	// Let the write finish before re-reading, with the same settle delay as
	// internal/config's DefaultFileWriteDelay.
	time.Sleep(150 * time.Millisecond)

	if err := p.reload(); err != nil && p.log != nil {
		p.log.Error("failed to reload inbound catalog", "path", p.path, "error", err)
	}
}

func (p *Provider) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("reading catalog file %s: %w", p.path, err)
	}

	var entries []inboundEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing catalog file %s: %w", p.path, err)
	}

	catalog := make(domain.InboundCatalog, len(entries))
	for _, e := range entries {
		catalog[e.Tag] = domain.Inbound{
			Tag:        e.Tag,
			Network:    domain.InboundNetwork(e.Network),
			TLS:        domain.InboundTLS(e.TLS),
			HeaderType: e.HeaderType,
		}
	}

	p.catalog.Store(&catalog)

	if p.log != nil {
		p.log.Info("inbound catalog loaded", "path", p.path, "inbounds", len(catalog))
	}
	return nil
}

// InboundCatalog returns the most recently loaded snapshot. It never blocks
// on disk I/O — reloads happen only off the fsnotify watch loop.
func (p *Provider) InboundCatalog(ctx context.Context) (domain.InboundCatalog, error) {
	c := p.catalog.Load()
	if c == nil {
		return nil, fmt.Errorf("inbound catalog not yet loaded")
	}
	return *c, nil
}

var _ ports.InboundCatalogProvider = (*Provider)(nil)
