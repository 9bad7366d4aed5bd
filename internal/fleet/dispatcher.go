// Package fleet wires the RPC channels, circuit breaker, and operation
// queue into the single façade the rest of the system calls to mutate
// users across the main core and every connected node.
package fleet

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/proxyfleet/dispatcher/internal/adapter/breaker"
	"github.com/proxyfleet/dispatcher/internal/adapter/opqueue"
	"github.com/proxyfleet/dispatcher/internal/adapter/rpcchannel"
	"github.com/proxyfleet/dispatcher/internal/core/domain"
	"github.com/proxyfleet/dispatcher/internal/core/ports"
	"github.com/proxyfleet/dispatcher/pkg/eventbus"
)

// Dispatcher is the central manager: persistent connections to the main
// core and every node, a deduplicating queue in front of user mutations,
// and a per-node circuit breaker gating which nodes are fanned out to on
// any given round.
type Dispatcher struct {
	cfg         Config
	log         ports.Logger
	certFetcher ports.CertFetcher
	catalog     ports.InboundCatalogProvider

	mu          sync.RWMutex
	started     bool
	mainChannel *rpcchannel.RpcChannel

	nodeChannels *xsync.Map[int, *rpcchannel.RpcChannel]
	breaker      *breaker.CircuitBreaker
	queue        *opqueue.Queue
	events       *eventbus.EventBus[LifecycleEvent]
}

// New builds a Dispatcher. It does nothing until Start is called.
func New(cfg Config, catalog ports.InboundCatalogProvider, certFetcher ports.CertFetcher, log ports.Logger) *Dispatcher {
	d := &Dispatcher{
		cfg:          cfg,
		log:          log,
		certFetcher:  certFetcher,
		catalog:      catalog,
		nodeChannels: xsync.NewMap[int, *rpcchannel.RpcChannel](),
		events:       newEventBus(),
	}
	d.breaker = breaker.New(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
		HalfOpenMaxCalls: cfg.BreakerHalfOpenMaxCalls,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		OnTransition: func(nodeID int, from, to domain.CircuitState) {
			d.events.Publish(LifecycleEvent{
				Type:   CircuitTransitioned,
				NodeID: nodeID,
				From:   from,
				To:     to,
			})
		},
	})
	d.queue = opqueue.New(opqueue.Config{
		FlushInterval: cfg.QueueFlushInterval,
		MaxBatchSize:  cfg.QueueMaxBatchSize,
		MaxWaitTime:   cfg.QueueMaxWaitTime,
	}, log)
	return d
}

// Start connects to the main core and launches the operation queue's flush
// loop. Calling Start twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context, mainAddress string, mainPort int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		if d.log != nil {
			d.log.Warn("fleet dispatcher already started")
		}
		return nil
	}

	ch := rpcchannel.New(rpcchannel.Config{
		Address:        mainAddress,
		Port:           mainPort,
		ConnectTimeout: d.cfg.connectTimeout(),
		CallTimeout:    d.cfg.callTimeout(),
	})
	if err := ch.Connect(ctx); err != nil {
		if d.log != nil {
			d.log.Error("failed to connect to main core", "error", err)
		}
		return err
	}
	d.mainChannel = ch

	d.queue.Start(ctx, d)
	d.started = true

	if d.log != nil {
		d.log.Info("fleet dispatcher started", "target", ch.Target())
	}
	return nil
}

// Stop flushes the queue and disconnects every channel. It is safe to call
// on an already-stopped dispatcher.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.mu.Unlock()

	// The final drain runs Execute, whose fan-out reads mainChan() under the
	// read lock, so the queue is stopped without holding d.mu.
	d.queue.Stop()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mainChannel != nil {
		d.mainChannel.Disconnect()
		d.mainChannel = nil
	}

	var nodeIDs []int
	d.nodeChannels.Range(func(id int, ch *rpcchannel.RpcChannel) bool {
		nodeIDs = append(nodeIDs, id)
		return true
	})
	for _, id := range nodeIDs {
		if ch, ok := d.nodeChannels.Load(id); ok {
			ch.Disconnect()
		}
		d.nodeChannels.Delete(id)
	}

	if d.log != nil {
		d.log.Info("fleet dispatcher stopped")
	}
}

// IsStarted reports whether Start has succeeded and Stop hasn't run since.
func (d *Dispatcher) IsStarted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.started
}

// mainChan returns the current main-core channel under the read lock, so
// fan-out code never reads it mid-Start/Stop.
func (d *Dispatcher) mainChan() *rpcchannel.RpcChannel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mainChannel
}

// ConnectNode fetches the node's leaf certificate over its REST port,
// pins a channel to it, and connects. Any existing channel for the same
// node is torn down first.
func (d *Dispatcher) ConnectNode(ctx context.Context, node domain.NodeView) error {
	if !d.IsStarted() {
		return domain.ErrNotStarted
	}

	if existing, ok := d.nodeChannels.Load(node.ID); ok {
		existing.Disconnect()
		d.nodeChannels.Delete(node.ID)
	}

	cert, err := d.certFetcher.FetchLeafCert(ctx, node)
	if err != nil {
		if d.log != nil {
			d.log.Error("failed to fetch node certificate", "node_id", node.ID, "error", err)
		}
		return err
	}

	nodeID := node.ID
	ch := rpcchannel.New(rpcchannel.Config{
		NodeID:                &nodeID,
		Address:               node.Address,
		Port:                  node.RPCPort,
		TLSRootCert:           cert,
		TLSServerNameOverride: rpcchannel.RealitySNI,
		ConnectTimeout:        d.cfg.connectTimeout(),
		CallTimeout:           d.cfg.callTimeout(),
	})
	if err := ch.Connect(ctx); err != nil {
		if d.log != nil {
			d.log.Error("failed to connect to node", "node_id", node.ID, "error", err)
		}
		return err
	}

	d.nodeChannels.Store(node.ID, ch)
	d.breaker.Reset(node.ID)
	d.events.Publish(LifecycleEvent{Type: NodeConnected, NodeID: node.ID})

	if d.log != nil {
		d.log.Info("connected to node", "node_id", node.ID, "name", node.Name, "target", ch.Target())
	}
	return nil
}

// DisconnectNode tears down a node's channel, if present.
func (d *Dispatcher) DisconnectNode(nodeID int) {
	if ch, ok := d.nodeChannels.Load(nodeID); ok {
		ch.Disconnect()
		d.nodeChannels.Delete(nodeID)
		d.events.Publish(LifecycleEvent{Type: NodeDisconnected, NodeID: nodeID})
		if d.log != nil {
			d.log.Info("disconnected from node", "node_id", nodeID)
		}
	}
}

// ReconnectNode disconnects then reconnects a node, refetching its
// certificate in case it rotated.
func (d *Dispatcher) ReconnectNode(ctx context.Context, node domain.NodeView) error {
	d.DisconnectNode(node.ID)
	return d.ConnectNode(ctx, node)
}

// ConnectedNodes returns the ids of every node with a live channel.
func (d *Dispatcher) ConnectedNodes() []int {
	var ids []int
	d.nodeChannels.Range(func(id int, _ *rpcchannel.RpcChannel) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// AddUser, UpdateUser, and RemoveUser enqueue a mutation for the
// deduplicating queue rather than executing it inline.
func (d *Dispatcher) AddUser(ctx context.Context, user domain.UserView) error {
	if !d.IsStarted() {
		return domain.ErrNotStarted
	}
	d.queue.Enqueue(user.ID, domain.OpAdd, user)
	return nil
}

func (d *Dispatcher) UpdateUser(ctx context.Context, user domain.UserView) error {
	if !d.IsStarted() {
		return domain.ErrNotStarted
	}
	d.queue.Enqueue(user.ID, domain.OpUpdate, user)
	return nil
}

func (d *Dispatcher) RemoveUser(ctx context.Context, user domain.UserView) error {
	if !d.IsStarted() {
		return domain.ErrNotStarted
	}
	d.queue.Enqueue(user.ID, domain.OpRemove, user)
	return nil
}

// AddUserDirect, UpdateUserDirect, and RemoveUserDirect bypass the queue
// and execute immediately, for callers that need synchronous confirmation.
func (d *Dispatcher) AddUserDirect(ctx context.Context, user domain.UserView) error {
	return d.doAddUser(ctx, user)
}

func (d *Dispatcher) UpdateUserDirect(ctx context.Context, user domain.UserView) error {
	return d.doUpdateUser(ctx, user)
}

func (d *Dispatcher) RemoveUserDirect(ctx context.Context, user domain.UserView) error {
	return d.doRemoveUser(ctx, user)
}

// Execute drains one batch handed to it by the operation queue. Every op
// runs concurrently and to completion; a failure is logged, not
// propagated, matching the fire-and-forget batch semantics of the queue.
func (d *Dispatcher) Execute(ctx context.Context, batch []domain.PendingOp) {
	var eg errgroup.Group

	for _, op := range batch {
		op := op
		eg.Go(func() error {
			var err error
			switch op.Type {
			case domain.OpAdd:
				err = d.doAddUser(ctx, op.User)
			case domain.OpUpdate:
				err = d.doUpdateUser(ctx, op.User)
			case domain.OpRemove:
				err = d.doRemoveUser(ctx, op.User)
			}
			if err != nil && d.log != nil {
				d.log.Error("operation failed", "op", op.Type.String(), "user_id", op.UserID, "error", err)
				// TODO: a failed batch op is dropped here. Retrying it needs
				// somewhere durable to land a dead-letter record first, since
				// re-enqueuing blindly risks losing it again on a second
				// flush-loop crash.
			}
			return nil
		})
	}

	_ = eg.Wait()
}

// GetStats returns a point-in-time snapshot of the dispatcher's health.
func (d *Dispatcher) GetStats() domain.FleetStats {
	d.mu.RLock()
	mainState := domain.ChannelDisconnected
	if d.mainChannel != nil {
		mainState = d.mainChannel.State()
	}
	started := d.started
	d.mu.RUnlock()

	var nodeCount int
	d.nodeChannels.Range(func(_ int, _ *rpcchannel.RpcChannel) bool {
		nodeCount++
		return true
	})

	return domain.FleetStats{
		Started:          started,
		MainChannelState: mainState,
		ConnectedNodes:   nodeCount,
		OpenCircuits:     len(d.breaker.OpenNodes()),
		Queue:            d.queue.Stats(),
	}
}

var _ ports.UserFacade = (*Dispatcher)(nil)
var _ ports.Executor = (*Dispatcher)(nil)

// errAggregate accumulates concurrent task errors under a mutex; multierr
// itself is fine to Append into concurrently only when serialized by a
// lock, so every call site guards it with one.
type errAggregate struct {
	mu  sync.Mutex
	err error
}

func (a *errAggregate) add(err error) {
	if err == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = multierr.Append(a.err, err)
}

func (a *errAggregate) combined() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}
