package ports

import (
	"context"

	"github.com/proxyfleet/dispatcher/internal/core/domain"
)

// Transport is the wire-level capability an RpcChannel hands out once
// connected: issue an AlterInbound call against the endpoint it's bound to.
// Production channels implement it over a pooled *http.Client; tests
// exercise that implementation against an httptest.Server.
type Transport interface {
	AddUser(ctx context.Context, tag string, account domain.Account) error
	RemoveUser(ctx context.Context, tag string, email string) error
}

// InboundCatalogProvider supplies the inbound catalog the manager needs at
// fan-out time. Implemented by the external collaborator that owns the
// main core's configuration.
type InboundCatalogProvider interface {
	InboundCatalog(ctx context.Context) (domain.InboundCatalog, error)
}

// Executor drains one batch of pending operations, as handed to it by the
// operation queue's flush loop.
type Executor interface {
	Execute(ctx context.Context, batch []domain.PendingOp)
}

// UserFacade is the surface the HTTP/admin layer depends on: enqueue-style
// user mutations (the Dispatcher's *Direct methods are not part of it).
// The legacy collaborator implements the same
// shape so the dispatcher's façade can fall back to it when not started.
type UserFacade interface {
	AddUser(ctx context.Context, user domain.UserView) error
	UpdateUser(ctx context.Context, user domain.UserView) error
	RemoveUser(ctx context.Context, user domain.UserView) error
}

// CertFetcher obtains a node's TLS leaf certificate out-of-band over its
// REST port, for use as the channel's root of trust.
type CertFetcher interface {
	FetchLeafCert(ctx context.Context, node domain.NodeView) ([]byte, error)
}

// Logger is the narrow logging capability the dispatcher, breaker, and
// queue depend on — passed in explicitly rather than reached for as a
// process-global, per the no-singleton design note.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
