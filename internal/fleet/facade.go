package fleet

import (
	"context"

	"github.com/proxyfleet/dispatcher/internal/core/domain"
	"github.com/proxyfleet/dispatcher/internal/core/ports"
)

// Facade is the single entry point the HTTP/admin layer calls to mutate
// users. It routes to the dispatcher when started, and falls back to a
// provided legacy collaborator when not — the same "is_started ? manager :
// legacy" branch the reference implementation repeats in its async and sync
// operation wrappers, collapsed here into one type since Go has no
// sync/async split to wrap twice.
type Facade struct {
	dispatcher *Dispatcher
	legacy     ports.UserFacade
}

var _ ports.UserFacade = (*Facade)(nil)

// NewFacade builds a Facade over dispatcher, falling back to legacy for
// every call made while the dispatcher isn't started. legacy must be
// non-nil; pass a no-op implementation if the deployment has nothing to
// fall back to.
func NewFacade(dispatcher *Dispatcher, legacy ports.UserFacade) *Facade {
	return &Facade{dispatcher: dispatcher, legacy: legacy}
}

func (f *Facade) AddUser(ctx context.Context, user domain.UserView) error {
	if f.dispatcher.IsStarted() {
		return f.dispatcher.AddUser(ctx, user)
	}
	return f.legacy.AddUser(ctx, user)
}

func (f *Facade) UpdateUser(ctx context.Context, user domain.UserView) error {
	if f.dispatcher.IsStarted() {
		return f.dispatcher.UpdateUser(ctx, user)
	}
	return f.legacy.UpdateUser(ctx, user)
}

func (f *Facade) RemoveUser(ctx context.Context, user domain.UserView) error {
	if f.dispatcher.IsStarted() {
		return f.dispatcher.RemoveUser(ctx, user)
	}
	return f.legacy.RemoveUser(ctx, user)
}
