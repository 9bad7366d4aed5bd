package fleet

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/proxyfleet/dispatcher/internal/adapter/rpcchannel"
	"github.com/proxyfleet/dispatcher/internal/core/domain"
)

// doAddUser provisions user on every inbound it's meant to be on, against
// the main core and every node whose circuit is currently closed or
// half-open-and-eligible.
func (d *Dispatcher) doAddUser(ctx context.Context, user domain.UserView) error {
	catalog, err := d.catalog.InboundCatalog(ctx)
	if err != nil {
		return err
	}

	email := user.Email()
	errs := &errAggregate{}
	var eg errgroup.Group

	for proxyType, tags := range user.Inbounds {
		settings := user.Proxies[proxyType]
		for _, tag := range tags {
			inbound, ok := catalog[tag]
			if !ok {
				continue
			}
			account := domain.BuildAccount(email, settings.Flow, settings.Settings, inbound)

			d.fanOutAdd(ctx, &eg, errs, tag, account)
		}
	}

	_ = eg.Wait()
	return errs.combined()
}

// doUpdateUser re-adds user to every inbound it's still meant to be on, and
// removes it from every inbound it's no longer meant to be on.
func (d *Dispatcher) doUpdateUser(ctx context.Context, user domain.UserView) error {
	catalog, err := d.catalog.InboundCatalog(ctx)
	if err != nil {
		return err
	}

	email := user.Email()
	active := user.ActiveTags()
	errs := &errAggregate{}
	var eg errgroup.Group

	for proxyType, tags := range user.Inbounds {
		settings := user.Proxies[proxyType]
		for _, tag := range tags {
			inbound, ok := catalog[tag]
			if !ok {
				continue
			}
			account := domain.BuildAccount(email, settings.Flow, settings.Settings, inbound)
			d.fanOutAlter(ctx, &eg, errs, tag, account)
		}
	}

	for _, tag := range catalog.Tags() {
		if _, ok := active[tag]; ok {
			continue
		}
		d.fanOutRemove(ctx, &eg, errs, tag, email)
	}

	_ = eg.Wait()
	return errs.combined()
}

// doRemoveUser removes user from every known inbound on the main core and
// every node.
func (d *Dispatcher) doRemoveUser(ctx context.Context, user domain.UserView) error {
	catalog, err := d.catalog.InboundCatalog(ctx)
	if err != nil {
		return err
	}

	email := user.Email()
	errs := &errAggregate{}
	var eg errgroup.Group

	for _, tag := range catalog.Tags() {
		d.fanOutRemove(ctx, &eg, errs, tag, email)
	}

	_ = eg.Wait()
	return errs.combined()
}

func (d *Dispatcher) fanOutAdd(ctx context.Context, eg *errgroup.Group, errs *errAggregate, tag string, account domain.Account) {
	eg.Go(func() error {
		errs.add(d.addToChannel(ctx, d.mainChan(), tag, account, nil))
		return nil
	})

	d.nodeChannels.Range(func(nodeID int, ch *rpcchannel.RpcChannel) bool {
		if !d.breaker.IsAllowed(nodeID) {
			return true
		}
		nodeID, ch := nodeID, ch
		eg.Go(func() error {
			errs.add(d.addToChannel(ctx, ch, tag, account, &nodeID))
			return nil
		})
		return true
	})
}

func (d *Dispatcher) fanOutRemove(ctx context.Context, eg *errgroup.Group, errs *errAggregate, tag, email string) {
	eg.Go(func() error {
		errs.add(d.removeFromChannel(ctx, d.mainChan(), tag, email, nil))
		return nil
	})

	d.nodeChannels.Range(func(nodeID int, ch *rpcchannel.RpcChannel) bool {
		if !d.breaker.IsAllowed(nodeID) {
			return true
		}
		nodeID, ch := nodeID, ch
		eg.Go(func() error {
			errs.add(d.removeFromChannel(ctx, ch, tag, email, &nodeID))
			return nil
		})
		return true
	})
}

func (d *Dispatcher) fanOutAlter(ctx context.Context, eg *errgroup.Group, errs *errAggregate, tag string, account domain.Account) {
	eg.Go(func() error {
		errs.add(d.alterOnChannel(ctx, d.mainChan(), tag, account, nil))
		return nil
	})

	d.nodeChannels.Range(func(nodeID int, ch *rpcchannel.RpcChannel) bool {
		if !d.breaker.IsAllowed(nodeID) {
			return true
		}
		nodeID, ch := nodeID, ch
		eg.Go(func() error {
			errs.add(d.alterOnChannel(ctx, ch, tag, account, &nodeID))
			return nil
		})
		return true
	})
}

// addToChannel adds account to tag on ch. An "already exists" remote error
// is treated as success, since it means a prior attempt already landed.
func (d *Dispatcher) addToChannel(ctx context.Context, ch *rpcchannel.RpcChannel, tag string, account domain.Account, nodeID *int) error {
	if ch == nil {
		return nil
	}

	if err := ch.EnsureConnected(ctx); err != nil {
		d.recordOutcome(nodeID, err)
		return err
	}

	err := ch.AddUser(ctx, tag, account)
	if domain.IsAlreadyExists(err) {
		err = nil
	}
	d.recordOutcome(nodeID, err)
	return err
}

// removeFromChannel removes email from tag on ch. A "not found" remote
// error is treated as success.
func (d *Dispatcher) removeFromChannel(ctx context.Context, ch *rpcchannel.RpcChannel, tag, email string, nodeID *int) error {
	if ch == nil {
		return nil
	}

	if err := ch.EnsureConnected(ctx); err != nil {
		d.recordOutcome(nodeID, err)
		return err
	}

	err := ch.RemoveUser(ctx, tag, email)
	if domain.IsNotFound(err) {
		err = nil
	}
	d.recordOutcome(nodeID, err)
	return err
}

// alterOnChannel updates an account in place: remove then add. A genuine
// failure on the remove step (anything other than not-found, which
// removeFromChannel already swallows) skips the add.
func (d *Dispatcher) alterOnChannel(ctx context.Context, ch *rpcchannel.RpcChannel, tag string, account domain.Account, nodeID *int) error {
	if err := d.removeFromChannel(ctx, ch, tag, account.Email, nodeID); err != nil {
		return err
	}
	return d.addToChannel(ctx, ch, tag, account, nodeID)
}

func (d *Dispatcher) recordOutcome(nodeID *int, err error) {
	if nodeID == nil {
		return
	}
	if err != nil {
		d.breaker.RecordFailure(*nodeID)
	} else {
		d.breaker.RecordSuccess(*nodeID)
	}
}
