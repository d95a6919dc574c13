package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/accesstime/internal/clock"
	"github.com/goodtune/accesstime/internal/storage"
)

// Instance returns the instance metadata.
func (e *Engine) Instance(ctx context.Context) (*storage.Instance, error) {
	var inst *storage.Instance
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		inst, err = tx.Instance().Get()
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotInitialized
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// GetAdmin returns the admin identity.
func (e *Engine) GetAdmin(ctx context.Context) (string, error) {
	inst, err := e.Instance(ctx)
	if err != nil {
		return "", err
	}
	return inst.Admin, nil
}

// GetToken returns the token asset used for payment.
func (e *Engine) GetToken(ctx context.Context) (string, error) {
	inst, err := e.Instance(ctx)
	if err != nil {
		return "", err
	}
	return inst.TokenAsset, nil
}

// GetPackage returns a catalog entry.
func (e *Engine) GetPackage(ctx context.Context, id uint32) (*storage.Package, error) {
	var pkg *storage.Package
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		pkg, err = tx.Packages().Get(id)
		if err != nil {
			return notFound(fmt.Sprintf("package %d", id), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// ListPackages returns the catalog ordered by id.
func (e *Engine) ListPackages(ctx context.Context) ([]storage.Package, error) {
	var pkgs []storage.Package
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		pkgs, err = tx.Packages().List()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	return pkgs, nil
}

// GetSession returns the owner's stored session record.
func (e *Engine) GetSession(ctx context.Context, owner string) (*storage.Session, error) {
	var session *storage.Session
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		session, err = tx.Sessions().Get(owner)
		if err != nil {
			return notFound("session of "+owner, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// lookupSession returns nil without error for an owner with no session.
func (e *Engine) lookupSession(ctx context.Context, owner string) (*storage.Session, error) {
	session, err := e.GetSession(ctx, owner)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return session, err
}

// Now is the engine clock in unix seconds.
func (e *Engine) Now() uint64 {
	return clock.Unix(e.clock)
}

// Remaining projects the owner's balance at now. Unknown owners have none.
func (e *Engine) Remaining(ctx context.Context, owner string, now uint64) (uint32, error) {
	session, err := e.lookupSession(ctx, owner)
	if err != nil || session == nil {
		return 0, err
	}
	return remainingAt(*session, now)
}

// GetAccess returns the owner's virtual expiry.
func (e *Engine) GetAccess(ctx context.Context, owner string) (Access, error) {
	session, err := e.lookupSession(ctx, owner)
	if err != nil {
		return Access{}, err
	}
	return accessOf(owner, session), nil
}

// IsActive reports whether the owner's session is running with balance left at now.
func (e *Engine) IsActive(ctx context.Context, owner string, now uint64) (bool, error) {
	session, err := e.lookupSession(ctx, owner)
	if err != nil || session == nil || !session.Running() {
		return false, err
	}
	remaining, err := remainingAt(*session, now)
	if err != nil {
		return false, err
	}
	return remaining > 0, nil
}

// GetOrder returns an order by id.
func (e *Engine) GetOrder(ctx context.Context, id uint64) (*storage.Order, error) {
	var order *storage.Order
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		order, err = tx.Orders().Get(id)
		if err != nil {
			return notFound(fmt.Sprintf("order %d", id), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns the owner's orders ordered by id.
func (e *Engine) ListOrders(ctx context.Context, owner string) ([]storage.Order, error) {
	var orders []storage.Order
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		orders, err = tx.Orders().ListByOwner(owner)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list orders of %s: %w", owner, err)
	}
	return orders, nil
}
