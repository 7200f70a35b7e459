// Package dispatch assigns orders to operator groups and parks them in a
// FIFO queue when no group is free.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

// Store is the persistence surface the allocator mutates.
type Store interface {
	storage.GroupStore
	storage.QueueStore
	GetOrder(ctx context.Context, orderID int64) (storage.OrderRecord, error)
	UpdateOrder(ctx context.Context, record storage.OrderRecord) error
}

// Assignment describes the outcome of one admission attempt.
type Assignment struct {
	Assigned bool
	Group    storage.GroupRecord
}

// Allocator binds orders to free operator groups. Scan-then-mark and
// pop-then-reassign sequences run under one mutex so two concurrent
// admissions can never double-assign a group.
type Allocator struct {
	mu    sync.Mutex
	store Store
	clock func() time.Time
}

// New creates an allocator over the group and queue store.
func New(store Store, clock func() time.Time) *Allocator {
	if clock == nil {
		clock = time.Now
	}
	return &Allocator{store: store, clock: clock}
}

// AssignOrQueue binds the order to the first free group compatible with its
// bank, or parks it in the FIFO queue when none is free. Groups dedicated to
// the order's bank win over unbound groups; admin groups never take orders.
func (a *Allocator) AssignOrQueue(ctx context.Context, order storage.OrderRecord) (Assignment, error) {
	if a == nil || a.store == nil {
		return Assignment{}, fmt.Errorf("dispatch store is not configured")
	}
	if order.ID == 0 {
		return Assignment{}, fmt.Errorf("order id is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	group, found, err := a.freeGroupFor(ctx, order.BankName)
	if err != nil {
		return Assignment{}, err
	}
	if !found {
		err := a.store.Enqueue(ctx, storage.QueueRecord{
			OrderID:    order.ID,
			BankName:   order.BankName,
			EnqueuedAt: a.clock(),
		})
		if err != nil && !errors.Is(err, storage.ErrConflict) {
			return Assignment{}, fmt.Errorf("queue order %d: %w", order.ID, err)
		}
		return Assignment{}, nil
	}

	if err := a.bindLocked(ctx, order, group); err != nil {
		return Assignment{}, err
	}
	return Assignment{Assigned: true, Group: group}, nil
}

// Free clears the group's admission gate and attempts to hand it the oldest
// compatible queued order. When an order is reassigned it is returned so the
// caller can notify its user; a nil order means the queue had no compatible
// work.
func (a *Allocator) Free(ctx context.Context, groupID int64) (*storage.OrderRecord, Assignment, error) {
	if a == nil || a.store == nil {
		return nil, Assignment{}, fmt.Errorf("dispatch store is not configured")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	group, err := a.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, Assignment{}, fmt.Errorf("load group %d: %w", groupID, err)
	}
	if err := a.store.SetGroupBusy(ctx, groupID, false); err != nil {
		return nil, Assignment{}, fmt.Errorf("free group %d: %w", groupID, err)
	}

	queued, err := a.popCompatibleLocked(ctx, group)
	if err != nil {
		return nil, Assignment{}, err
	}
	if queued == nil {
		return nil, Assignment{}, nil
	}

	order, err := a.store.GetOrder(ctx, queued.OrderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Assignment{}, a.dropStaleQueued(ctx, queued.OrderID)
		}
		return nil, Assignment{}, fmt.Errorf("load queued order %d: %w", queued.OrderID, err)
	}
	if order.Status == storage.OrderStatusCompleted {
		// A stale row would be re-popped on every later free, starving
		// younger queued orders.
		return nil, Assignment{}, a.dropStaleQueued(ctx, queued.OrderID)
	}

	if err := a.bindLocked(ctx, order, group); err != nil {
		return nil, Assignment{}, err
	}
	order.GroupID = group.ID
	return &order, Assignment{Assigned: true, Group: group}, nil
}

func (a *Allocator) dropStaleQueued(ctx context.Context, orderID int64) error {
	if err := a.store.RemoveQueued(ctx, orderID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("drop stale queued order %d: %w", orderID, err)
	}
	return nil
}

// freeGroupFor picks the first non-busy, non-admin group in insertion order,
// preferring groups dedicated to bankName.
func (a *Allocator) freeGroupFor(ctx context.Context, bankName string) (storage.GroupRecord, bool, error) {
	groups, err := a.store.ListGroups(ctx)
	if err != nil {
		return storage.GroupRecord{}, false, fmt.Errorf("list groups: %w", err)
	}

	var fallback *storage.GroupRecord
	for i := range groups {
		group := groups[i]
		if group.Busy || group.Admin {
			continue
		}
		if group.BankName == bankName && bankName != "" {
			return group, true, nil
		}
		if group.BankName == "" && fallback == nil {
			fallback = &groups[i]
		}
	}
	if fallback != nil {
		return *fallback, true, nil
	}
	return storage.GroupRecord{}, false, nil
}

func (a *Allocator) bindLocked(ctx context.Context, order storage.OrderRecord, group storage.GroupRecord) error {
	if err := a.store.SetGroupBusy(ctx, group.ID, true); err != nil {
		return fmt.Errorf("mark group %d busy: %w", group.ID, err)
	}

	order.GroupID = group.ID
	order.UpdatedAt = a.clock()
	if err := a.store.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("bind order %d to group %d: %w", order.ID, group.ID, err)
	}

	err := a.store.AddGroupOrder(ctx, storage.GroupOrderRecord{
		GroupID: group.ID,
		OrderID: order.ID,
		Primary: true,
		AddedAt: a.clock(),
	})
	if err != nil {
		return fmt.Errorf("track active order %d on group %d: %w", order.ID, group.ID, err)
	}
	if err := a.store.SetPrimaryGroupOrder(ctx, group.ID, order.ID); err != nil {
		return fmt.Errorf("set primary order %d on group %d: %w", order.ID, group.ID, err)
	}
	if err := a.store.RemoveQueued(ctx, order.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("dequeue order %d: %w", order.ID, err)
	}
	return nil
}

func (a *Allocator) popCompatibleLocked(ctx context.Context, group storage.GroupRecord) (*storage.QueueRecord, error) {
	var queued storage.QueueRecord
	var err error
	if group.BankName != "" {
		queued, err = a.store.OldestQueuedForBank(ctx, group.BankName)
	} else {
		queued, err = a.store.OldestQueued(ctx)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("pop queued order: %w", err)
	}
	return &queued, nil
}

// DropQueued removes an order from the wait queue, for orders that finish
// or are abandoned before any group picks them up.
func (a *Allocator) DropQueued(ctx context.Context, orderID int64) error {
	if a == nil || a.store == nil {
		return fmt.Errorf("dispatch store is not configured")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.store.RemoveQueued(ctx, orderID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("drop queued order %d: %w", orderID, err)
	}
	return nil
}

// ReleaseOrder removes a finished order from its group's active set. The
// group's busy gate is left untouched; Free drives admission separately.
func (a *Allocator) ReleaseOrder(ctx context.Context, groupID, orderID int64) error {
	if a == nil || a.store == nil {
		return fmt.Errorf("dispatch store is not configured")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.store.RemoveGroupOrder(ctx, groupID, orderID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("release order %d from group %d: %w", orderID, groupID, err)
	}
	return nil
}
