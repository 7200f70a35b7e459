package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/louisbranch/bankdesk/internal/services/desk/dispatch"
	"github.com/louisbranch/bankdesk/internal/services/desk/guard"
	"github.com/louisbranch/bankdesk/internal/services/desk/instructions"
	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
	"github.com/louisbranch/bankdesk/internal/services/desk/storage/sqlite"
)

// flakyStore fails a configurable number of order reads with a transient
// lock error before delegating to the real store.
type flakyStore struct {
	*sqlite.Store
	failures int
}

func (f *flakyStore) GetOrder(ctx context.Context, orderID int64) (storage.OrderRecord, error) {
	if f.failures > 0 {
		f.failures--
		return storage.OrderRecord{}, fmt.Errorf("get order %d: %w", orderID, storage.ErrBusy)
	}
	return f.Store.GetOrder(ctx, orderID)
}

func TestTransientLockRetriesOnce(t *testing.T) {
	h := newHarness(t)
	start, err := h.engine.OnAgeConfirmed(context.Background(), 42, "User", "mono", storage.ActionRegister)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	flaky := &flakyStore{Store: h.store, failures: 1}
	cache := instructions.New(h.store, 0, nil)
	engine := New(flaky, cache, dispatch.New(h.store, testClock()), guard.New(h.store, testClock()), testClock())

	progress, err := engine.OnCodeRequested(context.Background(), start.Order.ID, "operator:1")
	if err != nil {
		t.Fatalf("expected retry to absorb one lock failure, got %v", err)
	}
	if progress.Order.CodeStatus != storage.CodeStatusAwaiting {
		t.Fatalf("unexpected code status %q", progress.Order.CodeStatus)
	}

	flaky.failures = 2
	if _, err := engine.OnCodeRequested(context.Background(), start.Order.ID, "operator:1"); !storage.IsBusy(err) {
		t.Fatalf("expected busy error after second failure, got %v", err)
	}
}

// Reuse gates for different orders share one engine; decisions must not
// trample each other when handled in parallel.
func TestReuseGateHandlesConcurrentOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dataGuard := guard.New(h.store, testClock())

	const orders = 8
	ids := make([]int64, 0, orders)
	for i := 0; i < orders; i++ {
		userID := int64(100 + i)
		start, err := h.engine.OnAgeConfirmed(ctx, userID, "User", "mono", storage.ActionRegister)
		if err != nil {
			t.Fatalf("start order %d: %v", i, err)
		}
		advanceToDataStep(t, h, start.Order.ID)
		phone := fmt.Sprintf("+38067123%04d", i)
		if err := dataGuard.Record(ctx, start.Order.ID, "mono", phone, ""); err != nil {
			t.Fatalf("record usage %d: %v", i, err)
		}
		ids = append(ids, start.Order.ID)
	}

	var wg sync.WaitGroup
	errs := make(chan error, orders*2)
	for i, orderID := range ids {
		wg.Add(1)
		go func(i int, orderID int64) {
			defer wg.Done()
			values := map[string]string{
				"phone": fmt.Sprintf("067123%04d", i),
				"email": fmt.Sprintf("user%d@example.com", i),
			}
			if _, err := h.engine.OnUserDataSubmitted(ctx, orderID, values); !errors.Is(err, ErrReuseConfirmationPending) {
				errs <- fmt.Errorf("order %d: expected pending gate, got %v", orderID, err)
				return
			}
			if _, err := h.engine.OnReuseDecision(ctx, orderID, "operator:1", false); err != nil {
				errs <- fmt.Errorf("order %d: decline: %v", orderID, err)
			}
		}(i, orderID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	for _, orderID := range ids {
		order, err := h.store.GetOrder(ctx, orderID)
		if err != nil {
			t.Fatalf("get order %d: %v", orderID, err)
		}
		if order.Stage != 1 || order.Phone != "" {
			t.Fatalf("expected declined order %d unchanged, got stage=%d phone=%q", orderID, order.Stage, order.Phone)
		}
	}
}
