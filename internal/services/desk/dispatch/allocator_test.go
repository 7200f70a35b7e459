package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
	"github.com/louisbranch/bankdesk/internal/services/desk/storage/sqlite"
)

func openTempStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "desk.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
}

func putBank(t *testing.T, store *sqlite.Store, name string) {
	t.Helper()
	err := store.PutBank(context.Background(), storage.BankRecord{
		Name:            name,
		Active:          true,
		RegisterEnabled: true,
		CreatedAt:       testClock()(),
		UpdatedAt:       testClock()(),
	})
	if err != nil {
		t.Fatalf("put bank: %v", err)
	}
}

func putGroup(t *testing.T, store *sqlite.Store, chatID int64, bankName string, admin bool) int64 {
	t.Helper()
	groupID, err := store.PutGroup(context.Background(), storage.GroupRecord{
		ChatID:    chatID,
		Name:      "group",
		BankName:  bankName,
		Admin:     admin,
		CreatedAt: testClock()(),
		UpdatedAt: testClock()(),
	})
	if err != nil {
		t.Fatalf("put group: %v", err)
	}
	return groupID
}

func createOrder(t *testing.T, store *sqlite.Store, userID int64, bank string) storage.OrderRecord {
	t.Helper()
	orderID, err := store.CreateOrder(context.Background(), storage.OrderRecord{
		UserID:      userID,
		DisplayName: "User",
		BankName:    bank,
		Action:      storage.ActionRegister,
		Status:      storage.OrderStatusInProgress,
		CodeStatus:  storage.CodeStatusNone,
		CreatedAt:   testClock()(),
		UpdatedAt:   testClock()(),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	order, err := store.GetOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	return order
}

func TestAssignPrefersDedicatedGroup(t *testing.T) {
	store := openTempStore(t)
	putBank(t, store, "mono")
	unbound := putGroup(t, store, -1, "", false)
	dedicated := putGroup(t, store, -2, "mono", false)
	order := createOrder(t, store, 1, "mono")

	allocator := New(store, testClock())
	assignment, err := allocator.AssignOrQueue(context.Background(), order)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !assignment.Assigned || assignment.Group.ID != dedicated {
		t.Fatalf("unexpected assignment %+v", assignment)
	}

	group, err := store.GetGroup(context.Background(), dedicated)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if !group.Busy {
		t.Fatal("expected dedicated group busy")
	}
	other, err := store.GetGroup(context.Background(), unbound)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if other.Busy {
		t.Fatal("expected unbound group untouched")
	}

	bound, err := store.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if bound.GroupID != dedicated {
		t.Fatalf("unexpected group binding %d", bound.GroupID)
	}
}

func TestAssignSkipsAdminAndBusyGroups(t *testing.T) {
	store := openTempStore(t)
	putBank(t, store, "mono")
	putGroup(t, store, -1, "", true)
	busy := putGroup(t, store, -2, "", false)
	if err := store.SetGroupBusy(context.Background(), busy, true); err != nil {
		t.Fatalf("set busy: %v", err)
	}
	order := createOrder(t, store, 1, "mono")

	allocator := New(store, testClock())
	assignment, err := allocator.AssignOrQueue(context.Background(), order)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assignment.Assigned {
		t.Fatalf("expected queueing, got %+v", assignment)
	}

	queued, err := store.ListQueued(context.Background())
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(queued) != 1 || queued[0].OrderID != order.ID {
		t.Fatalf("unexpected queue %+v", queued)
	}
}

func TestFreeReassignsOldestCompatible(t *testing.T) {
	store := openTempStore(t)
	putBank(t, store, "mono")
	groupID := putGroup(t, store, -1, "", false)
	allocator := New(store, testClock())

	first := createOrder(t, store, 1, "mono")
	if _, err := allocator.AssignOrQueue(context.Background(), first); err != nil {
		t.Fatalf("assign first: %v", err)
	}
	second := createOrder(t, store, 2, "mono")
	assignment, err := allocator.AssignOrQueue(context.Background(), second)
	if err != nil {
		t.Fatalf("assign second: %v", err)
	}
	if assignment.Assigned {
		t.Fatal("expected second order queued")
	}

	reassigned, assignment, err := allocator.Free(context.Background(), groupID)
	if err != nil {
		t.Fatalf("free: %v", err)
	}
	if reassigned == nil || reassigned.ID != second.ID {
		t.Fatalf("unexpected reassignment %+v", reassigned)
	}
	if !assignment.Assigned || assignment.Group.ID != groupID {
		t.Fatalf("unexpected assignment %+v", assignment)
	}

	group, err := store.GetGroup(context.Background(), groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if !group.Busy {
		t.Fatal("expected group busy again after reassignment")
	}
	if len(mustListQueued(t, store)) != 0 {
		t.Fatal("expected queue drained")
	}
}

func TestFreeWithEmptyQueueLeavesGroupIdle(t *testing.T) {
	store := openTempStore(t)
	putBank(t, store, "mono")
	groupID := putGroup(t, store, -1, "", false)
	allocator := New(store, testClock())

	order := createOrder(t, store, 1, "mono")
	if _, err := allocator.AssignOrQueue(context.Background(), order); err != nil {
		t.Fatalf("assign: %v", err)
	}

	reassigned, _, err := allocator.Free(context.Background(), groupID)
	if err != nil {
		t.Fatalf("free: %v", err)
	}
	if reassigned != nil {
		t.Fatalf("expected no reassignment, got %+v", reassigned)
	}
	group, err := store.GetGroup(context.Background(), groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if group.Busy {
		t.Fatal("expected group idle")
	}
}

func TestDedicatedGroupOnlyTakesItsBank(t *testing.T) {
	store := openTempStore(t)
	putBank(t, store, "mono")
	putBank(t, store, "privat")
	groupID := putGroup(t, store, -1, "privat", false)
	allocator := New(store, testClock())

	monoOrder := createOrder(t, store, 1, "mono")
	assignment, err := allocator.AssignOrQueue(context.Background(), monoOrder)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assignment.Assigned {
		t.Fatal("expected mono order queued past privat group")
	}

	reassigned, _, err := allocator.Free(context.Background(), groupID)
	if err != nil {
		t.Fatalf("free: %v", err)
	}
	if reassigned != nil {
		t.Fatalf("expected no cross-bank reassignment, got %+v", reassigned)
	}
}

func TestDropQueuedMissingIsNoop(t *testing.T) {
	store := openTempStore(t)
	allocator := New(store, testClock())
	if err := allocator.DropQueued(context.Background(), 12345); err != nil {
		t.Fatalf("drop queued: %v", err)
	}
}

func TestFreeDropsStaleQueueRow(t *testing.T) {
	store := openTempStore(t)
	putBank(t, store, "mono")
	allocator := New(store, testClock())
	groupID := putGroup(t, store, -100, "", false)

	stale := createOrder(t, store, 1, "mono")
	err := store.Enqueue(context.Background(), storage.QueueRecord{
		OrderID:    stale.ID,
		BankName:   stale.BankName,
		EnqueuedAt: testClock()(),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	stale.Status = storage.OrderStatusCompleted
	stale.UpdatedAt = testClock()()
	if err := store.UpdateOrder(context.Background(), stale); err != nil {
		t.Fatalf("complete order: %v", err)
	}

	reassigned, _, err := allocator.Free(context.Background(), groupID)
	if err != nil {
		t.Fatalf("free: %v", err)
	}
	if reassigned != nil {
		t.Fatalf("expected no reassignment, got order %d", reassigned.ID)
	}
	if queued := mustListQueued(t, store); len(queued) != 0 {
		t.Fatalf("expected stale queue row removed, got %v", queued)
	}

	// A later free must not re-pop the removed row.
	fresh := createOrder(t, store, 2, "mono")
	err = store.Enqueue(context.Background(), storage.QueueRecord{
		OrderID:    fresh.ID,
		BankName:   fresh.BankName,
		EnqueuedAt: testClock()(),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	reassigned, assignment, err := allocator.Free(context.Background(), groupID)
	if err != nil {
		t.Fatalf("free: %v", err)
	}
	if reassigned == nil || reassigned.ID != fresh.ID || !assignment.Assigned {
		t.Fatalf("expected fresh order reassigned, got %+v", reassigned)
	}
}

func mustListQueued(t *testing.T, store *sqlite.Store) []storage.QueueRecord {
	t.Helper()
	queued, err := store.ListQueued(context.Background())
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	return queued
}
