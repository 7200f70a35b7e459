package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "desk.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func testTime() time.Time {
	return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func putTestBank(t *testing.T, store *Store, name string) {
	t.Helper()
	err := store.PutBank(context.Background(), storage.BankRecord{
		Name:            name,
		Active:          true,
		RegisterEnabled: true,
		RegisterMinAge:  18,
		ChangeEnabled:   true,
		CreatedAt:       testTime(),
		UpdatedAt:       testTime(),
	})
	if err != nil {
		t.Fatalf("put bank: %v", err)
	}
}

func createTestOrder(t *testing.T, store *Store, userID int64, bank string) int64 {
	t.Helper()
	orderID, err := store.CreateOrder(context.Background(), storage.OrderRecord{
		UserID:      userID,
		DisplayName: "Test User",
		BankName:    bank,
		Action:      storage.ActionRegister,
		Status:      storage.OrderStatusInProgress,
		CodeStatus:  storage.CodeStatusNone,
		CreatedAt:   testTime(),
		UpdatedAt:   testTime(),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return orderID
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenAppliesPragmas(t *testing.T) {
	store := openTempStore(t)

	var journalMode string
	if err := store.sqlDB.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		t.Fatalf("journal_mode = %q, want wal", journalMode)
	}

	var busyTimeout int
	if err := store.sqlDB.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("query busy_timeout: %v", err)
	}
	if busyTimeout <= 0 {
		t.Fatalf("busy_timeout = %d, want > 0", busyTimeout)
	}

	var foreignKeys int
	if err := store.sqlDB.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("query foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Fatalf("foreign_keys = %d, want 1", foreignKeys)
	}
}

func TestBankRoundTrip(t *testing.T) {
	store := openTempStore(t)
	putTestBank(t, store, "mono")

	got, err := store.GetBank(context.Background(), "mono")
	if err != nil {
		t.Fatalf("get bank: %v", err)
	}
	if !got.Active || !got.RegisterEnabled || got.RegisterMinAge != 18 {
		t.Fatalf("unexpected bank %+v", got)
	}

	if err := store.DeleteBank(context.Background(), "mono"); err != nil {
		t.Fatalf("delete bank: %v", err)
	}
	if _, err := store.GetBank(context.Background(), "mono"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStepUpsertOrdersByNumber(t *testing.T) {
	store := openTempStore(t)
	putTestBank(t, store, "mono")

	for _, number := range []int{2, 1, 3} {
		err := store.UpsertStep(context.Background(), storage.StepRecord{
			BankName:  "mono",
			Action:    storage.ActionRegister,
			Number:    number,
			Kind:      "screenshot",
			Text:      "step",
			CreatedAt: testTime(),
			UpdatedAt: testTime(),
		})
		if err != nil {
			t.Fatalf("upsert step %d: %v", number, err)
		}
	}

	steps, err := store.ListSteps(context.Background(), "mono", storage.ActionRegister)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	for i, step := range steps {
		if step.Number != i+1 {
			t.Fatalf("unexpected order: step %d at position %d", step.Number, i)
		}
	}
}

func TestStepUpsertReplacesExisting(t *testing.T) {
	store := openTempStore(t)
	putTestBank(t, store, "mono")

	base := storage.StepRecord{
		BankName:  "mono",
		Action:    storage.ActionRegister,
		Number:    1,
		Kind:      "screenshot",
		Text:      "old text",
		CreatedAt: testTime(),
		UpdatedAt: testTime(),
	}
	if err := store.UpsertStep(context.Background(), base); err != nil {
		t.Fatalf("upsert step: %v", err)
	}
	base.Text = "new text"
	base.UpdatedAt = testTime().Add(time.Minute)
	if err := store.UpsertStep(context.Background(), base); err != nil {
		t.Fatalf("upsert step again: %v", err)
	}

	steps, err := store.ListSteps(context.Background(), "mono", storage.ActionRegister)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 1 || steps[0].Text != "new text" {
		t.Fatalf("unexpected steps %+v", steps)
	}
}

func TestOrderLifecycle(t *testing.T) {
	store := openTempStore(t)
	putTestBank(t, store, "mono")
	orderID := createTestOrder(t, store, 42, "mono")

	order, err := store.GetOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.UserID != 42 || order.Status != storage.OrderStatusInProgress || order.Stage != 0 {
		t.Fatalf("unexpected order %+v", order)
	}

	latest, err := store.LatestOpenOrderByUser(context.Background(), 42)
	if err != nil {
		t.Fatalf("latest open order: %v", err)
	}
	if latest.ID != orderID {
		t.Fatalf("unexpected latest order %d", latest.ID)
	}

	completedAt := testTime().Add(time.Hour)
	order.Stage = 3
	order.Status = storage.OrderStatusCompleted
	order.UpdatedAt = completedAt
	order.CompletedAt = &completedAt
	if err := store.UpdateOrder(context.Background(), order); err != nil {
		t.Fatalf("update order: %v", err)
	}

	got, err := store.GetOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Stage != 3 || got.Status != storage.OrderStatusCompleted {
		t.Fatalf("unexpected order %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completedAt) {
		t.Fatalf("unexpected completed_at %v", got.CompletedAt)
	}

	if _, err := store.LatestOpenOrderByUser(context.Background(), 42); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after completion, got %v", err)
	}

	count, err := store.CountOrdersByStatus(context.Background(), storage.OrderStatusCompleted)
	if err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 completed order, got %d", count)
	}
}

func TestAddPhotoDuplicateConflict(t *testing.T) {
	store := openTempStore(t)
	putTestBank(t, store, "mono")
	orderID := createTestOrder(t, store, 42, "mono")

	record := storage.PhotoRecord{
		OrderID:      orderID,
		Stage:        0,
		FileID:       "file-1",
		FileUniqueID: "unique-1",
		Active:       true,
		CreatedAt:    testTime(),
		UpdatedAt:    testTime(),
	}
	if _, err := store.AddPhoto(context.Background(), record); err != nil {
		t.Fatalf("add photo: %v", err)
	}
	if _, err := store.AddPhoto(context.Background(), record); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate, got %v", err)
	}

	// The identical artifact on another stage is a new submission.
	record.Stage = 1
	if _, err := store.AddPhoto(context.Background(), record); err != nil {
		t.Fatalf("add photo on next stage: %v", err)
	}
}

func TestPhotoStageMutations(t *testing.T) {
	store := openTempStore(t)
	putTestBank(t, store, "mono")
	orderID := createTestOrder(t, store, 42, "mono")

	for _, unique := range []string{"u1", "u2"} {
		_, err := store.AddPhoto(context.Background(), storage.PhotoRecord{
			OrderID:      orderID,
			Stage:        0,
			FileID:       "file-" + unique,
			FileUniqueID: unique,
			Confirmation: storage.PhotoPending,
			Active:       true,
			CreatedAt:    testTime(),
			UpdatedAt:    testTime(),
		})
		if err != nil {
			t.Fatalf("add photo %s: %v", unique, err)
		}
	}

	count, err := store.CountActivePhotos(context.Background(), orderID, 0)
	if err != nil {
		t.Fatalf("count photos: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 active photos, got %d", count)
	}

	if err := store.SetPhotoConfirmation(context.Background(), orderID, 0, storage.PhotoApproved); err != nil {
		t.Fatalf("set confirmation: %v", err)
	}
	photos, err := store.ListStagePhotos(context.Background(), orderID, 0)
	if err != nil {
		t.Fatalf("list photos: %v", err)
	}
	for _, photo := range photos {
		if photo.Confirmation != storage.PhotoApproved {
			t.Fatalf("unexpected confirmation %q", photo.Confirmation)
		}
	}

	if err := store.DeactivatePhotos(context.Background(), orderID, 0, "blurry screenshot"); err != nil {
		t.Fatalf("deactivate photos: %v", err)
	}
	count, err = store.CountActivePhotos(context.Background(), orderID, 0)
	if err != nil {
		t.Fatalf("count photos: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 active photos, got %d", count)
	}
	photos, err = store.ListStagePhotos(context.Background(), orderID, 0)
	if err != nil {
		t.Fatalf("list photos: %v", err)
	}
	for _, photo := range photos {
		if photo.Active || photo.Confirmation != storage.PhotoRejected {
			t.Fatalf("expected rejected inactive photo, got %+v", photo)
		}
		if photo.RejectionReason != "blurry screenshot" {
			t.Fatalf("expected rejection reason persisted, got %q", photo.RejectionReason)
		}
	}
}

func TestGroupBusyAndActiveSetIndependent(t *testing.T) {
	store := openTempStore(t)
	putTestBank(t, store, "mono")
	firstOrder := createTestOrder(t, store, 1, "mono")
	secondOrder := createTestOrder(t, store, 2, "mono")

	groupID, err := store.PutGroup(context.Background(), storage.GroupRecord{
		ChatID:    -100500,
		Name:      "Operators",
		CreatedAt: testTime(),
		UpdatedAt: testTime(),
	})
	if err != nil {
		t.Fatalf("put group: %v", err)
	}

	if err := store.SetGroupBusy(context.Background(), groupID, true); err != nil {
		t.Fatalf("set busy: %v", err)
	}
	for _, orderID := range []int64{firstOrder, secondOrder} {
		err := store.AddGroupOrder(context.Background(), storage.GroupOrderRecord{
			GroupID: groupID,
			OrderID: orderID,
			AddedAt: testTime(),
		})
		if err != nil {
			t.Fatalf("add group order %d: %v", orderID, err)
		}
	}
	if err := store.SetPrimaryGroupOrder(context.Background(), groupID, secondOrder); err != nil {
		t.Fatalf("set primary: %v", err)
	}

	// Freeing the busy gate must not shrink the active set.
	if err := store.SetGroupBusy(context.Background(), groupID, false); err != nil {
		t.Fatalf("clear busy: %v", err)
	}
	active, err := store.ListGroupOrders(context.Background(), groupID)
	if err != nil {
		t.Fatalf("list group orders: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active orders, got %d", len(active))
	}
	primaries := 0
	for _, entry := range active {
		if entry.Primary {
			primaries++
			if entry.OrderID != secondOrder {
				t.Fatalf("unexpected primary order %d", entry.OrderID)
			}
		}
	}
	if primaries != 1 {
		t.Fatalf("expected exactly one primary, got %d", primaries)
	}

	group, err := store.GetGroup(context.Background(), groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if group.Busy {
		t.Fatal("expected group not busy")
	}
}

func TestQueueFIFO(t *testing.T) {
	store := openTempStore(t)
	putTestBank(t, store, "mono")
	putTestBank(t, store, "privat")
	first := createTestOrder(t, store, 1, "mono")
	second := createTestOrder(t, store, 2, "privat")

	if err := store.Enqueue(context.Background(), storage.QueueRecord{
		OrderID: first, BankName: "mono", EnqueuedAt: testTime(),
	}); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	if err := store.Enqueue(context.Background(), storage.QueueRecord{
		OrderID: second, BankName: "privat", EnqueuedAt: testTime().Add(time.Second),
	}); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}
	if err := store.Enqueue(context.Background(), storage.QueueRecord{
		OrderID: first, BankName: "mono", EnqueuedAt: testTime(),
	}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict on re-enqueue, got %v", err)
	}

	oldest, err := store.OldestQueued(context.Background())
	if err != nil {
		t.Fatalf("oldest queued: %v", err)
	}
	if oldest.OrderID != first {
		t.Fatalf("unexpected oldest %d", oldest.OrderID)
	}

	byBank, err := store.OldestQueuedForBank(context.Background(), "privat")
	if err != nil {
		t.Fatalf("oldest for bank: %v", err)
	}
	if byBank.OrderID != second {
		t.Fatalf("unexpected privat order %d", byBank.OrderID)
	}

	if err := store.RemoveQueued(context.Background(), first); err != nil {
		t.Fatalf("remove queued: %v", err)
	}
	if err := store.RemoveQueued(context.Background(), first); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	queued, err := store.ListQueued(context.Background())
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(queued) != 1 || queued[0].OrderID != second {
		t.Fatalf("unexpected queue %+v", queued)
	}
}

func TestUsageLookupsPerBank(t *testing.T) {
	store := openTempStore(t)
	putTestBank(t, store, "mono")
	orderID := createTestOrder(t, store, 1, "mono")

	err := store.RecordUsage(context.Background(), storage.UsageRecord{
		OrderID:   orderID,
		BankName:  "mono",
		Phone:     "+380671234567",
		Email:     "user@example.com",
		CreatedAt: testTime(),
	})
	if err != nil {
		t.Fatalf("record usage: %v", err)
	}

	used, err := store.PhoneUsed(context.Background(), "mono", "+380671234567")
	if err != nil {
		t.Fatalf("phone used: %v", err)
	}
	if !used {
		t.Fatal("expected phone to be used")
	}

	// The same pair is free for another bank.
	used, err = store.PhoneUsed(context.Background(), "privat", "+380671234567")
	if err != nil {
		t.Fatalf("phone used other bank: %v", err)
	}
	if used {
		t.Fatal("expected phone free for another bank")
	}

	used, err = store.EmailUsed(context.Background(), "mono", "user@example.com")
	if err != nil {
		t.Fatalf("email used: %v", err)
	}
	if !used {
		t.Fatal("expected email to be used")
	}
}

func TestActionLogAppendOnly(t *testing.T) {
	store := openTempStore(t)
	putTestBank(t, store, "mono")
	orderID := createTestOrder(t, store, 1, "mono")

	for i, action := range []string{"order_created", "artifact_submitted", "stage_advanced"} {
		err := store.AppendLog(context.Background(), storage.ActionLogRecord{
			OrderID:     orderID,
			Actor:       "user:1",
			Action:      action,
			PayloadJSON: "{}",
			CreatedAt:   testTime().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append log %s: %v", action, err)
		}
	}

	entries, err := store.ListLog(context.Background(), orderID)
	if err != nil {
		t.Fatalf("list log: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Action != "order_created" || entries[2].Action != "stage_advanced" {
		t.Fatalf("unexpected order %+v", entries)
	}
}

func TestFormRoundTrip(t *testing.T) {
	store := openTempStore(t)
	putTestBank(t, store, "mono")
	orderID := createTestOrder(t, store, 1, "mono")

	err := store.PutForm(context.Background(), storage.FormRecord{
		OrderID:     orderID,
		FormID:      "abc123",
		PayloadJSON: `{"bank":"mono"}`,
		CreatedAt:   testTime(),
	})
	if err != nil {
		t.Fatalf("put form: %v", err)
	}

	form, err := store.GetForm(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get form: %v", err)
	}
	if form.FormID != "abc123" || form.PayloadJSON != `{"bank":"mono"}` {
		t.Fatalf("unexpected form %+v", form)
	}

	if _, err := store.GetForm(context.Background(), orderID+1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
