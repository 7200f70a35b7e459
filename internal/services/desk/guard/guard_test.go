package guard

import (
	"context"
	"testing"
	"time"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

type memoryUsage struct {
	records []storage.UsageRecord
}

func (m *memoryUsage) RecordUsage(ctx context.Context, record storage.UsageRecord) error {
	m.records = append(m.records, record)
	return nil
}

func (m *memoryUsage) PhoneUsed(ctx context.Context, bankName, phone string) (bool, error) {
	for _, record := range m.records {
		if record.BankName == bankName && record.Phone == phone {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryUsage) EmailUsed(ctx context.Context, bankName, email string) (bool, error) {
	for _, record := range m.records {
		if record.BankName == bankName && record.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
}

func TestCheckFreshPairUnseen(t *testing.T) {
	guard := New(&memoryUsage{}, fixedClock())

	reuse, err := guard.Check(context.Background(), "mono", "+380671234567", "user@example.com")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if reuse.Any() {
		t.Fatalf("expected fresh pair, got %+v", reuse)
	}
}

func TestRecordThenCheckSameBank(t *testing.T) {
	store := &memoryUsage{}
	guard := New(store, fixedClock())

	if err := guard.Record(context.Background(), 1, "mono", "+380671234567", "user@example.com"); err != nil {
		t.Fatalf("record: %v", err)
	}

	reuse, err := guard.Check(context.Background(), "mono", "+380671234567", "other@example.com")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !reuse.PhoneSeen || reuse.EmailSeen {
		t.Fatalf("unexpected reuse %+v", reuse)
	}

	reuse, err = guard.Check(context.Background(), "privat", "+380671234567", "user@example.com")
	if err != nil {
		t.Fatalf("check other bank: %v", err)
	}
	if reuse.Any() {
		t.Fatalf("expected other bank unaffected, got %+v", reuse)
	}
}

func TestCheckIgnoresEmptyValues(t *testing.T) {
	store := &memoryUsage{}
	guard := New(store, fixedClock())

	if err := guard.Record(context.Background(), 1, "mono", "", "user@example.com"); err != nil {
		t.Fatalf("record: %v", err)
	}
	reuse, err := guard.Check(context.Background(), "mono", "", "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if reuse.Any() {
		t.Fatalf("expected empty values unseen, got %+v", reuse)
	}
}

func TestCheckRequiresBank(t *testing.T) {
	guard := New(&memoryUsage{}, fixedClock())
	if _, err := guard.Check(context.Background(), " ", "+380671234567", ""); err == nil {
		t.Fatal("expected error for missing bank")
	}
}
