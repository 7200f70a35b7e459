// Package guard detects reuse of verification data across orders of the
// same bank.
package guard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

// Reuse reports which parts of a verification pair were seen before.
type Reuse struct {
	PhoneSeen bool
	EmailSeen bool
}

// Any reports whether either value was consumed before.
func (r Reuse) Any() bool {
	return r.PhoneSeen || r.EmailSeen
}

// Guard checks and records consumed (bank, phone/email) pairs. Lookups are
// scoped per bank and independent across banks.
type Guard struct {
	store storage.UsageStore
	clock func() time.Time
}

// New creates a guard over the usage store.
func New(store storage.UsageStore, clock func() time.Time) *Guard {
	if clock == nil {
		clock = time.Now
	}
	return &Guard{store: store, clock: clock}
}

// Check reports whether phone or email were already consumed for bankName.
// Empty values are never reported as seen.
func (g *Guard) Check(ctx context.Context, bankName, phone, email string) (Reuse, error) {
	if g == nil || g.store == nil {
		return Reuse{}, fmt.Errorf("usage store is not configured")
	}
	bankName = strings.TrimSpace(bankName)
	if bankName == "" {
		return Reuse{}, fmt.Errorf("bank name is required")
	}

	var reuse Reuse
	if phone = strings.TrimSpace(phone); phone != "" {
		seen, err := g.store.PhoneUsed(ctx, bankName, phone)
		if err != nil {
			return Reuse{}, fmt.Errorf("check phone reuse: %w", err)
		}
		reuse.PhoneSeen = seen
	}
	if email = strings.TrimSpace(email); email != "" {
		seen, err := g.store.EmailUsed(ctx, bankName, email)
		if err != nil {
			return Reuse{}, fmt.Errorf("check email reuse: %w", err)
		}
		reuse.EmailSeen = seen
	}
	return reuse, nil
}

// Record marks the pair as consumed by orderID. The call is idempotent in
// effect: repeated records only ever strengthen the "seen at least once"
// signal Check reads.
func (g *Guard) Record(ctx context.Context, orderID int64, bankName, phone, email string) error {
	if g == nil || g.store == nil {
		return fmt.Errorf("usage store is not configured")
	}
	return g.store.RecordUsage(ctx, storage.UsageRecord{
		OrderID:   orderID,
		BankName:  bankName,
		Phone:     phone,
		Email:     email,
		CreatedAt: g.clock(),
	})
}
