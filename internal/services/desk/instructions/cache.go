// Package instructions caches decoded step configuration in front of the
// store. The hot path ("what is the next step for this user") reads one
// immutable snapshot pointer; rebuilds swap the pointer atomically so
// readers never observe a half-built map.
package instructions

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/louisbranch/bankdesk/internal/services/desk/domain"
	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

// DefaultTTL bounds snapshot staleness when no TTL is configured.
const DefaultTTL = 10 * time.Second

// Source is the subset of the store the cache reads through to.
type Source interface {
	ListBanks(ctx context.Context) ([]storage.BankRecord, error)
	ListSteps(ctx context.Context, bankName string, action storage.Action) ([]storage.StepRecord, error)
}

// Snapshot is one immutable view of all active bank instruction flows.
type Snapshot struct {
	builtAt  time.Time
	banks    []string
	flows    map[string]map[storage.Action][]domain.Step
	settings map[string]domain.Bank
}

// Banks lists active bank names in insertion order.
func (s *Snapshot) Banks() []string {
	if s == nil {
		return nil
	}
	return s.banks
}

// Steps returns the ordered steps of one (bank, action), or nil when the
// bank is inactive, unknown, or has the action disabled.
func (s *Snapshot) Steps(bankName string, action storage.Action) []domain.Step {
	if s == nil {
		return nil
	}
	actions, ok := s.flows[bankName]
	if !ok {
		return nil
	}
	return actions[action]
}

// Bank returns one active bank's decoded admission settings.
func (s *Snapshot) Bank(bankName string) (domain.Bank, bool) {
	if s == nil {
		return domain.Bank{}, false
	}
	bank, ok := s.settings[bankName]
	return bank, ok
}

// Cache is a TTL-bounded read-through snapshot cache. A zero TTL disables
// caching and forces a rebuild on every read.
type Cache struct {
	source Source
	ttl    time.Duration
	clock  func() time.Time

	rebuildMu sync.Mutex
	snapshot  atomic.Pointer[Snapshot]
}

// New creates a cache over source. A negative ttl falls back to DefaultTTL;
// zero disables caching.
func New(source Source, ttl time.Duration, clock func() time.Time) *Cache {
	if ttl < 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &Cache{source: source, ttl: ttl, clock: clock}
}

// Invalidate forces the next read to rebuild regardless of remaining TTL.
// Every bank or step mutation must call it so administrative changes are
// visible without waiting out the TTL.
func (c *Cache) Invalidate() {
	c.snapshot.Store(nil)
}

// Snapshot returns the current instruction view, rebuilding it from the
// source when the cached one expired or was invalidated.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	if c == nil || c.source == nil {
		return nil, fmt.Errorf("instruction source is not configured")
	}
	if snapshot := c.snapshot.Load(); c.fresh(snapshot) {
		return snapshot, nil
	}

	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()
	if snapshot := c.snapshot.Load(); c.fresh(snapshot) {
		return snapshot, nil
	}

	snapshot, err := c.rebuild(ctx)
	if err != nil {
		return nil, err
	}
	c.snapshot.Store(snapshot)
	return snapshot, nil
}

func (c *Cache) fresh(snapshot *Snapshot) bool {
	if snapshot == nil {
		return false
	}
	if c.ttl == 0 {
		return false
	}
	return c.clock().Sub(snapshot.builtAt) < c.ttl
}

func (c *Cache) rebuild(ctx context.Context) (*Snapshot, error) {
	ctx, span := otel.Tracer("bankdesk/instructions").Start(ctx, "instructions.rebuild")
	defer span.End()

	banks, err := c.source.ListBanks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list banks for snapshot: %w", err)
	}

	snapshot := &Snapshot{
		builtAt:  c.clock(),
		flows:    make(map[string]map[storage.Action][]domain.Step),
		settings: make(map[string]domain.Bank),
	}
	for _, bankRecord := range banks {
		if !bankRecord.Active {
			continue
		}
		bank, err := domain.DecodeBank(bankRecord)
		if err != nil {
			log.Printf("instructions snapshot bank decode bank=%s: %v", bankRecord.Name, err)
		}

		actions := make(map[storage.Action][]domain.Step)
		for _, action := range []storage.Action{storage.ActionRegister, storage.ActionChange} {
			if !bank.ActionEnabled(action) {
				continue
			}
			stepRecords, err := c.source.ListSteps(ctx, bank.Name, action)
			if err != nil {
				return nil, fmt.Errorf("list steps for snapshot bank=%s action=%s: %w", bank.Name, action, err)
			}
			steps := make([]domain.Step, 0, len(stepRecords))
			for _, record := range stepRecords {
				step, warn := domain.DecodeStep(record)
				if warn != nil {
					log.Printf("instructions snapshot step decode: %v", warn)
				}
				steps = append(steps, step)
			}
			actions[action] = steps
		}
		if len(actions) == 0 {
			continue
		}
		snapshot.flows[bank.Name] = actions
		snapshot.banks = append(snapshot.banks, bank.Name)
		snapshot.settings[bank.Name] = bank
	}

	span.SetAttributes(attribute.Int("instructions.banks", len(snapshot.banks)))
	return snapshot, nil
}

// BanksSupporting lists active banks that expose at least one step for the
// action, preserving insertion order.
func (c *Cache) BanksSupporting(ctx context.Context, action storage.Action) ([]string, error) {
	snapshot, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, name := range snapshot.Banks() {
		if len(snapshot.Steps(name, action)) > 0 {
			names = append(names, name)
		}
	}
	return names, nil
}

// MinimumAge scans the ordered steps for the first declared age gate.
// The second return reports whether any step declares one.
func (c *Cache) MinimumAge(ctx context.Context, bankName string, action storage.Action) (int, bool, error) {
	snapshot, err := c.Snapshot(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, step := range snapshot.Steps(bankName, action) {
		if step.MinAge > 0 {
			return step.MinAge, true, nil
		}
	}
	return 0, false, nil
}

// MinimumPrice returns one bank action's configured minimum payout price.
// Banks without a positive price yield ok=false, never an error.
func (c *Cache) MinimumPrice(ctx context.Context, bankName string, action storage.Action) (decimal.Decimal, bool, error) {
	snapshot, err := c.Snapshot(ctx)
	if err != nil {
		return decimal.Zero, false, err
	}
	bank, ok := snapshot.Bank(bankName)
	if !ok {
		return decimal.Zero, false, nil
	}
	price := bank.Actions[action].MinPrice
	return price, price.IsPositive(), nil
}

// RequiredPhotos returns the configured photo count of the step at
// stageIndex. Out-of-range indexes and steps without a count yield ok=false,
// never an error.
func (c *Cache) RequiredPhotos(ctx context.Context, bankName string, action storage.Action, stageIndex int) (int, bool, error) {
	snapshot, err := c.Snapshot(ctx)
	if err != nil {
		return 0, false, err
	}
	steps := snapshot.Steps(bankName, action)
	if stageIndex < 0 || stageIndex >= len(steps) {
		return 0, false, nil
	}
	if steps[stageIndex].RequiredPhotos <= 0 {
		return 0, false, nil
	}
	return steps[stageIndex].RequiredPhotos, true, nil
}
