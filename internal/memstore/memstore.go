// Package memstore provides in-process implementations of the billing stores
// for local runs and tests. State is lost on restart.
package memstore

import (
	"context"
	"sync"
	"time"

	"planguard/internal/types"
)

// keyedMutex hands out one mutex per key so unrelated keys never contend.
type keyedMutex struct {
	locks sync.Map
}

func (k *keyedMutex) lock(key string) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// PlanStore keeps plans in memory with per-tenant serialization.
type PlanStore struct {
	tenants keyedMutex
	mu      sync.RWMutex
	plans   map[string]*types.Plan
	now     func() time.Time
}

// NewPlanStore creates an empty PlanStore.
func NewPlanStore() *PlanStore {
	return &PlanStore{plans: make(map[string]*types.Plan), now: time.Now}
}

// GetOrCreate returns a copy of the tenant's plan, creating the Free plan on
// first access.
func (s *PlanStore) GetOrCreate(ctx context.Context, tenantID string) (*types.Plan, error) {
	s.mu.RLock()
	p, ok := s.plans[tenantID]
	s.mu.RUnlock()
	if ok {
		return p.Clone(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.plans[tenantID]; !ok {
		p = types.NewFreePlan(tenantID, s.now().UTC())
		s.plans[tenantID] = p
	}
	return p.Clone(), nil
}

// Update runs fn under the tenant's lock and stores its result.
func (s *PlanStore) Update(ctx context.Context, tenantID string, fn func(*types.Plan) (*types.Plan, error)) error {
	unlock := s.tenants.lock(tenantID)
	defer unlock()

	current, err := s.GetOrCreate(ctx, tenantID)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}

	s.mu.Lock()
	s.plans[tenantID] = next.Clone()
	s.mu.Unlock()
	return nil
}

// UsageStore keeps counters in memory with a mutex per counter key.
type UsageStore struct {
	keys     keyedMutex
	mu       sync.RWMutex
	counters map[types.UsageKey]int64
}

// NewUsageStore creates an empty UsageStore.
func NewUsageStore() *UsageStore {
	return &UsageStore{counters: make(map[types.UsageKey]int64)}
}

func lockName(key types.UsageKey) string {
	return key.TenantID + "|" + string(key.Period) + "|" + string(key.Kind)
}

func (s *UsageStore) get(key types.UsageKey) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[key]
}

func (s *UsageStore) set(key types.UsageKey, v int64) {
	s.mu.Lock()
	s.counters[key] = v
	s.mu.Unlock()
}

// Consume increments the counter if the limit allows it.
func (s *UsageStore) Consume(ctx context.Context, key types.UsageKey, amount int64, limit types.Limit) (int64, bool, error) {
	unlock := s.keys.lock(lockName(key))
	defer unlock()

	current := s.get(key)
	if !limit.Allows(current, amount) {
		return current, false, nil
	}
	s.set(key, current+amount)
	return current + amount, true, nil
}

// Release decrements the counter, clamped at zero.
func (s *UsageStore) Release(ctx context.Context, key types.UsageKey, amount int64) (int64, error) {
	unlock := s.keys.lock(lockName(key))
	defer unlock()

	next := s.get(key) - amount
	if next < 0 {
		next = 0
	}
	s.set(key, next)
	return next, nil
}

// Counts returns the tenant's counters for period.
func (s *UsageStore) Counts(ctx context.Context, tenantID string, period types.PeriodKey) (map[types.ResourceKind]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[types.ResourceKind]int64)
	for k, v := range s.counters {
		if k.TenantID == tenantID && k.Period == period {
			out[k.Kind] = v
		}
	}
	return out, nil
}

// EventLedger keeps processed events in memory.
type EventLedger struct {
	mu      sync.RWMutex
	entries map[string]types.ProcessedEvent
}

// NewEventLedger creates an empty EventLedger.
func NewEventLedger() *EventLedger {
	return &EventLedger{entries: make(map[string]types.ProcessedEvent)}
}

// Lookup returns the entry for externalEventID.
func (l *EventLedger) Lookup(ctx context.Context, externalEventID string) (*types.ProcessedEvent, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[externalEventID]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

// Record inserts entry if its id is new.
func (l *EventLedger) Record(ctx context.Context, entry types.ProcessedEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[entry.ExternalEventID]; exists {
		return false, nil
	}
	l.entries[entry.ExternalEventID] = entry
	return true, nil
}
