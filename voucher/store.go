package voucher

import (
	"sync"
	"time"

	x402 "github.com/bus402/x402-video-paylink"
)

// Store holds the last accepted voucher state per identifier. CompareAndSet
// makes the read-validate-write sequence atomic per identifier: a write only
// lands if the stored state still equals the state the validation ran
// against, so two racing aggregations from the same nonce can never both
// commit.
type Store interface {
	// Get returns the stored state for an identifier, if any.
	Get(id string) (x402.VoucherState, bool)

	// CompareAndSet replaces the state for an identifier only when the
	// currently stored state matches expected (nil expected means no entry
	// may exist). Reports whether the write landed.
	CompareAndSet(id string, expected *x402.VoucherState, next x402.VoucherState) bool

	// PurgeExpired removes entries whose voucher expiry has passed and
	// returns how many were dropped.
	PurgeExpired(now time.Time) int
}

// MemoryStore is a process-lifetime in-memory Store. Entries survive until
// their voucher expires; nothing is persisted across restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]x402.VoucherState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]x402.VoucherState)}
}

// Get implements Store.
func (s *MemoryStore) Get(id string) (x402.VoucherState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[id]
	return state, ok
}

// CompareAndSet implements Store.
func (s *MemoryStore) CompareAndSet(id string, expected *x402.VoucherState, next x402.VoucherState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.states[id]
	if expected == nil {
		if ok {
			return false
		}
	} else {
		if !ok || !sameState(current, *expected) {
			return false
		}
	}

	s.states[id] = next
	return true
}

// PurgeExpired implements Store.
func (s *MemoryStore) PurgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	cutoff := now.Unix()
	for id, state := range s.states {
		if state.Voucher.Expiry < cutoff {
			delete(s.states, id)
			purged++
		}
	}
	return purged
}

// Len returns the number of tracked identifiers.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// sameState compares the fields that advance across the voucher lifecycle.
// Immutable fields are covered by the signature comparison.
func sameState(a, b x402.VoucherState) bool {
	return a.Voucher.Nonce == b.Voucher.Nonce &&
		a.Voucher.ValueAggregate == b.Voucher.ValueAggregate &&
		a.Voucher.Timestamp == b.Voucher.Timestamp &&
		a.Signature == b.Signature
}
