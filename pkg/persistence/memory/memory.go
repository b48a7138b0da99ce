package memory

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// MemoryPersistence is an in-memory implementation of ILedgerPersistence.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	header      *types.LedgerHeader
	claimed     map[common.Address]*big.Int
	transferred map[common.Address]*big.Int

	// events ordered by sequence
	events []*types.LedgerEvent

	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
// Prints a loud warning since this should only be used for testing.
func NewMemoryPersistence() *MemoryPersistence {
	fmt.Println("⚠️  WARNING: Using in-memory persistence - ALL LEDGER STATE WILL BE LOST ON RESTART")
	fmt.Println("⚠️  This should ONLY be used for testing. Set DISTRIBUTOR_PERSISTENCE_TYPE=badger for production")

	return &MemoryPersistence{
		claimed:     make(map[common.Address]*big.Int),
		transferred: make(map[common.Address]*big.Int),
	}
}

// ApplyUpdate writes the whole update under one lock.
func (m *MemoryPersistence) ApplyUpdate(update *persistence.LedgerUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	if current := persistence.CurrentSequence(m.header); current != update.ExpectedSequence {
		return fmt.Errorf("%w: stored %d, expected %d", persistence.ErrSequenceMismatch, current, update.ExpectedSequence)
	}

	m.header = update.Header.Copy()
	for account, amount := range update.ClaimedAmounts {
		m.claimed[account] = new(big.Int).Set(amount)
	}
	for account, amount := range update.Transferred {
		m.transferred[account] = new(big.Int).Set(amount)
	}
	if update.Event != nil {
		m.events = append(m.events, update.Event.Copy())
	}
	return nil
}

// LoadHeader returns a copy of the stored header.
func (m *MemoryPersistence) LoadHeader() (*types.LedgerHeader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}
	return m.header.Copy(), nil
}

// LoadClaimedAmount returns the claimed amount for account.
func (m *MemoryPersistence) LoadClaimedAmount(account common.Address) (*big.Int, error) {
	return m.loadAmount(m.claimed, account)
}

// LoadTransferred returns the transferred total for account.
func (m *MemoryPersistence) LoadTransferred(account common.Address) (*big.Int, error) {
	return m.loadAmount(m.transferred, account)
}

func (m *MemoryPersistence) loadAmount(amounts map[common.Address]*big.Int, account common.Address) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}
	v, ok := amounts[account]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(v), nil
}

// ListEvents returns events from fromSequence onwards.
func (m *MemoryPersistence) ListEvents(fromSequence uint64, limit int) ([]*types.LedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	start := sort.Search(len(m.events), func(i int) bool {
		return m.events[i].Sequence >= fromSequence
	})

	result := make([]*types.LedgerEvent, 0)
	for _, e := range m.events[start:] {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, e.Copy())
	}
	return result, nil
}

// Close marks the persistence layer as closed.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}
	return nil
}
