package persistence

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// ILedgerPersistence stores the state of one distribution ledger.
// All implementations must be thread-safe.
//
// The interface supports:
// - Atomic application of one ledger state change (header, per-account entries, event)
// - Point reads of the header and per-account amounts
// - Reading the committed event log in sequence order
// - Lifecycle management (close, health check)
type ILedgerPersistence interface {
	// ApplyUpdate writes the header, every changed per-account amount and the event of
	// one state change in a single atomic step. Either all of it becomes visible or
	// none of it does.
	// Returns ErrSequenceMismatch if the stored header sequence is not
	// update.ExpectedSequence, which means another writer committed first.
	ApplyUpdate(update *LedgerUpdate) error

	// LoadHeader returns the stored header, or nil if the ledger was never initialized.
	LoadHeader() (*types.LedgerHeader, error)

	// LoadClaimedAmount returns the cumulative claimed amount for account.
	// Returns zero for accounts that never claimed.
	LoadClaimedAmount(account common.Address) (*big.Int, error)

	// LoadTransferred returns the total moved out of custody to account.
	// Returns zero for accounts that never received funds.
	LoadTransferred(account common.Address) (*big.Int, error)

	// ListEvents returns committed events with Sequence >= fromSequence in ascending
	// order, at most limit of them. A limit <= 0 means no limit.
	ListEvents(fromSequence uint64, limit int) ([]*types.LedgerEvent, error)

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	HealthCheck() error
}
