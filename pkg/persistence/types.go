package persistence

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/util"
)

var (
	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("persistence layer is closed")

	// ErrSequenceMismatch is returned when the stored header moved on since the update was computed
	ErrSequenceMismatch = errors.New("ledger sequence mismatch")
)

// LedgerUpdate is one committed ledger state change.
type LedgerUpdate struct {
	// ExpectedSequence is the sequence of the header this update replaces, 0 for the first write
	ExpectedSequence uint64

	// Header is the new header. Header.Sequence must be ExpectedSequence+1.
	Header *types.LedgerHeader

	// ClaimedAmounts holds new cumulative claimed amounts keyed by account
	ClaimedAmounts map[common.Address]*big.Int

	// Transferred holds new transferred totals keyed by account
	Transferred map[common.Address]*big.Int

	// Event is the event emitted by the change. Its Sequence equals Header.Sequence.
	Event *types.LedgerEvent
}

// Validate checks the update is internally consistent before it is written.
func (u *LedgerUpdate) Validate() error {
	if u == nil {
		return fmt.Errorf("cannot apply nil LedgerUpdate")
	}
	if u.Header == nil {
		return fmt.Errorf("ledger update has no header")
	}
	if u.Header.Sequence != u.ExpectedSequence+1 {
		return fmt.Errorf("header sequence %d does not follow expected sequence %d", u.Header.Sequence, u.ExpectedSequence)
	}
	if u.Header.Balance == nil || !util.IsUint256(u.Header.Balance.ToInt()) {
		return fmt.Errorf("header balance must be a 256 bit unsigned integer")
	}
	for account, amount := range u.ClaimedAmounts {
		if !util.IsUint256(amount) {
			return fmt.Errorf("claimed amount for %s must be a 256 bit unsigned integer", account.Hex())
		}
	}
	for account, amount := range u.Transferred {
		if !util.IsUint256(amount) {
			return fmt.Errorf("transferred amount for %s must be a 256 bit unsigned integer", account.Hex())
		}
	}
	if u.Event != nil && u.Event.Sequence != u.Header.Sequence {
		return fmt.Errorf("event sequence %d does not match header sequence %d", u.Event.Sequence, u.Header.Sequence)
	}
	return nil
}

// CurrentSequence returns the sequence of a stored header, 0 when there is none
func CurrentSequence(h *types.LedgerHeader) uint64 {
	if h == nil {
		return 0
	}
	return h.Sequence
}
