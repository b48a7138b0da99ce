package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Leaf is a single entitlement committed to by a merkle root.
// Within one tree indices are unique and dense (0..N-1).
type Leaf struct {
	Index   uint64
	Account common.Address
	Amount  *big.Int
}

// HexAmount is a non-negative integer written as byte-aligned 0x hex ("0x02ee"),
// the encoding claims files use for amounts.
type HexAmount big.Int

// NewHexAmount copies v into a HexAmount
func NewHexAmount(v *big.Int) *HexAmount {
	return (*HexAmount)(new(big.Int).Set(v))
}

// ToInt returns the underlying integer. Mutating it mutates a.
func (a *HexAmount) ToInt() *big.Int {
	return (*big.Int)(a)
}

// ToBig returns the amount in the API's hex encoding
func (a *HexAmount) ToBig() *hexutil.Big {
	return (*hexutil.Big)(new(big.Int).Set(a.ToInt()))
}

func (a *HexAmount) String() string {
	digits := a.ToInt().Text(16)
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	return "0x" + digits
}

func (a *HexAmount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts 0x hex of any width, including leading zeros
func (a *HexAmount) UnmarshalText(input []byte) error {
	raw := string(input)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		return fmt.Errorf("amount %q must be 0x prefixed hex", raw)
	}
	digits := raw[2:]
	if digits == "" || strings.HasPrefix(digits, "-") || strings.HasPrefix(digits, "+") {
		return fmt.Errorf("invalid hex amount %q", raw)
	}
	v, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return fmt.Errorf("invalid hex amount %q", raw)
	}
	if v.BitLen() > 256 {
		return fmt.Errorf("amount %q does not fit in 256 bits", raw)
	}
	a.ToInt().Set(v)
	return nil
}

// ClaimInfo is the per-account claim package published off-ledger alongside the root.
type ClaimInfo struct {
	Index  uint64        `json:"index"`
	Amount *HexAmount    `json:"amount"`
	Proof  []common.Hash `json:"proof"`
}

// MerkleDistributorInfo is the output of parsing a balance map: the root to commit to the
// ledger, the total amount the ledger must be funded with, and one claim per account
// keyed by checksummed address.
type MerkleDistributorInfo struct {
	MerkleRoot common.Hash           `json:"merkleRoot"`
	TokenTotal *HexAmount            `json:"tokenTotal"`
	Claims     map[string]*ClaimInfo `json:"claims"`
}

// LedgerHeader is the fixed-size part of the ledger state. Per-account claimed and
// transferred amounts live next to it in the persistence layer.
type LedgerHeader struct {
	Initialized bool           `json:"initialized"`
	MerkleRoot  common.Hash    `json:"merkleRoot"`
	Owner       common.Address `json:"owner"`
	Maintainer  common.Address `json:"maintainer"`
	Balance     *hexutil.Big   `json:"balance"`

	// Sequence is incremented once per committed state change
	Sequence  uint64 `json:"sequence"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Copy returns a deep copy of the header
func (h *LedgerHeader) Copy() *LedgerHeader {
	if h == nil {
		return nil
	}
	out := *h
	if h.Balance != nil {
		out.Balance = (*hexutil.Big)(new(big.Int).Set(h.Balance.ToInt()))
	} else {
		out.Balance = (*hexutil.Big)(new(big.Int))
	}
	return &out
}

// EventType names an event emitted by the ledger
type EventType string

const (
	EventClaimed              EventType = "Claimed"
	EventDeposited            EventType = "Deposited"
	EventMaintainerChanged    EventType = "MaintainerChanged"
	EventMerkleRootUpdated    EventType = "MerkleRootUpdated"
	EventOwnershipTransferred EventType = "OwnershipTransferred"
	EventEmergencyWithdrawn   EventType = "EmergencyWithdrawn"
)

// LedgerEvent is a committed ledger event. Only the fields relevant to Type are set:
//
//	Claimed:              Index, Account, Amount (amount actually transferred)
//	Deposited:            Account (depositor), Amount
//	EmergencyWithdrawn:   Account (destination), Amount
//	MaintainerChanged:    PreviousAddress, NewAddress
//	OwnershipTransferred: PreviousAddress, NewAddress
//	MerkleRootUpdated:    PreviousRoot, NewRoot
type LedgerEvent struct {
	Sequence  uint64    `json:"sequence"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`

	Index   *uint64         `json:"index,omitempty"`
	Account *common.Address `json:"account,omitempty"`
	Amount  *hexutil.Big    `json:"amount,omitempty"`

	PreviousAddress *common.Address `json:"previousAddress,omitempty"`
	NewAddress      *common.Address `json:"newAddress,omitempty"`
	PreviousRoot    *common.Hash    `json:"previousRoot,omitempty"`
	NewRoot         *common.Hash    `json:"newRoot,omitempty"`
}

// Copy returns a deep copy of the event
func (e *LedgerEvent) Copy() *LedgerEvent {
	if e == nil {
		return nil
	}
	out := *e
	if e.Index != nil {
		v := *e.Index
		out.Index = &v
	}
	if e.Account != nil {
		v := *e.Account
		out.Account = &v
	}
	if e.Amount != nil {
		out.Amount = (*hexutil.Big)(new(big.Int).Set(e.Amount.ToInt()))
	}
	if e.PreviousAddress != nil {
		v := *e.PreviousAddress
		out.PreviousAddress = &v
	}
	if e.NewAddress != nil {
		v := *e.NewAddress
		out.NewAddress = &v
	}
	if e.PreviousRoot != nil {
		v := *e.PreviousRoot
		out.PreviousRoot = &v
	}
	if e.NewRoot != nil {
		v := *e.NewRoot
		out.NewRoot = &v
	}
	return &out
}
