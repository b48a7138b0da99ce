// Package ledger implements the distribution ledger: a custody balance, the current
// merkle root, two roles and the cumulative amount each account has claimed.
//
// Every operation runs under one mutex and commits through a single atomic
// persistence write, so an operation either fully happens or leaves no trace.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/metrics"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/util"
)

// Operation names used in logs and metrics
const (
	OpInitialize           = "initialize"
	OpDeposit              = "deposit"
	OpSetMaintainer        = "setMaintainer"
	OpTransferOwnership    = "transferOwnership"
	OpSetMerkleRoot        = "setMerkleRoot"
	OpEmergencyWithdrawNew = "emergencyWithdrawNew"
)

// Ledger is safe for concurrent use. Operations are linearized in the order they
// acquire the lock.
type Ledger struct {
	mu sync.Mutex

	store   persistence.ILedgerPersistence
	metrics *metrics.DistributorMetrics
	logger  *zap.Logger

	// header mirrors the last committed header, nil before Initialize
	header *types.LedgerHeader

	feed event.Feed
	now  func() time.Time
}

// NewLedger loads the ledger kept in store. The returned ledger is uninitialized if
// the store is empty. m may be nil.
func NewLedger(store persistence.ILedgerPersistence, m *metrics.DistributorMetrics, logger *zap.Logger) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("persistence is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	header, err := store.LoadHeader()
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger header: %w", err)
	}

	l := &Ledger{
		store:   store,
		metrics: m,
		logger:  logger,
		header:  header,
		now:     time.Now,
	}
	if header != nil {
		m.SetLedgerState(header.Balance.ToInt(), header.Sequence)
		logger.Sugar().Infow("Loaded distribution ledger",
			"sequence", header.Sequence,
			"merkleRoot", header.MerkleRoot.Hex(),
			"owner", header.Owner.Hex(),
			"maintainer", header.Maintainer.Hex(),
			"balance", header.Balance.ToInt().String(),
		)
	}
	return l, nil
}

// Initialize sets deployer as owner, records maintainer and the initial root and
// starts with an empty balance. It may be called once per store. A zero root is
// allowed; every claim fails until the maintainer sets a real one.
func (l *Ledger) Initialize(deployer, maintainer common.Address, merkleRoot common.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.initialize(deployer, maintainer, merkleRoot)
	l.metrics.ObserveOperation(OpInitialize, err)
	return err
}

func (l *Ledger) initialize(deployer, maintainer common.Address, merkleRoot common.Hash) error {
	if l.header != nil && l.header.Initialized {
		return ErrAlreadyInitialized
	}
	if deployer == (common.Address{}) {
		return ErrZeroOwner
	}

	next := &types.LedgerHeader{
		Initialized: true,
		MerkleRoot:  merkleRoot,
		Owner:       deployer,
		Maintainer:  maintainer,
		Balance:     (*hexutil.Big)(new(big.Int)),
	}
	zero := common.Address{}
	ev := &types.LedgerEvent{
		Type:            types.EventOwnershipTransferred,
		PreviousAddress: &zero,
		NewAddress:      &deployer,
	}
	if _, err := l.commit(next, nil, nil, ev); err != nil {
		return err
	}

	l.logger.Sugar().Infow("Initialized distribution ledger",
		"owner", deployer.Hex(),
		"maintainer", maintainer.Hex(),
		"merkleRoot", merkleRoot.Hex(),
	)
	return nil
}

// Initialized reports whether Initialize has been committed
func (l *Ledger) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.header != nil && l.header.Initialized
}

func (l *Ledger) Owner() common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.header == nil {
		return common.Address{}
	}
	return l.header.Owner
}

func (l *Ledger) Maintainer() common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.header == nil {
		return common.Address{}
	}
	return l.header.Maintainer
}

func (l *Ledger) MerkleRoot() common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.header == nil {
		return common.Hash{}
	}
	return l.header.MerkleRoot
}

// Balance returns the funds currently held in custody
func (l *Ledger) Balance() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.header == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(l.header.Balance.ToInt())
}

// State returns a copy of the committed header, nil before Initialize
func (l *Ledger) State() *types.LedgerHeader {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.header.Copy()
}

// ClaimedAmount returns the cumulative amount account has claimed, zero if it never claimed.
func (l *Ledger) ClaimedAmount(account common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, err := l.store.LoadClaimedAmount(account)
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed amount: %w", err)
	}
	return v, nil
}

// Transferred returns the total moved out of custody to account by claims and
// emergency withdrawals.
func (l *Ledger) Transferred(account common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, err := l.store.LoadTransferred(account)
	if err != nil {
		return nil, fmt.Errorf("failed to load transferred amount: %w", err)
	}
	return v, nil
}

// SetMaintainer replaces the maintainer. Owner only.
func (l *Ledger) SetMaintainer(caller, newMaintainer common.Address) (*types.LedgerEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev, err := l.setMaintainer(caller, newMaintainer)
	l.metrics.ObserveOperation(OpSetMaintainer, err)
	return ev, err
}

func (l *Ledger) setMaintainer(caller, newMaintainer common.Address) (*types.LedgerEvent, error) {
	h, err := l.onlyOwner(caller)
	if err != nil {
		return nil, err
	}

	previous := h.Maintainer
	next := h.Copy()
	next.Maintainer = newMaintainer

	ev, err := l.commit(next, nil, nil, &types.LedgerEvent{
		Type:            types.EventMaintainerChanged,
		PreviousAddress: &previous,
		NewAddress:      &newMaintainer,
	})
	if err != nil {
		return nil, err
	}

	l.logger.Sugar().Infow("Maintainer changed", "previous", previous.Hex(), "new", newMaintainer.Hex())
	return ev, nil
}

// TransferOwnership hands the owner role to newOwner. Owner only.
func (l *Ledger) TransferOwnership(caller, newOwner common.Address) (*types.LedgerEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev, err := l.transferOwnership(caller, newOwner)
	l.metrics.ObserveOperation(OpTransferOwnership, err)
	return ev, err
}

func (l *Ledger) transferOwnership(caller, newOwner common.Address) (*types.LedgerEvent, error) {
	h, err := l.onlyOwner(caller)
	if err != nil {
		return nil, err
	}
	if newOwner == (common.Address{}) {
		return nil, ErrZeroOwner
	}

	previous := h.Owner
	next := h.Copy()
	next.Owner = newOwner

	ev, err := l.commit(next, nil, nil, &types.LedgerEvent{
		Type:            types.EventOwnershipTransferred,
		PreviousAddress: &previous,
		NewAddress:      &newOwner,
	})
	if err != nil {
		return nil, err
	}

	l.logger.Sugar().Infow("Ownership transferred", "previous", previous.Hex(), "new", newOwner.Hex())
	return ev, nil
}

// SetMerkleRoot rotates the committed entitlement set. Claimed amounts are kept.
// Maintainer only.
func (l *Ledger) SetMerkleRoot(caller common.Address, newRoot common.Hash) (*types.LedgerEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev, err := l.setMerkleRoot(caller, newRoot)
	l.metrics.ObserveOperation(OpSetMerkleRoot, err)
	return ev, err
}

func (l *Ledger) setMerkleRoot(caller common.Address, newRoot common.Hash) (*types.LedgerEvent, error) {
	h, err := l.onlyMaintainer(caller)
	if err != nil {
		return nil, err
	}

	previous := h.MerkleRoot
	next := h.Copy()
	next.MerkleRoot = newRoot

	ev, err := l.commit(next, nil, nil, &types.LedgerEvent{
		Type:         types.EventMerkleRootUpdated,
		PreviousRoot: &previous,
		NewRoot:      &newRoot,
	})
	if err != nil {
		return nil, err
	}

	l.logger.Sugar().Infow("Merkle root updated", "previous", previous.Hex(), "new", newRoot.Hex())
	return ev, nil
}

// Claim pays account the part of its cumulative entitlement amount that has not
// been paid yet.
//
// The leaf (index, account, amount) must verify against the current root. The
// transfer is amount minus the already claimed amount, or zero when that is not
// positive, in which case a zero value Claimed event is still emitted. The stored
// claimed amount only ever rises.
func (l *Ledger) Claim(index uint64, account common.Address, amount *big.Int, proof []common.Hash) (*types.LedgerEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev, err := l.claim(index, account, amount, proof)
	switch {
	case err == nil && ev.Amount.ToInt().Sign() > 0:
		l.metrics.ObserveClaim(metrics.ClaimResultTransferred, ev.Amount.ToInt())
	case err == nil:
		l.metrics.ObserveClaim(metrics.ClaimResultRedundant, nil)
	case errors.Is(err, ErrInvalidProof):
		l.metrics.ObserveClaim(metrics.ClaimResultInvalidProof, nil)
	case errors.Is(err, ErrInsufficientFunds):
		l.metrics.ObserveClaim(metrics.ClaimResultInsufficientFunds, nil)
	default:
		l.metrics.ObserveClaim(metrics.ClaimResultError, nil)
	}
	return ev, err
}

func (l *Ledger) claim(index uint64, account common.Address, amount *big.Int, proof []common.Hash) (*types.LedgerEvent, error) {
	h, err := l.requireInitialized()
	if err != nil {
		return nil, err
	}

	if !merkle.VerifyProof(index, account, amount, proof, h.MerkleRoot) {
		return nil, ErrInvalidProof
	}
	// a verified amount always fits in 256 bits
	requested, err := util.ToUint256(amount)
	if err != nil {
		return nil, ErrInvalidProof
	}

	claimedBig, err := l.store.LoadClaimedAmount(account)
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed amount: %w", err)
	}
	alreadyClaimed, err := util.ToUint256(claimedBig)
	if err != nil {
		return nil, fmt.Errorf("stored claimed amount for %s is invalid: %w", account.Hex(), err)
	}

	delta := new(uint256.Int)
	if requested.Gt(alreadyClaimed) {
		delta.Sub(requested, alreadyClaimed)
	}

	balance, err := util.ToUint256(h.Balance.ToInt())
	if err != nil {
		return nil, fmt.Errorf("stored balance is invalid: %w", err)
	}
	if balance.Lt(delta) {
		return nil, ErrInsufficientFunds
	}

	next := h.Copy()
	next.Balance = (*hexutil.Big)(new(uint256.Int).Sub(balance, delta).ToBig())

	var claimed, transferred map[common.Address]*big.Int
	if requested.Gt(alreadyClaimed) {
		claimed = map[common.Address]*big.Int{account: requested.ToBig()}
	}
	if !delta.IsZero() {
		total, err := l.addTransferred(account, delta)
		if err != nil {
			return nil, err
		}
		transferred = map[common.Address]*big.Int{account: total}
	}

	ev, err := l.commit(next, claimed, transferred, &types.LedgerEvent{
		Type:    types.EventClaimed,
		Index:   &index,
		Account: &account,
		Amount:  (*hexutil.Big)(delta.ToBig()),
	})
	if err != nil {
		return nil, err
	}

	l.logger.Sugar().Infow("Claim processed",
		"index", index,
		"account", account.Hex(),
		"amount", amount.String(),
		"transferred", delta.Dec(),
	)
	return ev, nil
}

// addTransferred returns account's transferred total plus delta
func (l *Ledger) addTransferred(account common.Address, delta *uint256.Int) (*big.Int, error) {
	current, err := l.store.LoadTransferred(account)
	if err != nil {
		return nil, fmt.Errorf("failed to load transferred amount: %w", err)
	}
	currentU, err := util.ToUint256(current)
	if err != nil {
		return nil, fmt.Errorf("stored transferred amount for %s is invalid: %w", account.Hex(), err)
	}
	total, overflow := new(uint256.Int).AddOverflow(currentU, delta)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return total.ToBig(), nil
}

// EmergencyWithdrawNew moves the whole balance to destination. Claimed amounts are
// not touched. Owner only.
func (l *Ledger) EmergencyWithdrawNew(caller, destination common.Address) (*types.LedgerEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev, err := l.emergencyWithdrawNew(caller, destination)
	l.metrics.ObserveOperation(OpEmergencyWithdrawNew, err)
	return ev, err
}

func (l *Ledger) emergencyWithdrawNew(caller, destination common.Address) (*types.LedgerEvent, error) {
	h, err := l.onlyOwner(caller)
	if err != nil {
		return nil, err
	}
	if destination == (common.Address{}) {
		return nil, ErrZeroDestination
	}

	amount, err := util.ToUint256(h.Balance.ToInt())
	if err != nil {
		return nil, fmt.Errorf("stored balance is invalid: %w", err)
	}

	next := h.Copy()
	next.Balance = (*hexutil.Big)(new(big.Int))

	var transferred map[common.Address]*big.Int
	if !amount.IsZero() {
		total, err := l.addTransferred(destination, amount)
		if err != nil {
			return nil, err
		}
		transferred = map[common.Address]*big.Int{destination: total}
	}

	ev, err := l.commit(next, nil, transferred, &types.LedgerEvent{
		Type:    types.EventEmergencyWithdrawn,
		Account: &destination,
		Amount:  (*hexutil.Big)(amount.ToBig()),
	})
	if err != nil {
		return nil, err
	}

	l.logger.Sugar().Warnw("Emergency withdrawal", "destination", destination.Hex(), "amount", amount.Dec())
	return ev, nil
}

// Deposit adds amount to the custody balance. Anyone may deposit; a zero amount
// is rejected.
func (l *Ledger) Deposit(from common.Address, amount *big.Int) (*types.LedgerEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev, err := l.deposit(from, amount)
	l.metrics.ObserveOperation(OpDeposit, err)
	if err == nil {
		l.metrics.ObserveDeposit(amount)
	}
	return ev, err
}

func (l *Ledger) deposit(from common.Address, amount *big.Int) (*types.LedgerEvent, error) {
	h, err := l.requireInitialized()
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	value, err := util.ToUint256(amount)
	if err != nil {
		return nil, ErrAmountOverflow
	}
	balance, err := util.ToUint256(h.Balance.ToInt())
	if err != nil {
		return nil, fmt.Errorf("stored balance is invalid: %w", err)
	}
	sum, overflow := new(uint256.Int).AddOverflow(balance, value)
	if overflow {
		return nil, ErrAmountOverflow
	}

	next := h.Copy()
	next.Balance = (*hexutil.Big)(sum.ToBig())

	ev, err := l.commit(next, nil, nil, &types.LedgerEvent{
		Type:    types.EventDeposited,
		Account: &from,
		Amount:  (*hexutil.Big)(value.ToBig()),
	})
	if err != nil {
		return nil, err
	}

	l.logger.Sugar().Infow("Deposit received", "from", from.Hex(), "amount", value.Dec(), "balance", sum.Dec())
	return ev, nil
}

// Events returns committed events with Sequence >= fromSequence, at most limit of them.
func (l *Ledger) Events(fromSequence uint64, limit int) ([]*types.LedgerEvent, error) {
	events, err := l.store.ListEvents(fromSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger events: %w", err)
	}
	return events, nil
}

// SubscribeEvents delivers every event committed after the call to ch, in commit
// order. Delivery happens while the ledger lock is held, so ch must be buffered or
// drained promptly.
func (l *Ledger) SubscribeEvents(ch chan<- *types.LedgerEvent) event.Subscription {
	return l.feed.Subscribe(ch)
}

// commit numbers ev, writes the update and only then publishes the new header.
// Expects l.mu to be held.
func (l *Ledger) commit(
	next *types.LedgerHeader,
	claimed, transferred map[common.Address]*big.Int,
	ev *types.LedgerEvent,
) (*types.LedgerEvent, error) {
	current := persistence.CurrentSequence(l.header)
	now := l.now().Unix()

	next.Sequence = current + 1
	next.UpdatedAt = now
	ev.Sequence = next.Sequence
	ev.Timestamp = now

	err := l.store.ApplyUpdate(&persistence.LedgerUpdate{
		ExpectedSequence: current,
		Header:           next,
		ClaimedAmounts:   claimed,
		Transferred:      transferred,
		Event:            ev,
	})
	if errors.Is(err, persistence.ErrSequenceMismatch) {
		l.refresh()
		return nil, fmt.Errorf("%w: %v", ErrConcurrentUpdate, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to persist ledger update: %w", err)
	}

	l.header = next
	l.metrics.SetLedgerState(next.Balance.ToInt(), next.Sequence)
	l.feed.Send(ev.Copy())
	return ev, nil
}

// refresh reloads the header after another writer moved the store forward
func (l *Ledger) refresh() {
	header, err := l.store.LoadHeader()
	if err != nil {
		l.logger.Sugar().Errorw("Failed to reload ledger header", "error", err)
		return
	}
	l.header = header
	if header != nil {
		l.metrics.SetLedgerState(header.Balance.ToInt(), header.Sequence)
	}
}
