package ledger

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/metrics"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/memory"
	tu "github.com/Layr-Labs/merkle-distributor-go/pkg/testutil"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

type fixture struct {
	ledger     *Ledger
	store      *flakyStore
	owner      common.Address
	maintainer common.Address
	accounts   []*tu.TestAccount
}

// flakyStore fails ApplyUpdate on demand
type flakyStore struct {
	*memory.MemoryPersistence
	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *flakyStore) ApplyUpdate(update *persistence.LedgerUpdate) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("disk on fire")
	}
	return f.MemoryPersistence.ApplyUpdate(update)
}

func newFixture(t *testing.T, root common.Hash) *fixture {
	t.Helper()
	accounts := tu.CreateTestAccounts(t, 6)
	store := &flakyStore{MemoryPersistence: memory.NewMemoryPersistence()}

	l, err := NewLedger(store, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	f := &fixture{
		ledger:     l,
		store:      store,
		owner:      accounts[0].Address,
		maintainer: accounts[1].Address,
		accounts:   accounts[2:],
	}
	require.NoError(t, l.Initialize(f.owner, f.maintainer, root))
	return f
}

func (f *fixture) deposit(t *testing.T, amount int64) {
	t.Helper()
	_, err := f.ledger.Deposit(f.owner, big.NewInt(amount))
	require.NoError(t, err)
}

func (f *fixture) claim(info *types.MerkleDistributorInfo, account common.Address) (*types.LedgerEvent, error) {
	c, ok := infoClaim(info, account)
	if !ok {
		return nil, errors.New("no claim")
	}
	return f.ledger.Claim(c.Index, account, c.Amount.ToInt(), c.Proof)
}

func infoClaim(info *types.MerkleDistributorInfo, account common.Address) (*types.ClaimInfo, bool) {
	c, ok := info.Claims[account.Hex()]
	return c, ok
}

func requireAmount(t *testing.T, want int64, got *big.Int) {
	t.Helper()
	require.NotNil(t, got)
	require.Equal(t, 0, big.NewInt(want).Cmp(got), "want %d, got %s", want, got.String())
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "MerkleDistributor: Invalid proof.", ErrInvalidProof.Error())
	assert.Equal(t, "Ownable: caller is not the owner", ErrNotOwner.Error())
	assert.Equal(t, "onlyMaintainer: caller is not the maintainer", ErrNotMaintainer.Error())
	assert.Equal(t, "Address: insufficient balance", ErrInsufficientFunds.Error())
	assert.Equal(t, "Ownable: new owner is the zero address", ErrZeroOwner.Error())

	assert.True(t, IsCallerError(ErrInvalidProof))
	assert.False(t, IsCallerError(errors.New("io")))
	assert.False(t, IsCallerError(ErrConcurrentUpdate))
}

func TestInitialize(t *testing.T) {
	root := common.HexToHash("0x1234")
	f := newFixture(t, root)

	assert.True(t, f.ledger.Initialized())
	assert.Equal(t, f.owner, f.ledger.Owner())
	assert.Equal(t, f.maintainer, f.ledger.Maintainer())
	assert.Equal(t, root, f.ledger.MerkleRoot())
	requireAmount(t, 0, f.ledger.Balance())

	state := f.ledger.State()
	require.NotNil(t, state)
	assert.Equal(t, uint64(1), state.Sequence)

	err := f.ledger.Initialize(f.owner, f.maintainer, root)
	require.ErrorIs(t, err, ErrAlreadyInitialized)

	events, err := f.ledger.Events(0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventOwnershipTransferred, events[0].Type)
	assert.Equal(t, common.Address{}, *events[0].PreviousAddress)
	assert.Equal(t, f.owner, *events[0].NewAddress)
}

func TestInitializeRejectsZeroDeployer(t *testing.T) {
	l, err := NewLedger(memory.NewMemoryPersistence(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.ErrorIs(t, l.Initialize(common.Address{}, common.HexToAddress("0x1"), common.Hash{}), ErrZeroOwner)
	assert.False(t, l.Initialized())
}

func TestOperationsBeforeInitialize(t *testing.T) {
	l, err := NewLedger(memory.NewMemoryPersistence(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	caller := common.HexToAddress("0x1")

	assert.False(t, l.Initialized())
	assert.Nil(t, l.State())
	assert.Equal(t, common.Address{}, l.Owner())
	requireAmount(t, 0, l.Balance())

	_, err = l.Deposit(caller, big.NewInt(1))
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = l.Claim(0, caller, big.NewInt(1), nil)
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = l.SetMaintainer(caller, caller)
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = l.SetMerkleRoot(caller, common.Hash{})
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = l.TransferOwnership(caller, caller)
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = l.EmergencyWithdrawNew(caller, caller)
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestNewLedgerValidatesArguments(t *testing.T) {
	_, err := NewLedger(nil, nil, zaptest.NewLogger(t))
	require.Error(t, err)
	_, err = NewLedger(memory.NewMemoryPersistence(), nil, nil)
	require.Error(t, err)
}

func TestCumulativeClaim(t *testing.T) {
	f := newFixture(t, common.Hash{})
	alice := f.accounts[0].Address
	info := tu.BuildDistribution(t, map[common.Address]int64{alice: 100, f.accounts[1].Address: 1})

	_, err := f.ledger.SetMerkleRoot(f.maintainer, info.MerkleRoot)
	require.NoError(t, err)
	f.deposit(t, 1000)

	ev, err := f.claim(info, alice)
	require.NoError(t, err)
	assert.Equal(t, types.EventClaimed, ev.Type)
	assert.Equal(t, alice, *ev.Account)
	requireAmount(t, 100, ev.Amount.ToInt())

	claimed, err := f.ledger.ClaimedAmount(alice)
	require.NoError(t, err)
	requireAmount(t, 100, claimed)
	requireAmount(t, 900, f.ledger.Balance())

	// the same claim again transfers nothing but still succeeds
	ev, err = f.claim(info, alice)
	require.NoError(t, err)
	assert.Equal(t, types.EventClaimed, ev.Type)
	requireAmount(t, 0, ev.Amount.ToInt())

	claimed, err = f.ledger.ClaimedAmount(alice)
	require.NoError(t, err)
	requireAmount(t, 100, claimed)
	requireAmount(t, 900, f.ledger.Balance())

	transferred, err := f.ledger.Transferred(alice)
	require.NoError(t, err)
	requireAmount(t, 100, transferred)
}

func TestRootRotationMonotonicity(t *testing.T) {
	f := newFixture(t, common.Hash{})
	alice := f.accounts[0].Address
	bob := f.accounts[1].Address
	f.deposit(t, 1000)

	steps := []struct {
		entitlement  int64
		wantTransfer int64
	}{
		{100, 100},
		{150, 50},
		{200, 50},
	}

	for _, step := range steps {
		info := tu.BuildDistribution(t, map[common.Address]int64{alice: step.entitlement, bob: 10})
		_, err := f.ledger.SetMerkleRoot(f.maintainer, info.MerkleRoot)
		require.NoError(t, err)

		ev, err := f.claim(info, alice)
		require.NoError(t, err)
		requireAmount(t, step.wantTransfer, ev.Amount.ToInt())

		claimed, err := f.ledger.ClaimedAmount(alice)
		require.NoError(t, err)
		requireAmount(t, step.entitlement, claimed)
	}

	requireAmount(t, 800, f.ledger.Balance())
}

func TestLowerEntitlementAfterRotationKeepsHighWaterMark(t *testing.T) {
	f := newFixture(t, common.Hash{})
	alice := f.accounts[0].Address
	bob := f.accounts[1].Address
	f.deposit(t, 500)

	first := tu.BuildDistribution(t, map[common.Address]int64{alice: 100, bob: 1})
	_, err := f.ledger.SetMerkleRoot(f.maintainer, first.MerkleRoot)
	require.NoError(t, err)
	_, err = f.claim(first, alice)
	require.NoError(t, err)

	second := tu.BuildDistribution(t, map[common.Address]int64{alice: 80, bob: 1})
	_, err = f.ledger.SetMerkleRoot(f.maintainer, second.MerkleRoot)
	require.NoError(t, err)

	ev, err := f.claim(second, alice)
	require.NoError(t, err)
	requireAmount(t, 0, ev.Amount.ToInt())

	claimed, err := f.ledger.ClaimedAmount(alice)
	require.NoError(t, err)
	requireAmount(t, 100, claimed)
	requireAmount(t, 400, f.ledger.Balance())
}

func TestInsufficientFundsRollsBack(t *testing.T) {
	f := newFixture(t, common.Hash{})
	alice := f.accounts[0].Address
	info := tu.BuildDistribution(t, map[common.Address]int64{alice: 100, f.accounts[1].Address: 50})
	_, err := f.ledger.SetMerkleRoot(f.maintainer, info.MerkleRoot)
	require.NoError(t, err)
	f.deposit(t, 99)

	before := f.ledger.State()
	_, err = f.claim(info, alice)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, "Address: insufficient balance", err.Error())

	claimed, err := f.ledger.ClaimedAmount(alice)
	require.NoError(t, err)
	requireAmount(t, 0, claimed)
	requireAmount(t, 99, f.ledger.Balance())
	assert.Equal(t, before.Sequence, f.ledger.State().Sequence)

	// funding the gap lets the same claim through
	f.deposit(t, 1)
	ev, err := f.claim(info, alice)
	require.NoError(t, err)
	requireAmount(t, 100, ev.Amount.ToInt())
	requireAmount(t, 0, f.ledger.Balance())
}

func TestInvalidProofLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, common.Hash{})
	alice := f.accounts[0].Address
	bob := f.accounts[1].Address
	info := tu.BuildDistribution(t, map[common.Address]int64{alice: 100, bob: 50})
	_, err := f.ledger.SetMerkleRoot(f.maintainer, info.MerkleRoot)
	require.NoError(t, err)
	f.deposit(t, 1000)
	before := f.ledger.State()

	c := info.Claims[alice.Hex()]

	_, err = f.ledger.Claim(c.Index, alice, big.NewInt(101), c.Proof)
	require.ErrorIs(t, err, ErrInvalidProof)

	_, err = f.ledger.Claim(c.Index, bob, c.Amount.ToInt(), c.Proof)
	require.ErrorIs(t, err, ErrInvalidProof)

	_, err = f.ledger.Claim(c.Index+1, alice, c.Amount.ToInt(), c.Proof)
	require.ErrorIs(t, err, ErrInvalidProof)

	_, err = f.ledger.Claim(c.Index, alice, nil, c.Proof)
	require.ErrorIs(t, err, ErrInvalidProof)

	_, err = f.ledger.Claim(c.Index, alice, big.NewInt(-100), c.Proof)
	require.ErrorIs(t, err, ErrInvalidProof)

	tampered := append([]common.Hash{}, c.Proof...)
	tampered[0][31] ^= 0x01
	_, err = f.ledger.Claim(c.Index, alice, c.Amount.ToInt(), tampered)
	require.ErrorIs(t, err, ErrInvalidProof)
	assert.Equal(t, "MerkleDistributor: Invalid proof.", err.Error())

	assert.Equal(t, before.Sequence, f.ledger.State().Sequence)
	requireAmount(t, 1000, f.ledger.Balance())
}

func TestZeroRootRejectsClaims(t *testing.T) {
	f := newFixture(t, common.Hash{})
	alice := f.accounts[0].Address
	info := tu.BuildDistribution(t, map[common.Address]int64{alice: 100})
	f.deposit(t, 100)

	_, err := f.claim(info, alice)
	require.ErrorIs(t, err, ErrInvalidProof)

	_, err = f.ledger.SetMerkleRoot(f.maintainer, info.MerkleRoot)
	require.NoError(t, err)
	_, err = f.claim(info, alice)
	require.NoError(t, err)
}

func TestClaimAgainstOldRootFailsAfterRotation(t *testing.T) {
	f := newFixture(t, common.Hash{})
	alice := f.accounts[0].Address
	bob := f.accounts[1].Address
	f.deposit(t, 1000)

	old := tu.BuildDistribution(t, map[common.Address]int64{alice: 100, bob: 5})
	_, err := f.ledger.SetMerkleRoot(f.maintainer, old.MerkleRoot)
	require.NoError(t, err)

	fresh := tu.BuildDistribution(t, map[common.Address]int64{alice: 150, bob: 5})
	_, err = f.ledger.SetMerkleRoot(f.maintainer, fresh.MerkleRoot)
	require.NoError(t, err)

	_, err = f.claim(old, alice)
	require.ErrorIs(t, err, ErrInvalidProof)
}

func TestAccessControl(t *testing.T) {
	root := common.HexToHash("0xaa")
	f := newFixture(t, root)
	stranger := f.accounts[0].Address
	f.deposit(t, 10)

	_, err := f.ledger.SetMerkleRoot(stranger, common.HexToHash("0xbb"))
	require.ErrorIs(t, err, ErrNotMaintainer)
	assert.Equal(t, "onlyMaintainer: caller is not the maintainer", err.Error())
	assert.Equal(t, root, f.ledger.MerkleRoot())

	// the owner is not the maintainer
	_, err = f.ledger.SetMerkleRoot(f.owner, common.HexToHash("0xbb"))
	require.ErrorIs(t, err, ErrNotMaintainer)

	_, err = f.ledger.SetMaintainer(stranger, stranger)
	require.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, f.maintainer, f.ledger.Maintainer())

	// the maintainer is not the owner
	_, err = f.ledger.SetMaintainer(f.maintainer, stranger)
	require.ErrorIs(t, err, ErrNotOwner)

	_, err = f.ledger.EmergencyWithdrawNew(stranger, stranger)
	require.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, "Ownable: caller is not the owner", err.Error())
	requireAmount(t, 10, f.ledger.Balance())

	_, err = f.ledger.TransferOwnership(stranger, stranger)
	require.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, f.owner, f.ledger.Owner())
}

func TestSetMaintainer(t *testing.T) {
	f := newFixture(t, common.Hash{})
	newMaintainer := f.accounts[0].Address

	ev, err := f.ledger.SetMaintainer(f.owner, newMaintainer)
	require.NoError(t, err)
	assert.Equal(t, types.EventMaintainerChanged, ev.Type)
	assert.Equal(t, f.maintainer, *ev.PreviousAddress)
	assert.Equal(t, newMaintainer, *ev.NewAddress)
	assert.Equal(t, newMaintainer, f.ledger.Maintainer())

	_, err = f.ledger.SetMerkleRoot(f.maintainer, common.HexToHash("0x1"))
	require.ErrorIs(t, err, ErrNotMaintainer)

	ev, err = f.ledger.SetMerkleRoot(newMaintainer, common.HexToHash("0x1"))
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, *ev.PreviousRoot)
	assert.Equal(t, common.HexToHash("0x1"), *ev.NewRoot)
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t, common.Hash{})
	newOwner := f.accounts[0].Address

	_, err := f.ledger.TransferOwnership(f.owner, common.Address{})
	require.ErrorIs(t, err, ErrZeroOwner)
	assert.Equal(t, "Ownable: new owner is the zero address", err.Error())

	ev, err := f.ledger.TransferOwnership(f.owner, newOwner)
	require.NoError(t, err)
	assert.Equal(t, types.EventOwnershipTransferred, ev.Type)
	assert.Equal(t, newOwner, f.ledger.Owner())

	_, err = f.ledger.SetMaintainer(f.owner, f.owner)
	require.ErrorIs(t, err, ErrNotOwner)

	_, err = f.ledger.SetMaintainer(newOwner, newOwner)
	require.NoError(t, err)
}

func TestEmergencyWithdrawNew(t *testing.T) {
	f := newFixture(t, common.Hash{})
	alice := f.accounts[0].Address
	rescue := f.accounts[2].Address
	info := tu.BuildDistribution(t, map[common.Address]int64{alice: 100, f.accounts[1].Address: 200})
	_, err := f.ledger.SetMerkleRoot(f.maintainer, info.MerkleRoot)
	require.NoError(t, err)
	f.deposit(t, 300)

	_, err = f.claim(info, alice)
	require.NoError(t, err)

	_, err = f.ledger.EmergencyWithdrawNew(f.owner, common.Address{})
	require.ErrorIs(t, err, ErrZeroDestination)

	ev, err := f.ledger.EmergencyWithdrawNew(f.owner, rescue)
	require.NoError(t, err)
	assert.Equal(t, types.EventEmergencyWithdrawn, ev.Type)
	assert.Equal(t, rescue, *ev.Account)
	requireAmount(t, 200, ev.Amount.ToInt())
	requireAmount(t, 0, f.ledger.Balance())

	transferred, err := f.ledger.Transferred(rescue)
	require.NoError(t, err)
	requireAmount(t, 200, transferred)

	// claimed amounts survive the withdrawal
	claimed, err := f.ledger.ClaimedAmount(alice)
	require.NoError(t, err)
	requireAmount(t, 100, claimed)

	// the remaining claim is now unfunded
	_, err = f.claim(info, f.accounts[1].Address)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// withdrawing an empty ledger is allowed
	ev, err = f.ledger.EmergencyWithdrawNew(f.owner, rescue)
	require.NoError(t, err)
	requireAmount(t, 0, ev.Amount.ToInt())
}

func TestDeposit(t *testing.T) {
	f := newFixture(t, common.Hash{})
	depositor := f.accounts[0].Address

	ev, err := f.ledger.Deposit(depositor, big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, types.EventDeposited, ev.Type)
	assert.Equal(t, depositor, *ev.Account)
	requireAmount(t, 5, f.ledger.Balance())

	_, err = f.ledger.Deposit(depositor, nil)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.ledger.Deposit(depositor, big.NewInt(-1))
	require.ErrorIs(t, err, ErrInvalidAmount)

	seq := f.ledger.State().Sequence
	_, err = f.ledger.Deposit(depositor, big.NewInt(0))
	require.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, seq, f.ledger.State().Sequence)
	events, err := f.ledger.Events(0, 100)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	_, err = f.ledger.Deposit(depositor, max)
	require.ErrorIs(t, err, ErrAmountOverflow)
	_, err = f.ledger.Deposit(depositor, new(big.Int).Lsh(big.NewInt(1), 256))
	require.ErrorIs(t, err, ErrAmountOverflow)

	requireAmount(t, 5, f.ledger.Balance())
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t, common.Hash{})
	entitlements := map[common.Address]int64{
		f.accounts[0].Address: 200,
		f.accounts[1].Address: 300,
		f.accounts[2].Address: 250,
	}
	info := tu.BuildDistribution(t, entitlements)
	assert.Equal(t, "0x02ee", info.TokenTotal.String())

	_, err := f.ledger.SetMerkleRoot(f.maintainer, info.MerkleRoot)
	require.NoError(t, err)
	_, err = f.ledger.Deposit(f.owner, info.TokenTotal.ToInt())
	require.NoError(t, err)

	for account, amount := range entitlements {
		ev, err := f.claim(info, account)
		require.NoError(t, err)
		requireAmount(t, amount, ev.Amount.ToInt())

		transferred, err := f.ledger.Transferred(account)
		require.NoError(t, err)
		requireAmount(t, amount, transferred)
	}
	requireAmount(t, 0, f.ledger.Balance())

	for account := range entitlements {
		ev, err := f.claim(info, account)
		require.NoError(t, err)
		requireAmount(t, 0, ev.Amount.ToInt())
	}
	requireAmount(t, 0, f.ledger.Balance())
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t, common.Hash{})
	alice := f.accounts[0].Address
	info := tu.BuildDistribution(t, map[common.Address]int64{alice: 100, f.accounts[1].Address: 1})
	_, err := f.ledger.SetMerkleRoot(f.maintainer, info.MerkleRoot)
	require.NoError(t, err)
	f.deposit(t, 100)
	before := f.ledger.State()

	events := make(chan *types.LedgerEvent, 4)
	sub := f.ledger.SubscribeEvents(events)
	defer sub.Unsubscribe()

	f.store.setFail(true)
	_, err = f.claim(info, alice)
	require.Error(t, err)
	assert.False(t, IsCallerError(err))

	_, err = f.ledger.SetMaintainer(f.owner, alice)
	require.Error(t, err)
	_, err = f.ledger.Deposit(alice, big.NewInt(1))
	require.Error(t, err)

	assert.Equal(t, before, f.ledger.State())
	assert.Equal(t, f.maintainer, f.ledger.Maintainer())
	claimed, err := f.ledger.ClaimedAmount(alice)
	require.NoError(t, err)
	requireAmount(t, 0, claimed)
	assert.Empty(t, events)

	f.store.setFail(false)
	_, err = f.claim(info, alice)
	require.NoError(t, err)
	assert.Equal(t, before.Sequence+1, f.ledger.State().Sequence)
}

func TestEventsAreSequenced(t *testing.T) {
	f := newFixture(t, common.Hash{})

	events := make(chan *types.LedgerEvent, 16)
	sub := f.ledger.SubscribeEvents(events)
	defer sub.Unsubscribe()

	f.deposit(t, 10)
	_, err := f.ledger.SetMerkleRoot(f.maintainer, common.HexToHash("0x01"))
	require.NoError(t, err)
	_, err = f.ledger.SetMaintainer(f.owner, f.accounts[0].Address)
	require.NoError(t, err)

	// rejected operations write nothing
	_, err = f.ledger.SetMaintainer(f.accounts[3].Address, f.accounts[3].Address)
	require.Error(t, err)

	logged, err := f.ledger.Events(0, 0)
	require.NoError(t, err)
	require.Len(t, logged, 4)
	for i, e := range logged {
		assert.Equal(t, uint64(i+1), e.Sequence)
	}
	assert.Equal(t, types.EventDeposited, logged[1].Type)
	assert.Equal(t, types.EventMerkleRootUpdated, logged[2].Type)
	assert.Equal(t, types.EventMaintainerChanged, logged[3].Type)

	page, err := f.ledger.Events(3, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, types.EventMerkleRootUpdated, page[0].Type)

	for _, want := range []uint64{2, 3, 4} {
		select {
		case e := <-events:
			assert.Equal(t, want, e.Sequence)
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", want)
		}
	}
}

func TestReloadFromStore(t *testing.T) {
	store := memory.NewMemoryPersistence()
	accounts := tu.CreateTestAccounts(t, 3)
	owner, maintainer, alice := accounts[0].Address, accounts[1].Address, accounts[2].Address
	info := tu.BuildDistribution(t, map[common.Address]int64{alice: 70, owner: 1})

	l, err := NewLedger(store, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, l.Initialize(owner, maintainer, info.MerkleRoot))
	_, err = l.Deposit(owner, big.NewInt(100))
	require.NoError(t, err)
	c := info.Claims[alice.Hex()]
	_, err = l.Claim(c.Index, alice, c.Amount.ToInt(), c.Proof)
	require.NoError(t, err)

	reloaded, err := NewLedger(store, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, l.State(), reloaded.State())
	requireAmount(t, 30, reloaded.Balance())
	require.ErrorIs(t, reloaded.Initialize(owner, maintainer, common.Hash{}), ErrAlreadyInitialized)

	ev, err := reloaded.Claim(c.Index, alice, c.Amount.ToInt(), c.Proof)
	require.NoError(t, err)
	requireAmount(t, 0, ev.Amount.ToInt())
}

func TestTwoLedgersOnOneStore(t *testing.T) {
	store := memory.NewMemoryPersistence()
	accounts := tu.CreateTestAccounts(t, 2)
	owner := accounts[0].Address

	a, err := NewLedger(store, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, a.Initialize(owner, owner, common.Hash{}))

	b, err := NewLedger(store, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = a.Deposit(owner, big.NewInt(5))
	require.NoError(t, err)

	// b is one write behind; its first write is refused and it catches up
	_, err = b.Deposit(owner, big.NewInt(7))
	require.ErrorIs(t, err, ErrConcurrentUpdate)
	requireAmount(t, 5, b.Balance())

	_, err = b.Deposit(owner, big.NewInt(7))
	require.NoError(t, err)
	requireAmount(t, 12, b.Balance())
}

func TestConcurrentClaimsPayOnce(t *testing.T) {
	f := newFixture(t, common.Hash{})
	alice := f.accounts[0].Address
	info := tu.BuildDistribution(t, map[common.Address]int64{alice: 100, f.accounts[1].Address: 100})
	_, err := f.ledger.SetMerkleRoot(f.maintainer, info.MerkleRoot)
	require.NoError(t, err)
	f.deposit(t, 1000)

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := new(big.Int)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, err := f.claim(info, alice)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			total.Add(total, ev.Amount.ToInt())
			mu.Unlock()
		}()
	}
	wg.Wait()

	requireAmount(t, 100, total)
	requireAmount(t, 900, f.ledger.Balance())
	assert.Equal(t, uint64(3+workers), f.ledger.State().Sequence)
}

func TestLedgerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewDistributorMetrics(reg)
	accounts := tu.CreateTestAccounts(t, 3)
	owner, alice := accounts[0].Address, accounts[1].Address
	info := tu.BuildDistribution(t, map[common.Address]int64{alice: 40, accounts[2].Address: 1})

	l, err := NewLedger(memory.NewMemoryPersistence(), m, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, l.Initialize(owner, owner, info.MerkleRoot))
	_, err = l.Deposit(owner, big.NewInt(100))
	require.NoError(t, err)

	c := info.Claims[alice.Hex()]
	_, err = l.Claim(c.Index, alice, c.Amount.ToInt(), c.Proof)
	require.NoError(t, err)
	_, err = l.Claim(c.Index, alice, c.Amount.ToInt(), c.Proof)
	require.NoError(t, err)
	_, err = l.Claim(c.Index, alice, big.NewInt(1), c.Proof)
	require.ErrorIs(t, err, ErrInvalidProof)

	count, err := testutil.GatherAndCount(reg, "distributor_claims_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = testutil.GatherAndCount(reg, "distributor_admin_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
