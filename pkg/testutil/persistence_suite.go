package testutil

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// PersistenceFactory opens a fresh, empty store for one subtest
type PersistenceFactory func(t *testing.T) persistence.ILedgerPersistence

// NewTestHeader returns a header at sequence seq holding balance
func NewTestHeader(seq uint64, balance int64) *types.LedgerHeader {
	return &types.LedgerHeader{
		Initialized: true,
		MerkleRoot:  common.BigToHash(big.NewInt(int64(seq))),
		Owner:       common.HexToAddress("0x0000000000000000000000000000000000000a01"),
		Maintainer:  common.HexToAddress("0x0000000000000000000000000000000000000a02"),
		Balance:     (*hexutil.Big)(big.NewInt(balance)),
		Sequence:    seq,
		UpdatedAt:   1700000000 + int64(seq),
	}
}

// NewTestUpdate returns a valid update moving the store from seq-1 to seq
func NewTestUpdate(seq uint64, balance int64) *persistence.LedgerUpdate {
	return &persistence.LedgerUpdate{
		ExpectedSequence: seq - 1,
		Header:           NewTestHeader(seq, balance),
		Event: &types.LedgerEvent{
			Sequence: seq,
			Type:     types.EventDeposited,
			Amount:   (*hexutil.Big)(big.NewInt(balance)),
		},
	}
}

// RunLedgerPersistenceSuite runs the behavior every ILedgerPersistence must share.
func RunLedgerPersistenceSuite(t *testing.T, newStore PersistenceFactory) {
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b0")

	t.Run("EmptyStore", func(t *testing.T) {
		store := newStore(t)

		header, err := store.LoadHeader()
		require.NoError(t, err)
		assert.Nil(t, header)

		claimed, err := store.LoadClaimedAmount(alice)
		require.NoError(t, err)
		assert.Equal(t, 0, claimed.Sign())

		transferred, err := store.LoadTransferred(alice)
		require.NoError(t, err)
		assert.Equal(t, 0, transferred.Sign())

		events, err := store.ListEvents(0, 0)
		require.NoError(t, err)
		assert.Empty(t, events)

		require.NoError(t, store.HealthCheck())
	})

	t.Run("ApplyAndLoad", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.ApplyUpdate(NewTestUpdate(1, 0)))

		update := NewTestUpdate(2, 700)
		update.ClaimedAmounts = map[common.Address]*big.Int{alice: big.NewInt(300)}
		update.Transferred = map[common.Address]*big.Int{alice: big.NewInt(300), bob: big.NewInt(0)}
		require.NoError(t, store.ApplyUpdate(update))

		header, err := store.LoadHeader()
		require.NoError(t, err)
		require.NotNil(t, header)
		assert.Equal(t, uint64(2), header.Sequence)
		assert.Equal(t, int64(700), header.Balance.ToInt().Int64())
		assert.Equal(t, update.Header.MerkleRoot, header.MerkleRoot)
		assert.Equal(t, update.Header.Owner, header.Owner)
		assert.Equal(t, update.Header.Maintainer, header.Maintainer)
		assert.True(t, header.Initialized)

		claimed, err := store.LoadClaimedAmount(alice)
		require.NoError(t, err)
		assert.Equal(t, int64(300), claimed.Int64())

		transferred, err := store.LoadTransferred(alice)
		require.NoError(t, err)
		assert.Equal(t, int64(300), transferred.Int64())

		claimed, err = store.LoadClaimedAmount(bob)
		require.NoError(t, err)
		assert.Equal(t, 0, claimed.Sign())
	})

	t.Run("LargeAmounts", func(t *testing.T) {
		store := newStore(t)
		max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

		update := NewTestUpdate(1, 0)
		update.Header.Balance = (*hexutil.Big)(new(big.Int).Set(max))
		update.ClaimedAmounts = map[common.Address]*big.Int{alice: max}
		require.NoError(t, store.ApplyUpdate(update))

		header, err := store.LoadHeader()
		require.NoError(t, err)
		assert.Equal(t, 0, max.Cmp(header.Balance.ToInt()))

		claimed, err := store.LoadClaimedAmount(alice)
		require.NoError(t, err)
		assert.Equal(t, 0, max.Cmp(claimed))
	})

	t.Run("SequenceMismatchWritesNothing", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.ApplyUpdate(NewTestUpdate(1, 100)))

		stale := NewTestUpdate(1, 999)
		stale.ClaimedAmounts = map[common.Address]*big.Int{alice: big.NewInt(5)}
		err := store.ApplyUpdate(stale)
		require.ErrorIs(t, err, persistence.ErrSequenceMismatch)

		header, err := store.LoadHeader()
		require.NoError(t, err)
		assert.Equal(t, int64(100), header.Balance.ToInt().Int64())

		claimed, err := store.LoadClaimedAmount(alice)
		require.NoError(t, err)
		assert.Equal(t, 0, claimed.Sign())

		events, err := store.ListEvents(0, 0)
		require.NoError(t, err)
		assert.Len(t, events, 1)

		// skipping ahead is rejected too
		err = store.ApplyUpdate(NewTestUpdate(5, 1))
		require.ErrorIs(t, err, persistence.ErrSequenceMismatch)
	})

	t.Run("InvalidUpdateWritesNothing", func(t *testing.T) {
		store := newStore(t)

		bad := NewTestUpdate(1, 100)
		bad.ClaimedAmounts = map[common.Address]*big.Int{alice: big.NewInt(-1)}
		require.Error(t, store.ApplyUpdate(bad))
		require.Error(t, store.ApplyUpdate(nil))

		header, err := store.LoadHeader()
		require.NoError(t, err)
		assert.Nil(t, header)
	})

	t.Run("ListEvents", func(t *testing.T) {
		store := newStore(t)
		for seq := uint64(1); seq <= 5; seq++ {
			require.NoError(t, store.ApplyUpdate(NewTestUpdate(seq, int64(seq*10))))
		}

		all, err := store.ListEvents(0, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, e := range all {
			assert.Equal(t, uint64(i+1), e.Sequence)
			assert.Equal(t, types.EventDeposited, e.Type)
		}

		page, err := store.ListEvents(2, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, uint64(2), page[0].Sequence)
		assert.Equal(t, uint64(3), page[1].Sequence)
		assert.Equal(t, int64(30), page[1].Amount.ToInt().Int64())

		tail, err := store.ListEvents(5, 10)
		require.NoError(t, err)
		require.Len(t, tail, 1)

		none, err := store.ListEvents(6, 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("UpdateWithoutEvent", func(t *testing.T) {
		store := newStore(t)
		update := NewTestUpdate(1, 1)
		update.Event = nil
		require.NoError(t, store.ApplyUpdate(update))

		events, err := store.ListEvents(0, 0)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("ReturnedValuesAreCopies", func(t *testing.T) {
		store := newStore(t)
		update := NewTestUpdate(1, 50)
		update.ClaimedAmounts = map[common.Address]*big.Int{alice: big.NewInt(10)}
		require.NoError(t, store.ApplyUpdate(update))

		// mutating the written update must not reach the store
		update.Header.Balance.ToInt().SetInt64(1)
		update.ClaimedAmounts[alice].SetInt64(1)

		header, err := store.LoadHeader()
		require.NoError(t, err)
		header.Balance.ToInt().SetInt64(2)

		again, err := store.LoadHeader()
		require.NoError(t, err)
		assert.Equal(t, int64(50), again.Balance.ToInt().Int64())

		claimed, err := store.LoadClaimedAmount(alice)
		require.NoError(t, err)
		claimed.SetInt64(3)
		claimed, err = store.LoadClaimedAmount(alice)
		require.NoError(t, err)
		assert.Equal(t, int64(10), claimed.Int64())
	})

	t.Run("ConcurrentWritersOneWins", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.ApplyUpdate(NewTestUpdate(1, 0)))

		const writers = 8
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results <- store.ApplyUpdate(NewTestUpdate(2, int64(i+1)))
			}(i)
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.True(t, errors.Is(err, persistence.ErrSequenceMismatch), "unexpected error: %v", err)
		}
		assert.Equal(t, 1, wins)

		events, err := store.ListEvents(0, 0)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("Close", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Close())
		require.NoError(t, store.Close())

		require.Error(t, store.HealthCheck())
		require.Error(t, store.ApplyUpdate(NewTestUpdate(1, 0)))
		_, err := store.LoadHeader()
		require.Error(t, err)
		_, err = store.LoadClaimedAmount(alice)
		require.Error(t, err)
		_, err = store.LoadTransferred(alice)
		require.Error(t, err)
		_, err = store.ListEvents(0, 0)
		require.Error(t, err)
	})
}
