package testutil

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/balanceMap"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// TestAccount is a deterministic key pair for tests
type TestAccount struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// KeyHex returns the private key as 0x-prefixed hex
func (a *TestAccount) KeyHex() string {
	return hexutil.Encode(crypto.FromECDSA(a.Key))
}

// CreateTestAccounts creates n accounts whose keys are derived from their position,
// so every run sees the same addresses.
func CreateTestAccounts(t *testing.T, n int) []*TestAccount {
	accounts := make([]*TestAccount, n)
	for i := 0; i < n; i++ {
		key, err := crypto.ToECDSA(crypto.Keccak256([]byte(fmt.Sprintf("merkle-distributor-test-account-%d", i))))
		require.NoError(t, err)
		accounts[i] = &TestAccount{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey)}
	}
	return accounts
}

// BuildDistribution parses a distribution of amounts for the given accounts.
func BuildDistribution(t *testing.T, amounts map[common.Address]int64) *types.MerkleDistributorInfo {
	balances := make(map[string]string, len(amounts))
	for account, amount := range amounts {
		balances[account.Hex()] = big.NewInt(amount).String()
	}
	info, err := balanceMap.ParseBalanceMap(balances)
	require.NoError(t, err)
	return info
}

// ClaimOf returns the claim for account, failing the test if there is none.
func ClaimOf(t *testing.T, info *types.MerkleDistributorInfo, account common.Address) *types.ClaimInfo {
	claim, ok := balanceMap.ClaimFor(info, account)
	require.True(t, ok, "no claim for %s", account.Hex())
	return claim
}
