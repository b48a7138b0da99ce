// Package balanceMap turns an account to amount mapping into the merkle root, funding
// total and per-account claims that are published alongside a distribution.
package balanceMap

import (
	"bytes"
	"encoding/json"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/util"
)

type entry struct {
	account common.Address
	amount  *big.Int
}

// ParseBalanceMap builds the distribution for balances, a map of hex address to amount.
// Amounts are decimal or 0x hex strings. Accounts are sorted by address bytes and the
// rank becomes the leaf index.
func ParseBalanceMap(balances map[string]string) (*types.MerkleDistributorInfo, error) {
	if len(balances) == 0 {
		return nil, merkle.ErrEmptyTree
	}

	seen := make(map[common.Address]string, len(balances))
	entries := make([]entry, 0, len(balances))
	for key, rawAmount := range balances {
		account, err := util.ParseAddress(key)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid account %q", key)
		}
		if prev, ok := seen[account]; ok {
			return nil, errors.Errorf("duplicate account %s (given as %q and %q)", account.Hex(), prev, key)
		}
		seen[account] = key

		amount, err := util.ParseAmount(rawAmount)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid amount for account %s", account.Hex())
		}
		entries = append(entries, entry{account: account, amount: amount})
	}

	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].account.Bytes(), entries[j].account.Bytes()) < 0
	})

	leaves := util.Map(entries, func(e entry, i uint64) *types.Leaf {
		return &types.Leaf{Index: i, Account: e.account, Amount: e.amount}
	})

	tree, err := merkle.BuildMerkleTree(leaves)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build merkle tree over %d accounts", len(leaves))
	}

	total := util.Reduce(entries, func(acc *big.Int, e entry) *big.Int {
		return acc.Add(acc, e.amount)
	}, new(big.Int))
	if !util.IsUint256(total) {
		return nil, errors.Errorf("token total %s does not fit in 256 bits", total.String())
	}

	claims := make(map[string]*types.ClaimInfo, len(leaves))
	for _, leaf := range leaves {
		proof, err := tree.GenerateProof(leaf.Index)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to generate proof for account %s", leaf.Account.Hex())
		}
		claims[leaf.Account.Hex()] = &types.ClaimInfo{
			Index:  leaf.Index,
			Amount: types.NewHexAmount(leaf.Amount),
			Proof:  proof.Proof,
		}
	}

	return &types.MerkleDistributorInfo{
		MerkleRoot: tree.Root,
		TokenTotal: (*types.HexAmount)(total),
		Claims:     claims,
	}, nil
}

// ParseBalanceMapJSON parses a JSON object of address to amount. Amounts may be JSON
// numbers or strings.
func ParseBalanceMapJSON(data []byte) (*types.MerkleDistributorInfo, error) {
	balances, err := DecodeBalances(data)
	if err != nil {
		return nil, err
	}
	return ParseBalanceMap(balances)
}

// DecodeBalances decodes a JSON balance map into string amounts without losing precision.
// An account key may appear only once.
func DecodeBalances(data []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode balance map")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("failed to decode balance map: expected a JSON object")
	}

	balances := make(map[string]string)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode balance map")
		}
		account, ok := tok.(string)
		if !ok {
			return nil, errors.Errorf("failed to decode balance map: unexpected key %v", tok)
		}
		if _, dup := balances[account]; dup {
			return nil, errors.Errorf("duplicate account %q", account)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, errors.Wrapf(err, "invalid amount for account %q", account)
		}
		v := strings.TrimSpace(string(value))
		if strings.HasPrefix(v, `"`) {
			var str string
			if err := json.Unmarshal(value, &str); err != nil {
				return nil, errors.Wrapf(err, "invalid amount for account %q", account)
			}
			v = str
		}
		balances[account] = v
	}

	if _, err := dec.Token(); err != nil {
		return nil, errors.Wrap(err, "failed to decode balance map")
	}
	if dec.More() {
		return nil, errors.New("failed to decode balance map: trailing data after object")
	}
	return balances, nil
}

// ReadBalancesFile reads and decodes a JSON balance map from path.
func ReadBalancesFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read balances file %s", path)
	}
	return DecodeBalances(data)
}

// WriteClaimsFile writes info as indented JSON to path.
func WriteClaimsFile(path string, info *types.MerkleDistributorInfo) error {
	if info == nil {
		return errors.New("distribution info is required")
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode claims")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write claims file %s", path)
	}
	return nil
}

// ReadClaimsFile reads a claims file written by WriteClaimsFile.
func ReadClaimsFile(path string) (*types.MerkleDistributorInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read claims file %s", path)
	}
	info := &types.MerkleDistributorInfo{}
	if err := json.Unmarshal(data, info); err != nil {
		return nil, errors.Wrapf(err, "failed to decode claims file %s", path)
	}
	return info, nil
}

// ClaimFor looks up the claim for account regardless of how the key was cased.
func ClaimFor(info *types.MerkleDistributorInfo, account common.Address) (*types.ClaimInfo, bool) {
	if info == nil {
		return nil, false
	}
	if c, ok := info.Claims[account.Hex()]; ok {
		return c, true
	}
	for key, c := range info.Claims {
		if common.IsHexAddress(key) && common.HexToAddress(key) == account {
			return c, true
		}
	}
	return nil, false
}

// VerifyClaims checks every claim in info against its merkle root and that the amounts
// add up to the token total.
func VerifyClaims(info *types.MerkleDistributorInfo) error {
	if info == nil || len(info.Claims) == 0 {
		return errors.New("distribution has no claims")
	}
	total := new(big.Int)
	indices := make(map[uint64]string, len(info.Claims))
	for key, claim := range info.Claims {
		account, err := util.ParseAddress(key)
		if err != nil {
			return errors.Wrapf(err, "invalid account %q", key)
		}
		if claim == nil || claim.Amount == nil {
			return errors.Errorf("claim for %s has no amount", key)
		}
		if other, ok := indices[claim.Index]; ok {
			return errors.Errorf("index %d used by both %s and %s", claim.Index, other, key)
		}
		indices[claim.Index] = key

		if !merkle.VerifyProof(claim.Index, account, claim.Amount.ToInt(), claim.Proof, info.MerkleRoot) {
			return errors.Errorf("proof for %s does not match root %s", key, info.MerkleRoot.Hex())
		}
		total.Add(total, claim.Amount.ToInt())
	}
	if info.TokenTotal == nil || total.Cmp(info.TokenTotal.ToInt()) != 0 {
		return errors.Errorf("claims sum to %s but token total is %v", total.String(), info.TokenTotal)
	}
	return nil
}
