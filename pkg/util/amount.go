package util

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ParseAmount parses a non-negative integer written in decimal or as 0x-prefixed hex.
// Signs, fractions and values wider than 256 bits are rejected. Leading zeros are allowed
// so that padded hex such as "0x02ee" is accepted.
func ParseAmount(s string) (*big.Int, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	base := 10
	digits := raw
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		base = 16
		digits = raw[2:]
	}
	if digits == "" {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	for _, c := range digits {
		if !isDigit(c, base) {
			return nil, fmt.Errorf("invalid amount %q: not a non-negative integer", s)
		}
	}

	v, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if !IsUint256(v) {
		return nil, fmt.Errorf("amount %q does not fit in 256 bits", s)
	}
	return v, nil
}

func isDigit(c rune, base int) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case base == 16 && c >= 'a' && c <= 'f':
		return true
	case base == 16 && c >= 'A' && c <= 'F':
		return true
	default:
		return false
	}
}

// IsUint256 reports whether v is a non-negative integer representable in 256 bits
func IsUint256(v *big.Int) bool {
	if v == nil || v.Sign() < 0 {
		return false
	}
	return v.BitLen() <= 256
}

// ToUint256 converts v, failing when it is negative or wider than 256 bits
func ToUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return nil, fmt.Errorf("amount cannot be nil")
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount %s is negative", v.String())
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("amount %s does not fit in 256 bits", v.String())
	}
	return u, nil
}

// ParseAddress parses a 20 byte hex address, with or without 0x prefix.
func ParseAddress(s string) (common.Address, error) {
	raw := strings.TrimSpace(s)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(raw), nil
}
