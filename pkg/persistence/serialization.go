package persistence

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// AmountSize is the encoded length of a stored amount
const AmountSize = 32

// MarshalHeader serializes a LedgerHeader to JSON bytes.
func MarshalHeader(h *types.LedgerHeader) ([]byte, error) {
	if h == nil {
		return nil, fmt.Errorf("cannot marshal nil LedgerHeader")
	}

	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal LedgerHeader to JSON: %w", err)
	}
	return data, nil
}

// UnmarshalHeader deserializes a LedgerHeader from JSON bytes.
func UnmarshalHeader(data []byte) (*types.LedgerHeader, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var h types.LedgerHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to LedgerHeader: %w", err)
	}
	if h.Balance == nil {
		return nil, fmt.Errorf("stored LedgerHeader has no balance")
	}
	return &h, nil
}

// MarshalEvent serializes a LedgerEvent to JSON bytes.
func MarshalEvent(e *types.LedgerEvent) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("cannot marshal nil LedgerEvent")
	}
	return json.Marshal(e)
}

// UnmarshalEvent deserializes a LedgerEvent from JSON bytes.
func UnmarshalEvent(data []byte) (*types.LedgerEvent, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var e types.LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to LedgerEvent: %w", err)
	}
	return &e, nil
}

// EncodeAmount encodes a 256 bit unsigned amount as 32 big-endian bytes.
func EncodeAmount(v *big.Int) ([]byte, error) {
	if v == nil || v.Sign() < 0 || v.BitLen() > 256 {
		return nil, fmt.Errorf("amount must be a 256 bit unsigned integer")
	}
	buf := make([]byte, AmountSize)
	v.FillBytes(buf)
	return buf, nil
}

// DecodeAmount decodes an amount written by EncodeAmount.
func DecodeAmount(data []byte) (*big.Int, error) {
	if len(data) != AmountSize {
		return nil, fmt.Errorf("invalid amount data length: %d", len(data))
	}
	return new(big.Int).SetBytes(data), nil
}
