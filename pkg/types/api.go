package types

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AdminAction binds a signed request to one endpoint
type AdminAction string

const (
	ActionDeposit              AdminAction = "deposit"
	ActionSetMaintainer        AdminAction = "setMaintainer"
	ActionTransferOwnership    AdminAction = "transferOwnership"
	ActionSetMerkleRoot        AdminAction = "setMerkleRoot"
	ActionEmergencyWithdrawNew AdminAction = "emergencyWithdrawNew"
)

// AdminRequest is the payload of a signed request. The signer of the envelope is
// the caller of the operation.
type AdminRequest struct {
	Action    AdminAction `json:"action"`
	RequestID string      `json:"requestId"`
	ExpiresAt int64       `json:"expiresAt"`

	Address    *common.Address `json:"address,omitempty"`
	MerkleRoot *common.Hash    `json:"merkleRoot,omitempty"`
	Amount     *hexutil.Big    `json:"amount,omitempty"`
}

// Validate checks that the fields required by Action are present
func (r *AdminRequest) Validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("requestId is required")
	}
	if r.ExpiresAt <= 0 {
		return fmt.Errorf("expiresAt is required")
	}
	switch r.Action {
	case ActionDeposit:
		if r.Amount == nil {
			return fmt.Errorf("amount is required for %s", r.Action)
		}
	case ActionSetMaintainer, ActionTransferOwnership, ActionEmergencyWithdrawNew:
		if r.Address == nil {
			return fmt.Errorf("address is required for %s", r.Action)
		}
	case ActionSetMerkleRoot:
		if r.MerkleRoot == nil {
			return fmt.Errorf("merkleRoot is required for %s", r.Action)
		}
	default:
		return fmt.Errorf("unknown action %q", r.Action)
	}
	return nil
}

// Expired reports whether the request is no longer acceptable at now
func (r *AdminRequest) Expired(now time.Time) bool {
	return now.Unix() >= r.ExpiresAt
}

// ClaimRequest is the body of POST /claim
type ClaimRequest struct {
	Index   uint64         `json:"index"`
	Account common.Address `json:"account"`
	Amount  *hexutil.Big   `json:"amount"`
	Proof   []common.Hash  `json:"proof"`
}

// LedgerStateResponse is returned by GET /state
type LedgerStateResponse struct {
	Initialized bool           `json:"initialized"`
	MerkleRoot  common.Hash    `json:"merkleRoot"`
	Owner       common.Address `json:"owner"`
	Maintainer  common.Address `json:"maintainer"`
	Balance     *hexutil.Big   `json:"balance"`
	Sequence    uint64         `json:"sequence"`
}

// ClaimedAmountResponse is returned by GET /claimed
type ClaimedAmountResponse struct {
	Account       common.Address `json:"account"`
	ClaimedAmount *hexutil.Big   `json:"claimedAmount"`
	Transferred   *hexutil.Big   `json:"transferred"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
