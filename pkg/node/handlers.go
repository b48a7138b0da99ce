package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/ledger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("Failed to read request body: %v", err)
	}
	return body, nil
}

// statusForLedgerError maps ledger errors onto HTTP status codes
func statusForLedgerError(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidProof),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrAmountOverflow),
		errors.Is(err, ledger.ErrZeroOwner),
		errors.Is(err, ledger.ErrZeroDestination):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotOwner), errors.Is(err, ledger.ErrNotMaintainer):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrNotInitialized), errors.Is(err, ledger.ErrConcurrentUpdate):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError reports a failed ledger call. Caller errors keep their exact message.
func (s *Server) writeLedgerError(w http.ResponseWriter, op string, err error) {
	status := statusForLedgerError(err)
	if status == http.StatusInternalServerError {
		s.node.logger.Sugar().Errorw("Ledger operation failed", "operation", op, "error", err)
		writeError(w, status, "Internal error")
		return
	}
	writeError(w, status, err.Error())
}

// handleHealth reports whether the persistence layer is reachable
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := s.node.store.HealthCheck(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, types.HealthResponse{Status: "unhealthy", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, types.HealthResponse{Status: "ok"})
}

// handleState returns the ledger header
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := types.LedgerStateResponse{Balance: (*hexutil.Big)(new(big.Int))}
	if h := s.node.ledger.State(); h != nil {
		resp = types.LedgerStateResponse{
			Initialized: h.Initialized,
			MerkleRoot:  h.MerkleRoot,
			Owner:       h.Owner,
			Maintainer:  h.Maintainer,
			Balance:     h.Balance,
			Sequence:    h.Sequence,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleClaimed returns the cumulative amounts recorded for one account
func (s *Server) handleClaimed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	raw := r.URL.Query().Get("account")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "account must be a hex address")
		return
	}
	account := common.HexToAddress(raw)

	claimed, err := s.node.ledger.ClaimedAmount(account)
	if err != nil {
		s.writeLedgerError(w, "claimedAmount", err)
		return
	}
	transferred, err := s.node.ledger.Transferred(account)
	if err != nil {
		s.writeLedgerError(w, "transferred", err)
		return
	}

	writeJSON(w, http.StatusOK, types.ClaimedAmountResponse{
		Account:       account,
		ClaimedAmount: (*hexutil.Big)(claimed),
		Transferred:   (*hexutil.Big)(transferred),
	})
}

// handleEvents pages through the event log
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query := r.URL.Query()
	var from uint64
	if v := query.Get("from"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be a non-negative integer")
			return
		}
		from = parsed
	}
	limit := DefaultEventsLimit
	if v := query.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > MaxEventsLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", MaxEventsLimit))
			return
		}
		limit = parsed
	}

	events, err := s.node.ledger.Events(from, limit)
	if err != nil {
		s.writeLedgerError(w, "events", err)
		return
	}
	if events == nil {
		events = []*types.LedgerEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleClaim pays out the difference between a proven entitlement and what the
// account already received
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.node.claimLimit.Allow(s.node.clientID(r)) {
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req types.ClaimRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}

	ev, err := s.node.ledger.Claim(req.Index, req.Account, req.Amount.ToInt(), req.Proof)
	if err != nil {
		s.writeLedgerError(w, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// signedOperation runs op for the signer of a valid request for action. A failed
// operation changes nothing, so its request id is released for a retry.
func (s *Server) signedOperation(
	w http.ResponseWriter,
	r *http.Request,
	action types.AdminAction,
	op func(caller common.Address, req *types.AdminRequest) (*types.LedgerEvent, error),
) {
	caller, req, ok := s.readSignedRequest(w, r, action)
	if !ok {
		return
	}

	ev, err := op(caller, req)
	if err != nil {
		s.node.replayGuard.Forget(req.RequestID)
		s.writeLedgerError(w, string(action), err)
		return
	}

	s.node.logger.Sugar().Infow("Signed request applied",
		"action", action,
		"caller", caller.Hex(),
		"request_id", req.RequestID,
		"sequence", ev.Sequence,
	)
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.signedOperation(w, r, types.ActionDeposit, func(caller common.Address, req *types.AdminRequest) (*types.LedgerEvent, error) {
		return s.node.ledger.Deposit(caller, req.Amount.ToInt())
	})
}

func (s *Server) handleSetMaintainer(w http.ResponseWriter, r *http.Request) {
	s.signedOperation(w, r, types.ActionSetMaintainer, func(caller common.Address, req *types.AdminRequest) (*types.LedgerEvent, error) {
		return s.node.ledger.SetMaintainer(caller, *req.Address)
	})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	s.signedOperation(w, r, types.ActionTransferOwnership, func(caller common.Address, req *types.AdminRequest) (*types.LedgerEvent, error) {
		return s.node.ledger.TransferOwnership(caller, *req.Address)
	})
}

func (s *Server) handleSetMerkleRoot(w http.ResponseWriter, r *http.Request) {
	s.signedOperation(w, r, types.ActionSetMerkleRoot, func(caller common.Address, req *types.AdminRequest) (*types.LedgerEvent, error) {
		return s.node.ledger.SetMerkleRoot(caller, *req.MerkleRoot)
	})
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	s.signedOperation(w, r, types.ActionEmergencyWithdrawNew, func(caller common.Address, req *types.AdminRequest) (*types.LedgerEvent, error) {
		return s.node.ledger.EmergencyWithdrawNew(caller, *req.Address)
	})
}
