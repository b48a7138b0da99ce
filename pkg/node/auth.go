package node

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/transportSigner"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// Reasons a signed request is rejected, used as metric labels
const (
	rejectMalformed      = "malformed"
	rejectBadSignature   = "bad_signature"
	rejectActionMismatch = "action_mismatch"
	rejectExpired        = "expired"
	rejectTTLExceeded    = "ttl_exceeded"
	rejectReplay         = "replay"
	rejectCacheFull      = "replay_cache_full"
	rejectRateLimited    = "rate_limited"
)

type signedRequestError struct {
	status int
	reason string
	err    error
}

func (e *signedRequestError) Error() string {
	return e.err.Error()
}

func rejectRequest(status int, reason string, format string, args ...interface{}) *signedRequestError {
	return &signedRequestError{status: status, reason: reason, err: fmt.Errorf(format, args...)}
}

// authenticate decodes a signed envelope, checks it is meant for action and still
// valid, and marks its request id as used. It returns the signer.
func (s *Server) authenticate(body []byte, action types.AdminAction) (common.Address, *types.AdminRequest, error) {
	var msg transportSigner.SignedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return common.Address{}, nil, rejectRequest(http.StatusBadRequest, rejectMalformed, "Failed to parse signed message: %v", err)
	}

	signer, err := transportSigner.RecoverSigner(&msg)
	if err != nil {
		return common.Address{}, nil, rejectRequest(http.StatusUnauthorized, rejectBadSignature, "Invalid signature: %v", err)
	}

	var req types.AdminRequest
	dec := json.NewDecoder(bytes.NewReader(msg.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return common.Address{}, nil, rejectRequest(http.StatusBadRequest, rejectMalformed, "Failed to parse request payload: %v", err)
	}
	if err := req.Validate(); err != nil {
		return common.Address{}, nil, rejectRequest(http.StatusBadRequest, rejectMalformed, "Invalid request: %v", err)
	}
	if req.Action != action {
		return common.Address{}, nil, rejectRequest(http.StatusBadRequest, rejectActionMismatch,
			"Request action %q does not match endpoint action %q", req.Action, action)
	}

	now := s.node.now()
	if req.Expired(now) {
		return common.Address{}, nil, rejectRequest(http.StatusUnauthorized, rejectExpired, "Request expired")
	}
	if req.ExpiresAt > now.Add(s.maxRequestTTL).Unix() {
		return common.Address{}, nil, rejectRequest(http.StatusUnauthorized, rejectTTLExceeded,
			"Request expiry is more than %s in the future", s.maxRequestTTL)
	}

	fresh, err := s.node.replayGuard.Remember(req.RequestID, req.ExpiresAt, now)
	if err != nil {
		s.node.logger.Sugar().Warnw("Replay cache full, refusing signed request", "action", action)
		return common.Address{}, nil, rejectRequest(http.StatusServiceUnavailable, rejectCacheFull, "%s, retry later", err)
	}
	if !fresh {
		return common.Address{}, nil, rejectRequest(http.StatusUnauthorized, rejectReplay, "Request already processed")
	}

	return signer, &req, nil
}

// readSignedRequest runs authenticate for an HTTP request and writes the error
// response itself. ok is false when the handler should return.
func (s *Server) readSignedRequest(w http.ResponseWriter, r *http.Request, action types.AdminAction) (common.Address, *types.AdminRequest, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return common.Address{}, nil, false
	}

	if !s.node.signedLimit.Allow(s.node.clientID(r)) {
		s.node.metrics.IncRejectedSignedRequest(rejectRateLimited)
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return common.Address{}, nil, false
	}

	body, err := readBody(w, r)
	if err != nil {
		s.node.metrics.IncRejectedSignedRequest(rejectMalformed)
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, nil, false
	}

	signer, req, err := s.authenticate(body, action)
	if err != nil {
		var rejected *signedRequestError
		if errors.As(err, &rejected) {
			s.node.metrics.IncRejectedSignedRequest(rejected.reason)
			s.node.logger.Sugar().Infow("Rejected signed request", "action", action, "reason", rejected.reason, "error", rejected.err)
			writeError(w, rejected.status, rejected.Error())
			return common.Address{}, nil, false
		}
		writeError(w, http.StatusInternalServerError, "Internal error")
		return common.Address{}, nil, false
	}
	return signer, req, true
}
