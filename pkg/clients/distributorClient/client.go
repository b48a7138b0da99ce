package distributorClient

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/balanceMap"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/node"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transport"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transportSigner"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// DefaultRequestTTL is how long signed requests stay valid unless configured
const DefaultRequestTTL = 2 * time.Minute

// ClientConfig holds the configuration for the distributor client
type ClientConfig struct {
	ServerURL string
	// Signer signs admin requests and deposits. Read-only and claim calls work without one.
	Signer      transportSigner.ITransportSigner
	RequestTTL  time.Duration
	HTTPClient  *http.Client
	RetryConfig *transport.RetryConfig
	Logger      *zap.Logger
}

// Client is a typed client for one distributor server
type Client struct {
	transport  *transport.Client
	signer     transportSigner.ITransportSigner
	requestTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a new distributor client
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("Logger is required")
	}

	tc := transport.NewClient(cfg.ServerURL, cfg.HTTPClient, cfg.Logger)
	if cfg.RetryConfig != nil {
		tc = tc.WithRetryConfig(*cfg.RetryConfig)
	}
	ttl := cfg.RequestTTL
	if ttl <= 0 {
		ttl = DefaultRequestTTL
	}

	return &Client{
		transport:  tc,
		signer:     cfg.Signer,
		requestTTL: ttl,
		logger:     cfg.Logger,
		now:        time.Now,
	}, nil
}

// Health returns nil when the server and its persistence are healthy
func (c *Client) Health(ctx context.Context) error {
	var resp types.HealthResponse
	if err := c.transport.GetJSON(ctx, node.RouteHealth, nil, &resp); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// State returns the ledger header
func (c *Client) State(ctx context.Context) (*types.LedgerStateResponse, error) {
	var resp types.LedgerStateResponse
	if err := c.transport.GetJSON(ctx, node.RouteState, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return &resp, nil
}

// ClaimedAmount returns the cumulative claimed and transferred amounts of account
func (c *Client) ClaimedAmount(ctx context.Context, account common.Address) (*types.ClaimedAmountResponse, error) {
	var resp types.ClaimedAmountResponse
	query := url.Values{"account": []string{account.Hex()}}
	if err := c.transport.GetJSON(ctx, node.RouteClaimed, query, &resp); err != nil {
		return nil, fmt.Errorf("failed to get claimed amount: %w", err)
	}
	return &resp, nil
}

// Events returns up to limit events starting at sequence from
func (c *Client) Events(ctx context.Context, from uint64, limit int) ([]*types.LedgerEvent, error) {
	query := url.Values{"from": []string{strconv.FormatUint(from, 10)}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var events []*types.LedgerEvent
	if err := c.transport.GetJSON(ctx, node.RouteEvents, query, &events); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// Claim submits a claim. The returned event carries the amount actually paid.
func (c *Client) Claim(ctx context.Context, req *types.ClaimRequest) (*types.LedgerEvent, error) {
	var ev types.LedgerEvent
	if err := c.transport.PostJSON(ctx, node.RouteClaim, req, &ev); err != nil {
		return nil, fmt.Errorf("claim failed: %w", err)
	}
	return &ev, nil
}

// ClaimFromInfo submits account's claim from a parsed claims file
func (c *Client) ClaimFromInfo(ctx context.Context, info *types.MerkleDistributorInfo, account common.Address) (*types.LedgerEvent, error) {
	claim, ok := balanceMap.ClaimFor(info, account)
	if !ok {
		return nil, fmt.Errorf("no claim for %s in distribution", account.Hex())
	}
	return c.Claim(ctx, &types.ClaimRequest{
		Index:   claim.Index,
		Account: account,
		Amount:  claim.Amount.ToBig(),
		Proof:   claim.Proof,
	})
}

// Deposit adds amount to the ledger balance on behalf of the signer
func (c *Client) Deposit(ctx context.Context, amount *big.Int) (*types.LedgerEvent, error) {
	if amount == nil {
		return nil, fmt.Errorf("amount is required")
	}
	req := c.newAdminRequest(types.ActionDeposit)
	req.Amount = (*hexutil.Big)(amount)
	return c.sendSigned(ctx, node.RouteDeposit, req)
}

func (c *Client) SetMaintainer(ctx context.Context, maintainer common.Address) (*types.LedgerEvent, error) {
	req := c.newAdminRequest(types.ActionSetMaintainer)
	req.Address = &maintainer
	return c.sendSigned(ctx, node.RouteSetMaintainer, req)
}

func (c *Client) TransferOwnership(ctx context.Context, newOwner common.Address) (*types.LedgerEvent, error) {
	req := c.newAdminRequest(types.ActionTransferOwnership)
	req.Address = &newOwner
	return c.sendSigned(ctx, node.RouteTransferOwner, req)
}

func (c *Client) SetMerkleRoot(ctx context.Context, root common.Hash) (*types.LedgerEvent, error) {
	req := c.newAdminRequest(types.ActionSetMerkleRoot)
	req.MerkleRoot = &root
	return c.sendSigned(ctx, node.RouteSetMerkleRoot, req)
}

func (c *Client) EmergencyWithdrawNew(ctx context.Context, destination common.Address) (*types.LedgerEvent, error) {
	req := c.newAdminRequest(types.ActionEmergencyWithdrawNew)
	req.Address = &destination
	return c.sendSigned(ctx, node.RouteEmergencyDrain, req)
}

func (c *Client) newAdminRequest(action types.AdminAction) *types.AdminRequest {
	return &types.AdminRequest{
		Action:    action,
		RequestID: uuid.NewString(),
		ExpiresAt: c.now().Add(c.requestTTL).Unix(),
	}
}

func (c *Client) sendSigned(ctx context.Context, path string, req *types.AdminRequest) (*types.LedgerEvent, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("a signer is required for %s", req.Action)
	}
	msg, err := SignAdminRequest(c.signer, req)
	if err != nil {
		return nil, err
	}

	c.logger.Sugar().Debugw("Sending signed request",
		"action", req.Action,
		"request_id", req.RequestID,
		"signer", c.signer.Address().Hex(),
	)

	var ev types.LedgerEvent
	if err := c.transport.PostJSON(ctx, path, msg, &ev); err != nil {
		return nil, fmt.Errorf("%s failed: %w", req.Action, err)
	}
	return &ev, nil
}

// SignAdminRequest serializes req and wraps it in a signed envelope
func SignAdminRequest(signer transportSigner.ITransportSigner, req *types.AdminRequest) (*transportSigner.SignedMessage, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	msg, err := signer.CreateAuthenticatedMessage(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return msg, nil
}
