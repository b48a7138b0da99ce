package node

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/ledger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/metrics"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

const (
	DefaultEventsLimit = 100
	MaxEventsLimit     = 1000

	DefaultSignedRequestRateLimit = 5.0
	DefaultSignedRequestBurst     = 20

	// eventBufferSize bounds how far the event logger may lag behind commits
	eventBufferSize = 256
)

// Config holds node configuration
type Config struct {
	Port int

	// ClaimRateLimit is the sustained number of claims per second accepted from one client
	ClaimRateLimit float64
	ClaimBurst     int

	// SignedRequestRateLimit is the sustained number of signed requests per second
	// accepted from one client. Zero selects DefaultSignedRequestRateLimit.
	SignedRequestRateLimit float64
	SignedRequestBurst     int

	// TrustProxyHeaders identifies clients by X-Real-IP / X-Forwarded-For
	// instead of the connection address
	TrustProxyHeaders bool

	// MaxRequestTTL is the furthest in the future a signed request may expire
	MaxRequestTTL   time.Duration
	ReplayCacheSize int
}

// Node hosts one distribution ledger behind the HTTP API
type Node struct {
	Port int

	ledger   *ledger.Ledger
	store    persistence.ILedgerPersistence
	metrics  *metrics.DistributorMetrics
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	server      *Server
	claimLimit        *clientRateLimiter
	signedLimit       *clientRateLimiter
	trustProxyHeaders bool
	replayGuard       *replayCache
	now               func() time.Time

	eventSub  event.Subscription
	eventDone chan struct{}
	mu        sync.Mutex
}

// NewNode wires a ledger and its store to a new HTTP server. gatherer backs the
// /metrics endpoint and m may be nil.
func NewNode(
	cfg Config,
	l *ledger.Ledger,
	store persistence.ILedgerPersistence,
	m *metrics.DistributorMetrics,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) (*Node, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if store == nil {
		return nil, fmt.Errorf("persistence is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.MaxRequestTTL <= 0 {
		return nil, fmt.Errorf("max request TTL must be positive")
	}
	if gatherer == nil {
		gatherer = prometheus.NewRegistry()
	}

	replay, err := newReplayCache(cfg.ReplayCacheSize, cfg.MaxRequestTTL)
	if err != nil {
		return nil, err
	}

	signedRate, signedBurst := cfg.SignedRequestRateLimit, cfg.SignedRequestBurst
	if signedRate <= 0 {
		signedRate = DefaultSignedRequestRateLimit
	}
	if signedBurst <= 0 {
		signedBurst = DefaultSignedRequestBurst
	}

	n := &Node{
		Port:              cfg.Port,
		ledger:            l,
		store:             store,
		metrics:           m,
		gatherer:          gatherer,
		logger:            logger,
		claimLimit:        newClientRateLimiter(cfg.ClaimRateLimit, cfg.ClaimBurst),
		signedLimit:       newClientRateLimiter(signedRate, signedBurst),
		trustProxyHeaders: cfg.TrustProxyHeaders,
		replayGuard:       replay,
		now:               time.Now,
	}
	n.server = NewServer(n, cfg.Port, cfg.MaxRequestTTL)
	return n, nil
}

// Start starts logging ledger events and the HTTP server
func (n *Node) Start() error {
	n.mu.Lock()
	if n.eventSub == nil {
		events := make(chan *types.LedgerEvent, eventBufferSize)
		n.eventSub = n.ledger.SubscribeEvents(events)
		n.eventDone = make(chan struct{})
		go n.logEvents(n.eventSub, events, n.eventDone)
	}
	n.mu.Unlock()

	return n.server.Start()
}

// Stop stops the HTTP server and the event logger
func (n *Node) Stop() error {
	err := n.server.Stop()

	n.mu.Lock()
	sub, done := n.eventSub, n.eventDone
	n.eventSub, n.eventDone = nil, nil
	n.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
		<-done
	}
	return err
}

// Handler returns the HTTP handler (for testing)
func (n *Node) Handler() http.Handler {
	return n.server.GetHandler()
}

func (n *Node) logEvents(sub event.Subscription, events <-chan *types.LedgerEvent, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case ev := <-events:
			fields := []interface{}{"sequence", ev.Sequence, "type", ev.Type}
			if ev.Account != nil {
				fields = append(fields, "account", ev.Account.Hex())
			}
			if ev.Amount != nil {
				fields = append(fields, "amount", ev.Amount.ToInt().String())
			}
			n.logger.Sugar().Infow("Ledger event", fields...)
		case err := <-sub.Err():
			if err != nil {
				n.logger.Sugar().Errorw("Ledger event subscription failed", "error", err)
			}
			return
		}
	}
}
