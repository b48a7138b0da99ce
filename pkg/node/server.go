package node

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/*
Server exposes one distribution ledger over HTTP.

Public endpoints:
  GET  /health                  persistence health, 200 or 503
  GET  /metrics                 Prometheus exposition
  GET  /state                   root, roles, balance and sequence
  GET  /claimed?account=        cumulative claimed and transferred amounts
  GET  /events?from=&limit=     committed ledger events in sequence order
  POST /claim                   { index, account, amount, proof }, rate limited per client

Signed endpoints take a SignedMessage whose payload is an AdminRequest. The
address recovered from the signature is the caller of the ledger operation:
  POST /deposit                 action "deposit", anyone
  POST /admin/maintainer        action "setMaintainer", owner
  POST /admin/owner             action "transferOwnership", owner
  POST /admin/merkle-root       action "setMerkleRoot", maintainer
  POST /admin/withdraw          action "emergencyWithdrawNew", owner

A signed request is accepted once. It must carry a request id, match the
endpoint's action and expire no later than MaxRequestTTL from now.

Errors are JSON { "error": "..." } with the ledger's message unchanged.
*/

const (
	RouteHealth         = "/health"
	RouteMetrics        = "/metrics"
	RouteState          = "/state"
	RouteClaimed        = "/claimed"
	RouteEvents         = "/events"
	RouteClaim          = "/claim"
	RouteDeposit        = "/deposit"
	RouteSetMaintainer  = "/admin/maintainer"
	RouteTransferOwner  = "/admin/owner"
	RouteSetMerkleRoot  = "/admin/merkle-root"
	RouteEmergencyDrain = "/admin/withdraw"

	HeaderRequestID = "X-Request-Id"

	maxBodyBytes = 1 << 20
)

// Server handles HTTP requests for the node
type Server struct {
	node          *Node
	httpServer    *http.Server
	maxRequestTTL time.Duration
}

// NewServer creates a new server instance
func NewServer(node *Node, port int, maxRequestTTL time.Duration) *Server {
	s := &Server{
		node:          node,
		maxRequestTTL: maxRequestTTL,
	}

	mux := http.NewServeMux()

	// Read endpoints
	s.handle(mux, RouteHealth, s.handleHealth)
	mux.Handle(RouteMetrics, promhttp.HandlerFor(node.gatherer, promhttp.HandlerOpts{}))
	s.handle(mux, RouteState, s.handleState)
	s.handle(mux, RouteClaimed, s.handleClaimed)
	s.handle(mux, RouteEvents, s.handleEvents)

	// Claims
	s.handle(mux, RouteClaim, s.handleClaim)

	// Signed endpoints
	s.handle(mux, RouteDeposit, s.handleDeposit)
	s.handle(mux, RouteSetMaintainer, s.handleSetMaintainer)
	s.handle(mux, RouteTransferOwner, s.handleTransferOwnership)
	s.handle(mux, RouteSetMerkleRoot, s.handleSetMerkleRoot)
	s.handle(mux, RouteEmergencyDrain, s.handleEmergencyWithdraw)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// handle registers h behind request id assignment and request metrics
func (s *Server) handle(mux *http.ServeMux, route string, h http.HandlerFunc) {
	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		elapsed := time.Since(start)
		s.node.metrics.ObserveHTTPRequest(route, rec.status, elapsed)
		s.node.logger.Sugar().Debugw("Handled request",
			"request_id", requestID,
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"elapsed", elapsed,
		)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.node.logger.Sugar().Infow("Starting HTTP server", "port", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.node.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
