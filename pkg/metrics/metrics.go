// Package metrics exposes Prometheus instrumentation for the distributor ledger and its HTTP node.
package metrics

import (
	"math/big"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Claim outcomes recorded by ObserveClaim
const (
	ClaimResultTransferred       = "transferred"
	ClaimResultRedundant         = "redundant"
	ClaimResultInvalidProof      = "invalid_proof"
	ClaimResultInsufficientFunds = "insufficient_funds"
	ClaimResultError             = "error"
)

// DistributorMetrics holds every collector of one distributor instance. A nil
// *DistributorMetrics is valid and records nothing.
type DistributorMetrics struct {
	claims          *prometheus.CounterVec
	claimedAmount   prometheus.Counter
	deposits        prometheus.Counter
	depositedAmount prometheus.Counter
	operations      *prometheus.CounterVec
	balance         prometheus.Gauge
	sequence        prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	rejectedAuth    *prometheus.CounterVec
}

// NewDistributorMetrics creates the collectors and registers them with reg.
func NewDistributorMetrics(reg prometheus.Registerer) *DistributorMetrics {
	m := &DistributorMetrics{
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "distributor_claims_total",
			Help: "Count of claim calls by outcome.",
		}, []string{"result"}),
		claimedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distributor_claimed_amount_total",
			Help: "Total amount transferred by claims (float approximation).",
		}),
		deposits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distributor_deposits_total",
			Help: "Count of accepted deposits.",
		}),
		depositedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distributor_deposited_amount_total",
			Help: "Total amount deposited (float approximation).",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "distributor_admin_operations_total",
			Help: "Count of privileged ledger operations by operation and result.",
		}, []string{"operation", "result"}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "distributor_balance",
			Help: "Funds currently held in custody (float approximation).",
		}),
		sequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "distributor_ledger_sequence",
			Help: "Sequence number of the last committed ledger change.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "distributor_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "distributor_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		rejectedAuth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "distributor_rejected_signed_requests_total",
			Help: "Signed requests rejected before reaching the ledger, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.claims,
			m.claimedAmount,
			m.deposits,
			m.depositedAmount,
			m.operations,
			m.balance,
			m.sequence,
			m.httpRequests,
			m.httpDuration,
			m.rejectedAuth,
		)
	}
	return m
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func (m *DistributorMetrics) ObserveClaim(result string, transferred *big.Int) {
	if m == nil {
		return
	}
	if result == "" {
		result = ClaimResultError
	}
	m.claims.WithLabelValues(result).Inc()
	if transferred != nil && transferred.Sign() > 0 {
		m.claimedAmount.Add(toFloat(transferred))
	}
}

func (m *DistributorMetrics) ObserveDeposit(amount *big.Int) {
	if m == nil {
		return
	}
	m.deposits.Inc()
	if amount != nil && amount.Sign() > 0 {
		m.depositedAmount.Add(toFloat(amount))
	}
}

func (m *DistributorMetrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

func (m *DistributorMetrics) SetLedgerState(balance *big.Int, sequence uint64) {
	if m == nil {
		return
	}
	m.balance.Set(toFloat(balance))
	m.sequence.Set(float64(sequence))
}

func (m *DistributorMetrics) ObserveHTTPRequest(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *DistributorMetrics) IncRejectedSignedRequest(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejectedAuth.WithLabelValues(reason).Inc()
}
