package metrics

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *DistributorMetrics
	m.ObserveClaim(ClaimResultTransferred, big.NewInt(1))
	m.ObserveDeposit(big.NewInt(1))
	m.ObserveOperation("setMerkleRoot", nil)
	m.SetLedgerState(big.NewInt(1), 1)
	m.ObserveHTTPRequest("/claim", 200, time.Millisecond)
	m.IncRejectedSignedRequest("replay")
}

func TestDistributorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDistributorMetrics(reg)

	m.ObserveClaim(ClaimResultTransferred, big.NewInt(100))
	m.ObserveClaim(ClaimResultTransferred, big.NewInt(50))
	m.ObserveClaim(ClaimResultRedundant, big.NewInt(0))
	m.ObserveClaim("", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.claims.WithLabelValues(ClaimResultTransferred)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.claims.WithLabelValues(ClaimResultRedundant)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.claims.WithLabelValues(ClaimResultError)))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.claimedAmount))

	m.ObserveDeposit(big.NewInt(750))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deposits))
	assert.Equal(t, 750.0, testutil.ToFloat64(m.depositedAmount))

	m.ObserveOperation("setMaintainer", nil)
	m.ObserveOperation("setMaintainer", errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("setMaintainer", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("setMaintainer", "failure")))

	m.SetLedgerState(big.NewInt(600), 7)
	assert.Equal(t, 600.0, testutil.ToFloat64(m.balance))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.sequence))

	m.ObserveHTTPRequest("/claim", 400, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/claim", "400")))

	m.IncRejectedSignedRequest("")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejectedAuth.WithLabelValues("unknown")))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Greater(t, count, 0)
}

func TestSeparateRegistries(t *testing.T) {
	// two instances must not collide
	a := NewDistributorMetrics(prometheus.NewRegistry())
	b := NewDistributorMetrics(prometheus.NewRegistry())
	a.ObserveDeposit(big.NewInt(1))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.deposits))

	unregistered := NewDistributorMetrics(nil)
	unregistered.ObserveDeposit(big.NewInt(1))
	assert.Equal(t, 1.0, testutil.ToFloat64(unregistered.deposits))
}
