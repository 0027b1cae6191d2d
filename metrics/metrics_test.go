package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveScan("class", 12, time.Second, nil)
	m.ObserveScan("class", 0, time.Second, errors.New("boom"))
	m.TokenFailure(StageMetadata)
	m.TokenFailure(StageMetadata)
	m.Issuance(OutcomeFailed)
	m.Approval(OutcomeSkipped)
	m.Verdict(true)

	assert.Equal(t, 12.0, testutil.ToFloat64(m.tokensFound.WithLabelValues("class")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tokenFailures.WithLabelValues(StageMetadata)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.issuances.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.approvals.WithLabelValues(OutcomeSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verdicts.WithLabelValues("true")))

	// a second instance on the same registry shares the collectors
	again, err := New(reg)
	require.NoError(t, err)
	again.TokenFailure(StageMetadata)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.tokenFailures.WithLabelValues(StageMetadata)))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveScan("class", 1, time.Millisecond, nil)
		m.TokenFailure(StageBalance)
		m.Issuance(OutcomeSucceeded)
		m.Approval(OutcomeSucceeded)
		m.Verdict(false)
	})
}
