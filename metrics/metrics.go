// Package metrics holds the prometheus collectors of the pipeline.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "attestor"

const (
	StageBalance  = "balance"
	StageMetadata = "metadata"
	StageClass    = "class"
	StageEvents   = "events"

	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	scanDuration  *prometheus.HistogramVec
	tokensFound   *prometheus.GaugeVec
	tokenFailures *prometheus.CounterVec
	issuances     *prometheus.CounterVec
	approvals     *prometheus.CounterVec
	verdicts      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// Collectors already registered by another instance are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of a holder inventory scan.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"contract", "result"}),
		tokensFound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_tokens_found",
			Help:      "Tokens with a positive balance found by the last scan.",
		}, []string{"contract"}),
		tokenFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_token_failures_total",
			Help:      "Recovered per-token read failures.",
		}, []string{"stage"}),
		issuances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issuances_total",
			Help:      "Attestation issuance attempts per recipient.",
		}, []string{"outcome"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Approval requests by outcome.",
		}, []string{"outcome"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eligibility_verdicts_total",
			Help:      "Eligibility verdicts by result.",
		}, []string{"eligible"}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	m.scanDuration, err = register(reg, m.scanDuration)
	if err != nil {
		return nil, err
	}
	m.tokensFound, err = register(reg, m.tokensFound)
	if err != nil {
		return nil, err
	}
	m.tokenFailures, err = register(reg, m.tokenFailures)
	if err != nil {
		return nil, err
	}
	m.issuances, err = register(reg, m.issuances)
	if err != nil {
		return nil, err
	}
	m.approvals, err = register(reg, m.approvals)
	if err != nil {
		return nil, err
	}
	m.verdicts, err = register(reg, m.verdicts)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveScan records a finished scan.
func (m *Metrics) ObserveScan(contract string, found int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	} else {
		m.tokensFound.WithLabelValues(contract).Set(float64(found))
	}
	m.scanDuration.WithLabelValues(contract, result).Observe(elapsed.Seconds())
}

// TokenFailure records a recovered per-token failure at stage.
func (m *Metrics) TokenFailure(stage string) {
	if m == nil {
		return
	}
	m.tokenFailures.WithLabelValues(stage).Inc()
}

// Issuance records the outcome of one recipient issuance.
func (m *Metrics) Issuance(outcome string) {
	if m == nil {
		return
	}
	m.issuances.WithLabelValues(outcome).Inc()
}

// Approval records the outcome of one approval request.
func (m *Metrics) Approval(outcome string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(outcome).Inc()
}

// Verdict records an eligibility verdict.
func (m *Metrics) Verdict(eligible bool) {
	if m == nil {
		return
	}
	label := "false"
	if eligible {
		label = "true"
	}
	m.verdicts.WithLabelValues(label).Inc()
}
