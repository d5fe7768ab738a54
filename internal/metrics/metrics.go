// Package metrics exposes the node's Prometheus collectors.
//
// Each node owns its registry so several nodes can run in one process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors updated by the construction services.
type Metrics struct {
	registry *prometheus.Registry

	// CRSStage is the ceremony stage (0=gathering, 1=waiting, 2=completed).
	CRSStage prometheus.Gauge

	// CRSContributions counts verified CRS deltas by result (valid, invalid).
	CRSContributions *prometheus.CounterVec

	// CRSRestarts counts ceremonies restarted for lack of weight.
	CRSRestarts prometheus.Counter

	// HintsKeys counts hinTS key publications by result (accepted, rejected, late).
	HintsKeys *prometheus.CounterVec

	// PreprocessingVotes counts accepted preprocessing votes.
	PreprocessingVotes prometheus.Counter

	// SchemesAdopted counts hinTS constructions that reached a scheme.
	SchemesAdopted prometheus.Counter

	// PartialSignatures counts partial signatures by result (valid, invalid).
	PartialSignatures *prometheus.CounterVec

	// Signings counts signing sessions by outcome (completed, expired).
	Signings *prometheus.CounterVec

	// ProofKeys counts accepted proof key publications.
	ProofKeys prometheus.Counter

	// HistorySignatures counts history signatures by result (valid, invalid).
	HistorySignatures *prometheus.CounterVec

	// Proofs counts proof constructions by outcome (completed, failed).
	Proofs *prometheus.CounterVec

	// Rounds counts applied rounds.
	Rounds prometheus.Counter

	// Transactions counts applied transactions by kind.
	Transactions *prometheus.CounterVec

	// RejectedTransactions counts transactions that failed to decode.
	RejectedTransactions prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CRSStage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tessera_crs_stage",
			Help: "CRS ceremony stage (0=gathering, 1=waiting, 2=completed)",
		}),
		CRSContributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tessera_crs_contributions_total",
			Help: "Verified CRS contributions",
		}, []string{"result"}),
		CRSRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_crs_restarts_total",
			Help: "CRS ceremonies restarted for lack of weight",
		}),
		HintsKeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tessera_hints_keys_total",
			Help: "hinTS key publications",
		}, []string{"result"}),
		PreprocessingVotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_hints_preprocessing_votes_total",
			Help: "Accepted hinTS preprocessing votes",
		}),
		SchemesAdopted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_hints_schemes_adopted_total",
			Help: "hinTS constructions that adopted a scheme",
		}),
		PartialSignatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tessera_hints_partial_signatures_total",
			Help: "Partial signatures received",
		}, []string{"result"}),
		Signings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tessera_hints_signings_total",
			Help: "Signing sessions by outcome",
		}, []string{"outcome"}),
		ProofKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_history_proof_keys_total",
			Help: "Accepted proof key publications",
		}),
		HistorySignatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tessera_history_signatures_total",
			Help: "Verified history signatures",
		}, []string{"result"}),
		Proofs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tessera_history_proofs_total",
			Help: "Proof constructions by outcome",
		}, []string{"outcome"}),
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_rounds_total",
			Help: "Applied rounds",
		}),
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tessera_transactions_total",
			Help: "Applied transactions by kind",
		}, []string{"kind"}),
		RejectedTransactions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_transactions_rejected_total",
			Help: "Transactions that failed to decode",
		}),
	}

	m.registry.MustRegister(
		m.CRSStage,
		m.CRSContributions,
		m.CRSRestarts,
		m.HintsKeys,
		m.PreprocessingVotes,
		m.SchemesAdopted,
		m.PartialSignatures,
		m.Signings,
		m.ProofKeys,
		m.HistorySignatures,
		m.Proofs,
		m.Rounds,
		m.Transactions,
		m.RejectedTransactions,
		prometheus.NewGoCollector(),
	)

	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
