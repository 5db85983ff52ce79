package recon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	autoSettlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recon_auto_settlements_total",
		Help: "Automatic settlements committed, by allocation mode.",
	}, []string{"mode"})

	parkedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recon_parked_records_total",
		Help: "Records parked for manual review after automatic matching gave up.",
	}, []string{"record_type"})

	manualSettlements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recon_manual_settlements_total",
		Help: "Operator-driven settlements committed.",
	})

	reversals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recon_reversals_total",
		Help: "Deposit reversals committed.",
	})

	refunds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recon_refunds_total",
		Help: "Deposits marked refunded.",
	})

	settleConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recon_settle_conflicts_total",
		Help: "Settlements that exhausted their transaction retries.",
	})
)
