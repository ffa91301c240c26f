package workers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lockedEventsObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piobridge_locked_events_observed_total",
			Help: "Total number of new Locked events observed by a validator agent",
		}, []string{"validator"})

	relayOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piobridge_relay_outcomes_total",
			Help: "Total number of Locked events marked processed, by outcome",
		}, []string{"validator", "status"})

	approvalsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piobridge_approvals_submitted_total",
			Help: "Total number of approval transactions sent",
		}, []string{"validator", "ledger"})

	transientFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piobridge_transient_failures_total",
			Help: "Total number of events left unmarked for retry",
		}, []string{"validator"})

	securityAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piobridge_security_alerts_total",
			Help: "Total number of security alerts raised",
		}, []string{"validator", "type"})

	lastScannedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "piobridge_last_scanned_block",
			Help: "Last source block scanned by a validator agent",
		}, []string{"validator"})

	gasBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "piobridge_validator_gas_balance",
			Help: "Native balance of the validator on the destination chain, in wei (float)",
		}, []string{"validator"})
)
