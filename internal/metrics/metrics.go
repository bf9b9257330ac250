package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaunch_webhook_events_total",
		Help: "Webhook events received from the relay, by outcome",
	}, []string{"outcome"})

	TriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaunch_triggers_total",
		Help: "Restart triggers, by whether they started a cycle or were dropped",
	}, []string{"result"})

	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaunch_cycles_total",
		Help: "Completed restart cycles, by result",
	}, []string{"result"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relaunch_cycle_duration_seconds",
		Help:    "Time from trigger to a running child",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	ChildPID = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaunch_child_pid",
		Help: "PID of the running child, 0 when none",
	})

	OrchestratorState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relaunch_orchestrator_state",
		Help: "1 for the current orchestrator state, 0 otherwise",
	}, []string{"state"})

	RelayConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaunch_relay_connected",
		Help: "1 while the relay event stream is connected",
	})

	RelayReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaunch_relay_reconnects_total",
		Help: "Relay connections re-established after a drop",
	})
)

// SetState marks state as current among all known states
func SetState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		OrchestratorState.WithLabelValues(s).Set(v)
	}
}

// RecordTrigger counts a trigger as accepted or dropped
func RecordTrigger(accepted bool) {
	if accepted {
		TriggersTotal.WithLabelValues("accepted").Inc()
		return
	}
	TriggersTotal.WithLabelValues("dropped").Inc()
}
