package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ChatEventsRelayed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "bridge_chat_events_relayed_total",
	Help: "Chat events delivered from the game to the chat sink",
})

var ChatDeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "bridge_chat_delivery_failures_total",
	Help: "Chat events the sink rejected",
})

var InboundRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bridge_inbound_messages_total",
	Help: "Chat platform messages seen by the inbound relay, by outcome",
}, []string{"result"})

var PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bridge_poll_cycles_total",
	Help: "Log poll cycles by outcome",
}, []string{"result"})

var LogOffset = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "bridge_log_offset_bytes",
	Help: "Persisted byte offset into the remote log",
})

var UpdateChecks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "updater_checks_total",
	Help: "Update checks by result",
}, []string{"result"})

var StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "updater_stage_failures_total",
	Help: "Deploy stage failures by stage",
}, []string{"stage"})

var TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "scheduler_tick_duration_seconds",
	Help:    "Duration of one scheduled task tick",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
}, []string{"task"})
