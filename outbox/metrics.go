package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Subsystem: "outbox",
		Name:      "sends_total",
		Help:      "Send attempts by result.",
	}, []string{"result"})

	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatsync",
		Subsystem: "outbox",
		Name:      "pending",
		Help:      "Messages waiting in the outbox.",
	})

	failedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatsync",
		Subsystem: "outbox",
		Name:      "failed",
		Help:      "Messages stuck in failed sync state.",
	})
)

func init() {
	prometheus.MustRegister(sendsTotal, pendingGauge, failedGauge)
}
