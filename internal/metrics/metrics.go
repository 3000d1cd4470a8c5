package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_active_connections",
		Help: "Currently open duplex connections.",
	})
	AdmissionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_admissions_rejected_total",
		Help: "Connections rejected at admission.",
	})
	MessagesFannedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_messages_fanned_out_total",
		Help: "Message deliveries to subscribed connections.",
	})
)
