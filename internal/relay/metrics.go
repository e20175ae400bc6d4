package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perun_sessions_total",
		Help: "Completed handshakes since start.",
	})
	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perun_sessions_active",
		Help: "Sessions currently tracked by the relay.",
	})
	metricPacketsIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perun_packets_received_total",
		Help: "Complete packets parsed from clients, by type.",
	}, []string{"type"})
	metricBytesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perun_bytes_received_total",
		Help: "Bytes read from client connections.",
	})
	metricBytesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perun_bytes_sent_total",
		Help: "Bytes handed to client transports.",
	})
	metricFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perun_frames_dropped_total",
		Help: "Video frames dropped by per-peer backpressure.",
	})
)
