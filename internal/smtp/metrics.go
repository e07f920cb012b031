package smtp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smtpserver_connections_total",
			Help: "Incoming SMTP connections.",
		},
	)
	metricCommands = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smtpserver_command_duration_seconds",
			Help:    "SMTP command handling duration and reply code.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10},
		},
		[]string{"cmd", "code"},
	)
	metricRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtpserver_rejections_total",
			Help: "Commands and messages rejected by policy, per hook.",
		},
		[]string{"hook"},
	)
	metricMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtpserver_messages_total",
			Help: "Per-recipient messages after DATA. Result values: queued, discarded, rejected.",
		},
		[]string{"result"},
	)
)
