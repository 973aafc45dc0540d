package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Node channel metrics
	CommandsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netchat_commands_submitted_total",
			Help: "Total commands written to node mailboxes",
		},
		[]string{"tag"},
	)

	Polls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netchat_polls_total",
			Help: "Total mailbox polls",
		},
		[]string{"outcome"}, // "empty", "result", "io_error"
	)

	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netchat_decode_errors_total",
			Help: "Node results that could not be decoded",
		},
	)

	// Chat metrics
	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netchat_messages_stored_total",
			Help: "Messages appended to chatrooms from node results",
		},
		[]string{"direction", "kind"}, // incoming/outgoing, text/file
	)

	DirectRoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netchat_direct_rooms_created_total",
			Help: "Direct-message rooms created on first contact",
		},
	)

	AttachedNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netchat_attached_nodes",
			Help: "Node addresses currently polled",
		},
	)

	ControlSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netchat_control_sessions",
			Help: "Open control socket sessions",
		},
	)

	// Status API metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netchat_http_requests_total",
			Help: "Total status API requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netchat_http_request_duration_seconds",
			Help:    "Status API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
