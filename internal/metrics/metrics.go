package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	connectionsMetricName        = "beacon_ws_connections"
	messagesSentMetricName       = "beacon_messages_sent_total"
	deliveryFailuresMetricName   = "beacon_delivery_failures_total"
	statusTransitionsMetricName  = "beacon_message_status_transitions_total"
	callsMetricName              = "beacon_calls_total"
	conversationsPurgeMetricName = "beacon_conversations_purged_total"
	presenceSweptMetricName      = "beacon_presence_swept_total"
)

var (
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: connectionsMetricName,
		Help: "Open websocket connections on this instance.",
	})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: messagesSentMetricName,
		Help: "Messages persisted and fanned out.",
	})

	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: deliveryFailuresMetricName,
		Help: "Events that could not be handed to a connection.",
	}, []string{"event"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: statusTransitionsMetricName,
		Help: "Message status advances by target status.",
	}, []string{"status"})

	Calls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: callsMetricName,
		Help: "Finished calls by outcome.",
	}, []string{"outcome"})

	ConversationsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: conversationsPurgeMetricName,
		Help: "Conversations hard deleted after every participant deleted them.",
	})

	PresenceSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: presenceSweptMetricName,
		Help: "Users taken offline by the stale presence sweep.",
	})
)
