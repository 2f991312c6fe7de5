package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics used in monitoring service.
var (
	peersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of connected peers",
			Name:      "peers_connected",
			Namespace: "mako",
		},
	)

	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Help:      "Messages received from peers",
			Name:      "messages_received_total",
			Namespace: "mako",
		},
		[]string{"command"},
	)

	peersBanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Peers banned for misbehavior",
			Name:      "peers_banned_total",
			Namespace: "mako",
		},
	)

	servAndNodeVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Help:      "Server and node version",
			Name:      "serv_node_version",
			Namespace: "mako",
		},
		[]string{"description", "value"},
	)
)

func init() {
	prometheus.MustRegister(
		peersConnected,
		messagesReceived,
		peersBanned,
		servAndNodeVersion,
	)
}

func updatePeersConnectedMetric(pConnected int) {
	peersConnected.Set(float64(pConnected))
}

func incMessageReceivedMetric(cmd string) {
	messagesReceived.WithLabelValues(cmd).Inc()
}

func incPeersBannedMetric() {
	peersBanned.Inc()
}

func setServerAndNodeVersions(nodeVer string, serverID string) {
	servAndNodeVersion.WithLabelValues("Node version", nodeVer).Add(0)
	servAndNodeVersion.WithLabelValues("Server id", serverID).Add(0)
}
