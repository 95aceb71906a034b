package handshake

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairing_handshake_frames_sent_total",
		Help: "Data frames fully written to the transport.",
	}, []string{"role"})

	framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairing_handshake_frames_received_total",
		Help: "Data frames parsed from the receive queue.",
	}, []string{"role"})

	acksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairing_handshake_acks_received_total",
		Help: "Ack frames recognized while awaiting confirmation.",
	}, []string{"role"})

	handshakeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairing_handshake_failures_total",
		Help: "Handshakes that ended in the Failed state.",
	}, []string{"role", "state"})

	handshakesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairing_handshake_completed_total",
		Help: "Handshakes that reached the Done state.",
	}, []string{"role"})

	handshakeState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pairing_handshake_state",
		Help: "Current handshake state, as its numeric value.",
	}, []string{"role"})
)
