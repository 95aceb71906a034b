package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairing_rx_bytes_total",
		Help: "Bytes drained from the serial transport into the receive queue.",
	})

	rxOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairing_rx_overflows_total",
		Help: "Received bytes dropped because the receive queue was full.",
	})
)
