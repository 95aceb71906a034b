package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslamotors/serial-pairing/internal/log"
	"github.com/teslamotors/serial-pairing/pkg/pairing"
)

type statusReporter interface {
	Role() pairing.Role
	Stats() pairing.Stats
	Err() error
}

type status struct {
	Role      string `json:"role"`
	State     string `json:"state"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Ticks     uint64 `json:"ticks"`
	Received  uint64 `json:"received"`
	Overflows uint64 `json:"overflows"`
	Error     string `json:"error,omitempty"`
}

func statusHandler(peer statusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		stats := peer.Stats()
		s := status{
			Role:      peer.Role().String(),
			State:     stats.State.String(),
			Completed: stats.Completed,
			Total:     stats.Total,
			Ticks:     stats.Ticks,
			Received:  stats.Received,
			Overflows: stats.Overflows,
		}
		if err := peer.Err(); err != nil {
			s.Error = err.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(&s); err != nil {
			log.Warning("Failed to write status: %s", err)
		}
	}
}

func newServer(addr string, peer statusReporter) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/status", statusHandler(peer))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
