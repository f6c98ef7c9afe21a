// Package statsserver exposes an Engine's state over HTTP: a JSON
// /stat endpoint in the shape of the teacher's cmd/server/main.go
// inline handler and bitsy/cmd/serve.go's /api/torrents route, plus a
// /metrics endpoint for Prometheus scraping, both served through the
// same gorilla/mux router the teacher's serve command builds.
package statsserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/Elegant996/bitsyd/engine"
)

// Server wraps an http.Server configured with bitsyd's stats and
// metrics routes.
type Server struct {
	http *http.Server
}

// New builds a Server that reports eng's state at /stat and Prometheus
// metrics at /metrics, served by metricsHandler, or by
// promhttp.Handler() when metricsHandler is nil.
func New(addr string, eng *engine.Engine, metricsHandler http.Handler) *Server {
	r := mux.NewRouter()

	r.HandleFunc("/stat", func(rw http.ResponseWriter, req *http.Request) {
		data, err := json.MarshalIndent(eng.Stat(), "", " ")
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Write(data)
	})

	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	return &Server{
		http: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
	}
}

// ListenAndServe blocks serving stats and metrics until the server is
// shut down or fails to bind.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.http.Addr).Msg("stats server listening")
	return s.http.ListenAndServe()
}

// Close shuts the server down immediately.
func (s *Server) Close() error {
	return s.http.Close()
}
