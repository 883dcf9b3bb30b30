package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// StartMetricsHTTP serves /metrics (Prometheus text exposition), /metrics.json,
// and /healthz on cfg.MetricsAddr. Disabled when the address is empty.
func (s *Server) StartMetricsHTTP() {
	if s.cfg.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handlePrometheus)
	mux.HandleFunc("/metrics.json", s.handleMetricsJSON)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:         s.cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics endpoint listening", "addr", s.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics endpoint failed", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, _ *http.Request) {
	body, err := s.metrics.JSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) handlePrometheus(w http.ResponseWriter, _ *http.Request) {
	snap := s.metrics.Snapshot()
	var b strings.Builder

	writeMetric := func(name, help, typ string, value int64) {
		fmt.Fprintf(&b, "# HELP chatline_%s %s\n", name, help)
		fmt.Fprintf(&b, "# TYPE chatline_%s %s\n", name, typ)
		fmt.Fprintf(&b, "chatline_%s %d\n", name, value)
	}

	writeMetric("uptime_seconds", "Server uptime in seconds.", "gauge", snap.UptimeSeconds)
	writeMetric("connections_total", "Accepted connections.", "counter", snap.TotalConnections)
	writeMetric("connections_active", "Currently open connections.", "gauge", snap.ActiveConnections)
	writeMetric("disconnects_total", "Unexpected disconnects.", "counter", snap.TotalDisconnects)
	writeMetric("auth_success_total", "Successful authentications.", "counter", snap.SuccessfulAuths)
	writeMetric("auth_failure_total", "Failed authentications.", "counter", snap.FailedAuths)
	writeMetric("tokens_issued_total", "Session tokens issued.", "counter", snap.TokensIssued)
	writeMetric("tokens_refreshed_total", "Session tokens refreshed.", "counter", snap.TokensRefreshed)
	writeMetric("tokens_swept_total", "Expired tokens removed by the sweeper.", "counter", snap.TokensSwept)
	writeMetric("sessions_resumed_total", "Sessions resumed by token.", "counter", snap.SessionsResumed)
	writeMetric("sessions_evicted_total", "Connections evicted by a resume.", "counter", snap.SessionsEvicted)
	writeMetric("rooms_created_total", "Rooms created.", "counter", snap.RoomsCreated)
	writeMetric("messages_total", "Chat messages relayed.", "counter", snap.MessagesSent)
	writeMetric("bot_replies_total", "Bot replies generated.", "counter", snap.BotReplies)
	writeMetric("bot_reply_failures_total", "Bot reply generation failures.", "counter", snap.BotReplyFailures)
	writeMetric("rooms_current", "Rooms currently in the registry.", "gauge", int64(len(s.registry.List())))
	writeMetric("sessions_current", "Live sessions in the session table.", "gauge", int64(s.sessions.Count()))

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(b.String()))
}
