package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics holds server counters. All fields are atomics so coordinators can
// record events without coordination; reads are individually consistent only.
type Metrics struct {
	startedAt time.Time

	TotalConnections  atomic.Int64
	ActiveConnections atomic.Int64
	TotalDisconnects  atomic.Int64

	SuccessfulAuths atomic.Int64
	FailedAuths     atomic.Int64
	TokensIssued    atomic.Int64
	TokensRefreshed atomic.Int64
	TokensSwept     atomic.Int64
	SessionsResumed atomic.Int64
	SessionsEvicted atomic.Int64

	RoomsCreated atomic.Int64
	MessagesSent atomic.Int64

	BotReplies       atomic.Int64
	BotReplyFailures atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds     int64 `json:"uptime_seconds"`
	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int64 `json:"active_connections"`
	TotalDisconnects  int64 `json:"total_disconnects"`
	SuccessfulAuths   int64 `json:"successful_auths"`
	FailedAuths       int64 `json:"failed_auths"`
	TokensIssued      int64 `json:"tokens_issued"`
	TokensRefreshed   int64 `json:"tokens_refreshed"`
	TokensSwept       int64 `json:"tokens_swept"`
	SessionsResumed   int64 `json:"sessions_resumed"`
	SessionsEvicted   int64 `json:"sessions_evicted"`
	RoomsCreated      int64 `json:"rooms_created"`
	MessagesSent      int64 `json:"messages_sent"`
	BotReplies        int64 `json:"bot_replies"`
	BotReplyFailures  int64 `json:"bot_reply_failures"`
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		UptimeSeconds:     int64(time.Since(m.startedAt).Seconds()),
		TotalConnections:  m.TotalConnections.Load(),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		TokensIssued:      m.TokensIssued.Load(),
		TokensRefreshed:   m.TokensRefreshed.Load(),
		TokensSwept:       m.TokensSwept.Load(),
		SessionsResumed:   m.SessionsResumed.Load(),
		SessionsEvicted:   m.SessionsEvicted.Load(),
		RoomsCreated:      m.RoomsCreated.Load(),
		MessagesSent:      m.MessagesSent.Load(),
		BotReplies:        m.BotReplies.Load(),
		BotReplyFailures:  m.BotReplyFailures.Load(),
	}
}

// JSON renders the snapshot for the /metrics.json endpoint.
func (m *Metrics) JSON() ([]byte, error) {
	return json.MarshalIndent(m.Snapshot(), "", "  ")
}

// LogSummary emits the counters as one structured log record.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime_s", s.UptimeSeconds,
		"conns_total", s.TotalConnections,
		"conns_active", s.ActiveConnections,
		"auths_ok", s.SuccessfulAuths,
		"auths_failed", s.FailedAuths,
		"resumed", s.SessionsResumed,
		"evicted", s.SessionsEvicted,
		"rooms", s.RoomsCreated,
		"messages", s.MessagesSent,
		"bot_replies", s.BotReplies,
	)
}

// StartPeriodicLog logs a summary every interval until done closes.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary()
			case <-done:
				return
			}
		}
	}()
}
