package session

import (
	"log/slog"
	"sync/atomic"

	"imu-pubsub/internal/dds"
)

// MatchState counts matched remote endpoints. Only MatchTracker writes it.
type MatchState struct {
	current atomic.Int64
	total   atomic.Int64
}

func (s *MatchState) Current() int { return int(s.current.Load()) }
func (s *MatchState) Total() int   { return int(s.total.Load()) }

// MatchTracker is the endpoint's match listener.
type MatchTracker struct {
	state    MatchState
	endpoint string
	peers    string
	log      *slog.Logger
	metrics  *Metrics
}

func NewMatchTracker(role Role, log *slog.Logger, m *Metrics) *MatchTracker {
	t := &MatchTracker{log: log, metrics: m, endpoint: "writer", peers: "subscribers"}
	if role == RoleSubscriber {
		t.endpoint, t.peers = "reader", "publishers"
	}
	return t
}

func (t *MatchTracker) State() *MatchState {
	return &t.state
}

func (t *MatchTracker) OnMatchedChanged(status dds.MatchedStatus) {
	var event string
	switch status.CurrentCountChange {
	case 1:
		event = t.endpoint + " matched"
	case -1:
		event = t.endpoint + " unmatched"
	default:
		t.log.Warn("ignoring unexpected match change", "change", status.CurrentCountChange, "current", status.CurrentCount)
		return
	}
	t.state.current.Store(int64(status.CurrentCount))
	t.state.total.Store(int64(status.TotalCount))
	t.metrics.MatchedEndpoints.Set(float64(status.CurrentCount))
	t.log.Info(event, "total_"+t.peers, status.TotalCount, "current", status.CurrentCount, "peer", status.LastPeer)
}
