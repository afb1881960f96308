package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"imu-pubsub/internal/imu"
)

var ErrAlreadyStarted = errors.New("loop already started")

// Clock is the slice of github.com/benbjohnson/clock the loops need.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SampleWriter accepts samples for transmission.
type SampleWriter interface {
	Write(ctx context.Context, sample any) error
}

type LoopState int32

const (
	StateIdle LoopState = iota
	StateRunning
	StateStopped
)

func (s LoopState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

type SchedulerConfig struct {
	Period      time.Duration
	StatusEvery uint64
	FrameID     string
	Clock       Clock
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Scheduler publishes one synthesized sample per period. Deadlines advance
// by adding the period to the previous deadline, so per-tick processing time
// never accumulates into drift; after an overrun the loop catches up.
type Scheduler struct {
	writer  SampleWriter
	flag    *ShutdownFlag
	cfg     SchedulerConfig
	log     *slog.Logger
	metrics *Metrics

	state  atomic.Int32
	ticks  atomic.Uint64
	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewScheduler(w SampleWriter, flag *ShutdownFlag, cfg SchedulerConfig) *Scheduler {
	if cfg.StatusEvery == 0 {
		cfg.StatusEvery = 100
	}
	if cfg.FrameID == "" {
		cfg.FrameID = imu.FrameID
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(RolePublisher)
	}
	return &Scheduler{writer: w, flag: flag, cfg: cfg, log: cfg.Logger, metrics: cfg.Metrics}
}

// Run publishes until the shutdown flag is observed at the top of an
// iteration and returns the number of samples sent. A started iteration
// always completes.
func (s *Scheduler) Run(ctx context.Context) (uint64, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return s.sent.Load(), ErrAlreadyStarted
	}
	defer s.state.Store(int32(StateStopped))

	s.log.Info("publishing imu data", "rate_hz", float64(time.Second)/float64(s.cfg.Period))

	clk := s.cfg.Clock
	next := clk.Now()
	for !s.flag.IsSet() {
		now := clk.Now()
		tick := s.ticks.Load()
		sample := imu.Synthesize(tick, now, s.cfg.FrameID)

		if err := s.writer.Write(ctx, &sample); err != nil {
			s.failed.Add(1)
			s.metrics.SendErrors.Inc()
			s.log.Warn("send failed", "tick", tick, "error", err)
		} else {
			s.sent.Add(1)
			s.metrics.SamplesSent.Inc()
		}

		n := s.ticks.Add(1)
		if n%s.cfg.StatusEvery == 0 {
			s.log.Info("published imu data", "count", n, "orientation", sample.Orientation.String())
		}

		next = next.Add(s.cfg.Period)
		if d := next.Sub(clk.Now()); d > 0 {
			clk.Sleep(d)
		} else {
			s.metrics.PublishOverruns.Inc()
		}
	}

	sent := s.sent.Load()
	s.log.Info("stopped", "total_sent", sent, "send_errors", s.failed.Load())
	return sent, nil
}

func (s *Scheduler) State() LoopState { return LoopState(s.state.Load()) }
func (s *Scheduler) Sent() uint64     { return s.sent.Load() }
func (s *Scheduler) Ticks() uint64    { return s.ticks.Load() }
