package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"imu-pubsub/internal/dds"
	"imu-pubsub/internal/imu"
)

// SampleTaker pulls one buffered sample without blocking.
type SampleTaker interface {
	TakeNextSample(dst any) (dds.SampleInfo, error)
}

type DrainConfig struct {
	StatusEvery  uint64
	PollInterval time.Duration
	Clock        Clock
	Logger       *slog.Logger
	Metrics      *Metrics
}

// Drain is the reader's data listener. Each notification takes samples until
// the reader is empty.
type Drain struct {
	flag    *ShutdownFlag
	cfg     DrainConfig
	log     *slog.Logger
	metrics *Metrics

	state    atomic.Int32
	received atomic.Uint64
	invalid  atomic.Uint64
}

func NewDrain(flag *ShutdownFlag, cfg DrainConfig) *Drain {
	if cfg.StatusEvery == 0 {
		cfg.StatusEvery = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(RoleSubscriber)
	}
	return &Drain{flag: flag, cfg: cfg, log: cfg.Logger, metrics: cfg.Metrics}
}

func (d *Drain) OnDataAvailable(r *dds.DataReader) {
	d.DrainFrom(r)
}

// DrainFrom takes from src until it reports no data or fails, and returns
// the number of valid samples received.
func (d *Drain) DrainFrom(src SampleTaker) int {
	taken := 0
	for {
		var sample imu.Imu
		info, err := src.TakeNextSample(&sample)
		if errors.Is(err, dds.ErrNoData) {
			return taken
		}
		if err != nil {
			d.metrics.TakeErrors.Inc()
			d.log.Warn("take failed", "error", err)
			return taken
		}
		if !info.ValidData {
			d.invalid.Add(1)
			d.metrics.InvalidSamples.Inc()
			continue
		}

		taken++
		d.metrics.SamplesReceived.Inc()
		n := d.received.Add(1)
		if n%d.cfg.StatusEvery == 0 {
			d.log.Info("received imu data",
				"count", n,
				"timestamp", sample.Header.Stamp.String(),
				"frame_id", sample.Header.FrameID,
				"orientation", sample.Orientation.String(),
				"angular_velocity", sample.AngularVelocity.String(),
				"linear_acceleration", sample.LinearAcceleration.String(),
			)
		}
	}
}

// Run keeps the host alive until the shutdown flag is set, checking it once
// per poll interval, and returns the number of samples received. The work
// itself happens in OnDataAvailable on the reader's dispatch goroutine.
func (d *Drain) Run(_ context.Context) (uint64, error) {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return d.received.Load(), ErrAlreadyStarted
	}
	defer d.state.Store(int32(StateStopped))

	d.log.Info("subscribing to imu data")
	for !d.flag.IsSet() {
		d.cfg.Clock.Sleep(d.cfg.PollInterval)
	}

	received := d.received.Load()
	d.log.Info("stopped", "total_received", received, "invalid", d.invalid.Load())
	return received, nil
}

func (d *Drain) State() LoopState { return LoopState(d.state.Load()) }
func (d *Drain) Received() uint64 { return d.received.Load() }
func (d *Drain) Invalid() uint64  { return d.invalid.Load() }
