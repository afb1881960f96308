package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"imu-pubsub/internal/config"
	"imu-pubsub/internal/core/network"
	"imu-pubsub/internal/dds"
	"imu-pubsub/internal/imu"
	"imu-pubsub/internal/statusapi"
)

// Options overrides collaborators of a session. Zero values pick the
// production ones.
type Options struct {
	// NewFabric replaces the transport selected by the config.
	NewFabric func(ctx context.Context) (network.PubSub, error)
	Clock     Clock
	Logger    *slog.Logger
}

// Session wires the registry to the role's loop.
type Session struct {
	cfg     config.Config
	role    Role
	flag    *ShutdownFlag
	log     *slog.Logger
	metrics *Metrics

	registry  *Registry
	tracker   *MatchTracker
	scheduler *Scheduler
	drain     *Drain
}

// Report summarizes a finished session.
type Report struct {
	Role           Role
	Count          uint64
	MatchedCurrent int
	MatchedTotal   int
}

// NewSession opens the registry for role. A failure is an
// *InitializationError and nothing is left open.
func NewSession(ctx context.Context, cfg config.Config, role Role, flag *ShutdownFlag, opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		cfg:     cfg,
		role:    role,
		flag:    flag,
		log:     log,
		metrics: NewMetrics(role),
	}
	s.tracker = NewMatchTracker(role, log, s.metrics)

	newFabric := opts.NewFabric
	if newFabric == nil {
		newFabric = func(ctx context.Context) (network.PubSub, error) {
			return openFabric(ctx, cfg, log)
		}
	}

	listeners := Listeners{Match: s.tracker}
	if role == RoleSubscriber {
		s.drain = NewDrain(flag, DrainConfig{
			StatusEvery:  cfg.StatusEvery,
			PollInterval: cfg.PollInterval,
			Clock:        opts.Clock,
			Logger:       log,
			Metrics:      s.metrics,
		})
		listeners.Data = s.drain
	}

	reg, err := Open(RegistryConfig{
		Role:        role,
		Domain:      cfg.Domain,
		Topic:       cfg.Topic,
		TypeSupport: namedTypeSupport{name: cfg.TypeName},
		WriterQoS:   dds.DefaultWriterQoS,
		ReaderQoS:   dds.ReaderQoS{Reliability: dds.Reliable, HistoryDepth: cfg.HistoryDepth},
		NewFabric:   func() (network.PubSub, error) { return newFabric(ctx) },
		Logger:      log,
	}, listeners)
	if err != nil {
		return nil, err
	}
	s.registry = reg

	if role == RolePublisher {
		s.scheduler = NewScheduler(reg.Writer(), flag, SchedulerConfig{
			Period:      cfg.Period,
			StatusEvery: cfg.StatusEvery,
			FrameID:     cfg.FrameID,
			Clock:       opts.Clock,
			Logger:      log,
			Metrics:     s.metrics,
		})
	}
	return s, nil
}

// Run drives the role's loop, and the status server when configured, until
// the shutdown flag is set. The registry is torn down only after the loop
// has returned.
func (s *Session) Run(ctx context.Context) (Report, error) {
	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if s.cfg.StatusAddr != "" {
		mux := http.NewServeMux()
		statusapi.NewServer(s, s.metrics.Registry).Register(mux)
		srv = &http.Server{Addr: s.cfg.StatusAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			s.log.Info("status server listening", "addr", s.cfg.StatusAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.flag.Set()
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}

	var count uint64
	g.Go(func() error {
		var err error
		if s.role == RolePublisher {
			count, err = s.scheduler.Run(gctx)
		} else {
			count, err = s.drain.Run(gctx)
		}
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				s.log.Warn("status server shutdown", "error", serr)
			}
		}
		return err
	})

	runErr := g.Wait()
	closeErr := s.Close()

	if s.role == RoleSubscriber {
		count = s.drain.Received()
	}
	report := Report{
		Role:           s.role,
		Count:          count,
		MatchedCurrent: s.tracker.State().Current(),
		MatchedTotal:   s.tracker.State().Total(),
	}
	return report, errors.Join(runErr, closeErr)
}

// Close releases the registry. Safe to call more than once.
func (s *Session) Close() error {
	return s.registry.Close()
}

func (s *Session) Registry() *Registry      { return s.registry }
func (s *Session) MatchState() *MatchState { return s.tracker.State() }
func (s *Session) Metrics() *Metrics       { return s.metrics }

// Count is samples sent for a publisher and received for a subscriber.
func (s *Session) Count() uint64 {
	if s.role == RolePublisher {
		return s.scheduler.Sent()
	}
	return s.drain.Received()
}

func (s *Session) state() LoopState {
	if s.role == RolePublisher {
		return s.scheduler.State()
	}
	return s.drain.State()
}

func (s *Session) Snapshot() statusapi.Snapshot {
	snap := statusapi.Snapshot{
		Role:           s.role.String(),
		Participant:    s.registry.Participant().Name(),
		Node:           s.registry.Participant().NodeID(),
		Topic:          s.registry.Topic().Name(),
		TypeName:       s.registry.Topic().TypeName(),
		State:          s.state().String(),
		MatchedCurrent: s.tracker.State().Current(),
		MatchedTotal:   s.tracker.State().Total(),
		Samples:        s.Count(),
	}
	if rd := s.registry.Reader(); rd != nil {
		snap.Lost = rd.SampleLostCount()
	}
	return snap
}

// Run is the process entry point for one role: initialize, run until the
// flag is set, tear down, report.
func Run(ctx context.Context, cfg config.Config, role Role, flag *ShutdownFlag, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("starting imu " + role.String())

	s, err := NewSession(ctx, cfg, role, flag, opts)
	if err != nil {
		return err
	}
	log.Info("imu "+role.String()+" initialized", "topic", cfg.Topic, "type", cfg.TypeName, "node", s.registry.Participant().NodeID())

	report, err := s.Run(ctx)
	log.Info("shutdown complete", "count", report.Count, "matched_total", report.MatchedTotal)
	return err
}

func openFabric(ctx context.Context, cfg config.Config, log *slog.Logger) (network.PubSub, error) {
	switch cfg.Transport {
	case config.TransportMemory:
		return network.NewMemoryNetwork().Node(""), nil
	case config.TransportLibp2p:
		p, err := network.NewLibp2pPubSub(ctx, network.Libp2pOptions{
			ListenAddrs:     cfg.ListenAddrs,
			Bootstrap:       cfg.Bootstrap,
			Rendezvous:      cfg.Rendezvous,
			EnableMDNS:      cfg.EnableMDNS,
			IdentityKeyFile: cfg.IdentityKeyFile,
			Logger:          log,
		})
		if err != nil {
			return nil, err
		}
		for _, addr := range p.ListenAddrs() {
			log.Info("listening", "addr", addr)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: transport %q", config.ErrInvalid, cfg.Transport)
	}
}

// namedTypeSupport registers the Imu codec under the configured type name,
// which is the rendezvous key together with the topic name.
type namedTypeSupport struct {
	imu.TypeSupport
	name string
}

func (n namedTypeSupport) TypeName() string { return n.name }
