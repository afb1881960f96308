package session

import (
	"errors"
	"fmt"
	"log/slog"

	"imu-pubsub/internal/core/network"
	"imu-pubsub/internal/dds"
)

type Role int

const (
	RolePublisher Role = iota
	RoleSubscriber
)

func (r Role) String() string {
	if r == RoleSubscriber {
		return "subscriber"
	}
	return "publisher"
}

// ParticipantName identifies the role to other participants.
func (r Role) ParticipantName() string {
	if r == RoleSubscriber {
		return "Imu_Subscriber"
	}
	return "Imu_Publisher"
}

// InitializationError reports which creation step failed in Open.
type InitializationError struct {
	Step string
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize %s: %v", e.Step, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// Listeners are injected into the endpoint at creation. Data is only used by
// the subscriber role.
type Listeners struct {
	Match dds.MatchListener
	Data  dds.DataListener
}

type RegistryConfig struct {
	Role        Role
	Domain      int
	Topic       string
	TypeSupport dds.TypeSupport
	WriterQoS   dds.WriterQoS
	ReaderQoS   dds.ReaderQoS
	// NewFabric opens the wire the participant will own.
	NewFabric func() (network.PubSub, error)
	Logger    *slog.Logger
}

type releaseStep struct {
	name string
	fn   func() error
}

// Registry owns the participant, topic and the single local endpoint of a
// session. Resources are released in reverse creation order: endpoint, topic,
// publisher or subscriber, participant.
type Registry struct {
	role        Role
	log         *slog.Logger
	participant *dds.Participant
	publisher   *dds.Publisher
	subscriber  *dds.Subscriber
	topic       *dds.Topic
	writer      *dds.DataWriter
	reader      *dds.DataReader

	release []releaseStep
}

// Open creates every entity for cfg.Role. On failure the entities created so
// far are released and an *InitializationError names the failed step.
func Open(cfg RegistryConfig, l Listeners) (*Registry, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{role: cfg.Role, log: log}
	if err := r.open(cfg, l); err != nil {
		if cerr := r.Close(); cerr != nil {
			log.Warn("release after failed initialization", "error", cerr)
		}
		return nil, err
	}
	return r, nil
}

func (r *Registry) open(cfg RegistryConfig, l Listeners) error {
	if cfg.NewFabric == nil || cfg.TypeSupport == nil {
		return &InitializationError{Step: "participant", Err: dds.ErrBadParameter}
	}
	fabric, err := cfg.NewFabric()
	if err != nil {
		return &InitializationError{Step: "participant", Err: err}
	}
	participant, err := dds.NewParticipant(cfg.Domain, cfg.Role.ParticipantName(), fabric, dds.WithLogger(r.log))
	if err != nil {
		_ = fabric.Close()
		return &InitializationError{Step: "participant", Err: err}
	}
	r.participant = participant
	r.push("participant", participant.Delete)

	if err := participant.RegisterType(cfg.TypeSupport); err != nil {
		return &InitializationError{Step: "type", Err: err}
	}

	if cfg.Role == RolePublisher {
		pub, err := participant.CreatePublisher()
		if err != nil {
			return &InitializationError{Step: "publisher", Err: err}
		}
		r.publisher = pub
		r.push("publisher", pub.Delete)
	} else {
		sub, err := participant.CreateSubscriber()
		if err != nil {
			return &InitializationError{Step: "subscriber", Err: err}
		}
		r.subscriber = sub
		r.push("subscriber", sub.Delete)
	}

	topic, err := participant.CreateTopic(cfg.Topic, cfg.TypeSupport.TypeName())
	if err != nil {
		return &InitializationError{Step: "topic", Err: err}
	}
	r.topic = topic
	r.push("topic", topic.Delete)

	if cfg.Role == RolePublisher {
		w, err := r.publisher.CreateDataWriter(topic, cfg.WriterQoS, l.Match)
		if err != nil {
			return &InitializationError{Step: "writer", Err: err}
		}
		r.writer = w
		r.push("writer", w.Delete)
		return nil
	}

	rd, err := r.subscriber.CreateDataReader(topic, cfg.ReaderQoS, l.Match, l.Data)
	if err != nil {
		return &InitializationError{Step: "reader", Err: err}
	}
	r.reader = rd
	r.push("reader", rd.Delete)
	return nil
}

func (r *Registry) push(name string, fn func() error) {
	r.release = append(r.release, releaseStep{name: name, fn: fn})
}

// Close releases whatever was created, newest first. Calling it again is a
// no-op.
func (r *Registry) Close() error {
	var errs []error
	for len(r.release) > 0 {
		step := r.release[len(r.release)-1]
		r.release = r.release[:len(r.release)-1]
		if err := step.fn(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", step.name, err))
			continue
		}
		r.log.Debug("released", "entity", step.name)
	}
	return errors.Join(errs...)
}

func (r *Registry) Role() Role                    { return r.role }
func (r *Registry) Participant() *dds.Participant { return r.participant }
func (r *Registry) Topic() *dds.Topic             { return r.topic }

// Writer is nil for the subscriber role.
func (r *Registry) Writer() *dds.DataWriter { return r.writer }

// Reader is nil for the publisher role.
func (r *Registry) Reader() *dds.DataReader { return r.reader }
