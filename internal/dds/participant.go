package dds

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"imu-pubsub/internal/core/network"
)

// Participant is the root of an entity tree and owns its fabric.
type Participant struct {
	guid   string
	name   string
	domain int
	fabric network.PubSub
	log    *slog.Logger

	mu          sync.Mutex
	deleted     bool
	types       map[string]TypeSupport
	topics      map[*Topic]struct{}
	publishers  map[*Publisher]struct{}
	subscribers map[*Subscriber]struct{}
}

type ParticipantOption func(*Participant)

func WithLogger(l *slog.Logger) ParticipantOption {
	return func(p *Participant) {
		if l != nil {
			p.log = l
		}
	}
}

// NewParticipant joins domain under name. The participant takes ownership of
// fabric and closes it when deleted.
func NewParticipant(domain int, name string, fabric network.PubSub, opts ...ParticipantOption) (*Participant, error) {
	if name == "" || fabric == nil || domain < 0 {
		return nil, fmt.Errorf("create participant %q: %w", name, ErrBadParameter)
	}
	p := &Participant{
		guid:        uuid.NewString(),
		name:        name,
		domain:      domain,
		fabric:      fabric,
		log:         slog.Default(),
		types:       make(map[string]TypeSupport),
		topics:      make(map[*Topic]struct{}),
		publishers:  make(map[*Publisher]struct{}),
		subscribers: make(map[*Subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("participant", name)
	p.log.Debug("participant created", "guid", p.guid, "domain", domain, "node", fabric.LocalID())
	return p, nil
}

func (p *Participant) Name() string   { return p.name }
func (p *Participant) GUID() string   { return p.guid }
func (p *Participant) Domain() int    { return p.domain }
func (p *Participant) NodeID() string { return p.fabric.LocalID() }

func (p *Participant) RegisterType(ts TypeSupport) error {
	if ts == nil || !validName(ts.TypeName()) {
		return fmt.Errorf("register type: %w", ErrBadParameter)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return ErrAlreadyDeleted
	}
	p.types[ts.TypeName()] = ts
	return nil
}

func (p *Participant) CreatePublisher() (*Publisher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return nil, ErrAlreadyDeleted
	}
	pub := &Publisher{p: p, writers: make(map[*DataWriter]struct{})}
	p.publishers[pub] = struct{}{}
	return pub, nil
}

func (p *Participant) CreateSubscriber() (*Subscriber, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return nil, ErrAlreadyDeleted
	}
	sub := &Subscriber{p: p, readers: make(map[*DataReader]struct{})}
	p.subscribers[sub] = struct{}{}
	return sub, nil
}

// CreateTopic binds name to a registered type.
func (p *Participant) CreateTopic(name, typeName string) (*Topic, error) {
	if !validName(name) {
		return nil, fmt.Errorf("create topic %q: %w", name, ErrBadParameter)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return nil, ErrAlreadyDeleted
	}
	ts, ok := p.types[typeName]
	if !ok {
		return nil, fmt.Errorf("create topic %q: %w: %s", name, ErrTypeNotRegistered, typeName)
	}
	t := &Topic{p: p, name: name, typeName: typeName, ts: ts}
	p.topics[t] = struct{}{}
	return t, nil
}

// Delete releases the participant and its fabric. It fails while any
// publisher, subscriber or topic created from it is still alive.
func (p *Participant) Delete() error {
	p.mu.Lock()
	if p.deleted {
		p.mu.Unlock()
		return nil
	}
	if len(p.topics) > 0 || len(p.publishers) > 0 || len(p.subscribers) > 0 {
		p.mu.Unlock()
		return fmt.Errorf("delete participant %q: %w", p.name, ErrPreconditionNotMet)
	}
	p.deleted = true
	p.mu.Unlock()

	p.log.Debug("participant deleted")
	if err := p.fabric.Close(); err != nil {
		return fmt.Errorf("close fabric: %w", err)
	}
	return nil
}

// Close deletes every contained entity, endpoints first, then topics, then
// publishers and subscribers, and finally the participant itself.
func (p *Participant) Close() error {
	p.mu.Lock()
	var writers []*DataWriter
	var readers []*DataReader
	for pub := range p.publishers {
		for w := range pub.writers {
			writers = append(writers, w)
		}
	}
	for sub := range p.subscribers {
		for r := range sub.readers {
			readers = append(readers, r)
		}
	}
	topics := keys(p.topics)
	pubs := keys(p.publishers)
	subs := keys(p.subscribers)
	p.mu.Unlock()

	for _, w := range writers {
		_ = w.Delete()
	}
	for _, r := range readers {
		_ = r.Delete()
	}
	for _, t := range topics {
		_ = t.Delete()
	}
	for _, pub := range pubs {
		_ = pub.Delete()
	}
	for _, sub := range subs {
		_ = sub.Delete()
	}
	return p.Delete()
}

func keys[K comparable](m map[K]struct{}) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Topic is a named, typed channel within a participant.
type Topic struct {
	p         *Participant
	name      string
	typeName  string
	ts        TypeSupport
	endpoints int
	deleted   bool
}

func (t *Topic) Name() string     { return t.name }
func (t *Topic) TypeName() string { return t.typeName }

func (t *Topic) dataChannel() string {
	return dataChannel(t.p.domain, t.name, t.typeName)
}

func (t *Topic) presenceChannel() string {
	return presenceChannel(t.p.domain, t.name, t.typeName)
}

// Delete fails while a writer or reader still uses the topic.
func (t *Topic) Delete() error {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	if t.deleted {
		return nil
	}
	if t.endpoints > 0 {
		return fmt.Errorf("delete topic %q: %w", t.name, ErrPreconditionNotMet)
	}
	t.deleted = true
	delete(t.p.topics, t)
	return nil
}

// Publisher groups the writers of a participant.
type Publisher struct {
	p       *Participant
	writers map[*DataWriter]struct{}
	deleted bool
}

func (pub *Publisher) Delete() error {
	pub.p.mu.Lock()
	defer pub.p.mu.Unlock()
	if pub.deleted {
		return nil
	}
	if len(pub.writers) > 0 {
		return fmt.Errorf("delete publisher: %w", ErrPreconditionNotMet)
	}
	pub.deleted = true
	delete(pub.p.publishers, pub)
	return nil
}

// Subscriber groups the readers of a participant.
type Subscriber struct {
	p       *Participant
	readers map[*DataReader]struct{}
	deleted bool
}

func (sub *Subscriber) Delete() error {
	sub.p.mu.Lock()
	defer sub.p.mu.Unlock()
	if sub.deleted {
		return nil
	}
	if len(sub.readers) > 0 {
		return fmt.Errorf("delete subscriber: %w", ErrPreconditionNotMet)
	}
	sub.deleted = true
	delete(sub.p.subscribers, sub)
	return nil
}

// attach records a new endpoint on topic under its owner. Caller holds p.mu.
func (t *Topic) attachLocked(owner *Participant) error {
	if owner.deleted {
		return ErrAlreadyDeleted
	}
	if t.p != owner {
		return fmt.Errorf("topic %q belongs to another participant: %w", t.name, ErrBadParameter)
	}
	if t.deleted {
		return fmt.Errorf("topic %q: %w", t.name, ErrAlreadyDeleted)
	}
	t.endpoints++
	return nil
}
