package network

import (
	"context"
	"sync"

	"github.com/eapache/queue"
	"github.com/google/uuid"
)

// MemoryNetwork is a process-local fabric shared by any number of nodes.
// Used for development and tests; delivery is lossless and in order per subscriber.
type MemoryNetwork struct {
	mu     sync.Mutex
	nextID int
	topics map[string]*memTopic
}

type memTopic struct {
	subs     map[int]*pump[Message]
	watchers map[int]*memWatcher
	interest map[string]int
}

type memWatcher struct {
	node string
	out  *pump[PeerEvent]
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{topics: make(map[string]*memTopic)}
}

// Node attaches a new node to the network. An empty id gets a random one.
func (n *MemoryNetwork) Node(id string) *MemoryPubSub {
	if id == "" {
		id = uuid.NewString()
	}
	return &MemoryPubSub{net: n, id: id, cancels: make(map[int]func())}
}

func (n *MemoryNetwork) topicLocked(name string) *memTopic {
	t, ok := n.topics[name]
	if !ok {
		t = &memTopic{
			subs:     make(map[int]*pump[Message]),
			watchers: make(map[int]*memWatcher),
			interest: make(map[string]int),
		}
		n.topics[name] = t
	}
	return t
}

func (n *MemoryNetwork) dropIfIdleLocked(name string) {
	t, ok := n.topics[name]
	if ok && len(t.subs) == 0 && len(t.watchers) == 0 && len(t.interest) == 0 {
		delete(n.topics, name)
	}
}

func (n *MemoryNetwork) addInterestLocked(topic, node string) {
	t := n.topicLocked(topic)
	t.interest[node]++
	if t.interest[node] != 1 {
		return
	}
	for _, w := range t.watchers {
		if w.node != node {
			w.out.push(PeerEvent{Type: PeerJoin, Peer: node})
		}
	}
}

func (n *MemoryNetwork) removeInterestLocked(topic, node string) {
	t, ok := n.topics[topic]
	if !ok || t.interest[node] == 0 {
		return
	}
	t.interest[node]--
	if t.interest[node] > 0 {
		return
	}
	delete(t.interest, node)
	for _, w := range t.watchers {
		if w.node != node {
			w.out.push(PeerEvent{Type: PeerLeave, Peer: node})
		}
	}
}

// MemoryPubSub is one node's view of a MemoryNetwork.
type MemoryPubSub struct {
	net     *MemoryNetwork
	id      string
	closed  bool
	cancels map[int]func()
}

func (m *MemoryPubSub) LocalID() string {
	return m.id
}

// Closed reports whether Close has been called on this node.
func (m *MemoryPubSub) Closed() bool {
	m.net.mu.Lock()
	defer m.net.mu.Unlock()
	return m.closed
}

func (m *MemoryPubSub) Publish(_ context.Context, topic string, payload []byte) error {
	m.net.mu.Lock()
	defer m.net.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	t, ok := m.net.topics[topic]
	if !ok {
		return nil
	}
	for _, sub := range t.subs {
		sub.push(Message{Topic: topic, From: m.id, Payload: append([]byte(nil), payload...)})
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	m.net.mu.Lock()
	defer m.net.mu.Unlock()
	if m.closed {
		return nil, nil, ErrClosed
	}
	id := m.net.nextID
	m.net.nextID++
	sub := newPump[Message]()
	m.net.topicLocked(topic).subs[id] = sub
	m.net.addInterestLocked(topic, m.id)

	cancel := m.trackLocked(id, func() {
		if t, ok := m.net.topics[topic]; ok {
			delete(t.subs, id)
		}
		sub.stop()
		m.net.removeInterestLocked(topic, m.id)
		m.net.dropIfIdleLocked(topic)
	})
	return sub.out, cancel, nil
}

func (m *MemoryPubSub) Announce(topic string) (func(), error) {
	m.net.mu.Lock()
	defer m.net.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	id := m.net.nextID
	m.net.nextID++
	m.net.addInterestLocked(topic, m.id)

	return m.trackLocked(id, func() {
		m.net.removeInterestLocked(topic, m.id)
		m.net.dropIfIdleLocked(topic)
	}), nil
}

func (m *MemoryPubSub) WatchPeers(topic string) (<-chan PeerEvent, func(), error) {
	m.net.mu.Lock()
	defer m.net.mu.Unlock()
	if m.closed {
		return nil, nil, ErrClosed
	}
	id := m.net.nextID
	m.net.nextID++
	t := m.net.topicLocked(topic)
	w := &memWatcher{node: m.id, out: newPump[PeerEvent]()}
	for node := range t.interest {
		if node != m.id {
			w.out.push(PeerEvent{Type: PeerJoin, Peer: node})
		}
	}
	t.watchers[id] = w

	cancel := m.trackLocked(id, func() {
		if t, ok := m.net.topics[topic]; ok {
			delete(t.watchers, id)
		}
		w.out.stop()
		m.net.dropIfIdleLocked(topic)
	})
	return w.out.out, cancel, nil
}

// Close withdraws every subscription, announcement and watcher of the node.
// Peers watching its topics observe a leave.
func (m *MemoryPubSub) Close() error {
	m.net.mu.Lock()
	if m.closed {
		m.net.mu.Unlock()
		return nil
	}
	m.closed = true
	pending := make([]func(), 0, len(m.cancels))
	for _, c := range m.cancels {
		pending = append(pending, c)
	}
	m.net.mu.Unlock()

	for _, c := range pending {
		c()
	}
	return nil
}

// trackLocked wraps release so it runs once under the network lock and is
// dropped from the node's outstanding set.
func (m *MemoryPubSub) trackLocked(id int, release func()) func() {
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.net.mu.Lock()
			defer m.net.mu.Unlock()
			delete(m.cancels, id)
			release()
		})
	}
	m.cancels[id] = cancel
	return cancel
}

// pump forwards pushed values to out through an unbounded FIFO so that
// pushers never block and nothing is dropped.
type pump[T any] struct {
	mu   sync.Mutex
	q    *queue.Queue
	wake chan struct{}
	done chan struct{}
	once sync.Once
	out  chan T
}

func newPump[T any]() *pump[T] {
	p := &pump[T]{
		q:    queue.New(),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan T),
	}
	go p.run()
	return p
}

func (p *pump[T]) push(v T) {
	p.mu.Lock()
	p.q.Add(v)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *pump[T]) run() {
	defer close(p.out)
	for {
		p.mu.Lock()
		if p.q.Length() == 0 {
			p.mu.Unlock()
			select {
			case <-p.wake:
				continue
			case <-p.done:
				return
			}
		}
		v := p.q.Remove().(T)
		p.mu.Unlock()
		select {
		case p.out <- v:
		case <-p.done:
			return
		}
	}
}

func (p *pump[T]) stop() {
	p.once.Do(func() { close(p.done) })
}
