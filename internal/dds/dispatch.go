package dds

import (
	"sync"

	"imu-pubsub/internal/core/network"
)

// dispatcher runs the listener callbacks of one endpoint on one goroutine.
type dispatcher struct {
	events chan func()
	data   chan struct{}
	onData func()
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func newDispatcher(onData func()) *dispatcher {
	d := &dispatcher{
		events: make(chan func(), 16),
		data:   make(chan struct{}, 1),
		onData: onData,
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		default:
		}
		select {
		case fn := <-d.events:
			fn()
		case <-d.data:
			if d.onData != nil {
				d.onData()
			}
		case <-d.done:
			return
		}
	}
}

func (d *dispatcher) post(fn func()) {
	select {
	case d.events <- fn:
	case <-d.done:
	}
}

// notifyData schedules a data-available callback unless one is pending.
func (d *dispatcher) notifyData() {
	select {
	case d.data <- struct{}{}:
	default:
	}
}

// stop waits for an in-flight callback to return. It must not be called from
// inside a callback.
func (d *dispatcher) stop() {
	d.once.Do(func() { close(d.done) })
	d.wg.Wait()
}

// matchCounter folds peer events into MatchedStatus values.
type matchCounter struct {
	mu     sync.Mutex
	peers  map[string]struct{}
	status MatchedStatus
}

func newMatchCounter() *matchCounter {
	return &matchCounter{peers: make(map[string]struct{})}
}

// apply returns the new status and whether the event changed it.
func (m *matchCounter) apply(ev network.PeerEvent) (MatchedStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, known := m.peers[ev.Peer]
	switch {
	case ev.Type == network.PeerJoin && !known:
		m.peers[ev.Peer] = struct{}{}
		m.status.TotalCount++
		m.status.TotalCountChange = 1
		m.status.CurrentCount++
		m.status.CurrentCountChange = 1
	case ev.Type == network.PeerLeave && known:
		delete(m.peers, ev.Peer)
		m.status.TotalCountChange = 0
		m.status.CurrentCount--
		m.status.CurrentCountChange = -1
	default:
		return m.status, false
	}
	m.status.LastPeer = ev.Peer
	return m.status, true
}

func (m *matchCounter) snapshot() MatchedStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status
	s.TotalCountChange = 0
	s.CurrentCountChange = 0
	return s
}
