package dds

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"imu-pubsub/internal/core/network"
)

type historyEntry struct {
	info    SampleInfo
	payload []byte
}

// DataReader buffers samples of its topic until they are taken. Remote
// writers of the same topic are its matched endpoints.
type DataReader struct {
	guid  string
	sub   *Subscriber
	topic *Topic
	qos   ReaderQoS
	log   *slog.Logger

	mu      sync.Mutex
	history *queue.Queue
	lost    uint64

	match   *matchCounter
	disp    *dispatcher
	wg      sync.WaitGroup
	deleted atomic.Bool

	stopSub   func()
	stopWatch func()
}

// CreateDataReader creates a reader on topic. Either listener may be nil.
func (sub *Subscriber) CreateDataReader(topic *Topic, qos ReaderQoS, match MatchListener, data DataListener) (*DataReader, error) {
	if topic == nil {
		return nil, fmt.Errorf("create reader: %w", ErrBadParameter)
	}
	if qos.HistoryDepth <= 0 {
		qos.HistoryDepth = DefaultHistoryDepth
	}
	p := sub.p
	p.mu.Lock()
	if sub.deleted {
		p.mu.Unlock()
		return nil, fmt.Errorf("create reader: subscriber: %w", ErrAlreadyDeleted)
	}
	if err := topic.attachLocked(p); err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("create reader: %w", err)
	}
	p.mu.Unlock()

	r := &DataReader{
		guid:    uuid.NewString(),
		sub:     sub,
		topic:   topic,
		qos:     qos,
		history: queue.New(),
		match:   newMatchCounter(),
	}
	r.log = p.log.With("reader", r.guid, "topic", topic.name)
	r.disp = newDispatcher(func() {
		if data != nil {
			data.OnDataAvailable(r)
		}
	})

	msgs, stopSub, err := p.fabric.Subscribe(topic.dataChannel())
	if err != nil {
		r.abort()
		return nil, fmt.Errorf("create reader: subscribe: %w", err)
	}
	r.stopSub = stopSub

	peers, stopWatch, err := p.fabric.WatchPeers(topic.presenceChannel())
	if err != nil {
		r.stopSub()
		r.abort()
		return nil, fmt.Errorf("create reader: watch writers: %w", err)
	}
	r.stopWatch = stopWatch

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		for msg := range msgs {
			r.receive(msg)
		}
	}()
	go func() {
		defer r.wg.Done()
		for ev := range peers {
			status, changed := r.match.apply(ev)
			if !changed {
				continue
			}
			if match != nil {
				r.disp.post(func() { match.OnMatchedChanged(status) })
			}
			if status.CurrentCountChange < 0 && status.CurrentCount == 0 {
				r.enqueue(historyEntry{info: SampleInfo{
					InstanceState:      NotAliveNoWriters,
					ReceptionTimestamp: time.Now(),
					PublicationHandle:  ev.Peer,
				}}, false)
			}
		}
	}()

	p.mu.Lock()
	sub.readers[r] = struct{}{}
	p.mu.Unlock()

	r.log.Debug("reader created", "reliability", qos.Reliability.String(), "history_depth", qos.HistoryDepth)
	return r, nil
}

func (r *DataReader) abort() {
	r.disp.stop()
	r.sub.p.mu.Lock()
	r.topic.endpoints--
	r.sub.p.mu.Unlock()
}

func (r *DataReader) GUID() string  { return r.guid }
func (r *DataReader) Topic() *Topic { return r.topic }

func (r *DataReader) receive(msg network.Message) {
	env, err := decodeEnvelope(msg.Payload)
	if err != nil {
		r.log.Debug("dropping undecodable message", "from", msg.From, "error", err)
		r.mu.Lock()
		r.lost++
		r.mu.Unlock()
		return
	}
	r.enqueue(historyEntry{
		info: SampleInfo{
			ValidData:          true,
			InstanceState:      Alive,
			SourceTimestamp:    time.Unix(0, env.Stamp),
			ReceptionTimestamp: time.Now(),
			PublicationHandle:  env.Writer,
			SequenceNumber:     env.Seq,
		},
		payload: env.Payload,
	}, !env.Reliable)
}

// enqueue appends to the history. A best-effort reader, or a sample from a
// best-effort writer, is bounded by HistoryDepth and displaces the oldest.
func (r *DataReader) enqueue(e historyEntry, bestEffortWriter bool) {
	r.mu.Lock()
	bounded := r.qos.Reliability == BestEffort || bestEffortWriter
	if bounded && r.history.Length() >= r.qos.HistoryDepth {
		r.history.Remove()
		r.lost++
	}
	r.history.Add(e)
	r.mu.Unlock()
	r.disp.notifyData()
}

// TakeNextSample removes the oldest buffered sample, decoding its payload into
// dst when it carries one. It never blocks and returns ErrNoData when empty.
// A payload that does not decode is reported with ValidData false.
func (r *DataReader) TakeNextSample(dst any) (SampleInfo, error) {
	if r.deleted.Load() {
		return SampleInfo{}, ErrAlreadyDeleted
	}
	r.mu.Lock()
	if r.history.Length() == 0 {
		r.mu.Unlock()
		return SampleInfo{}, ErrNoData
	}
	e := r.history.Remove().(historyEntry)
	r.mu.Unlock()

	if !e.info.ValidData {
		return e.info, nil
	}
	if err := r.topic.ts.Unmarshal(e.payload, dst); err != nil {
		r.log.Debug("discarding malformed sample", "writer", e.info.PublicationHandle, "seq", e.info.SequenceNumber, "error", err)
		e.info.ValidData = false
	}
	return e.info, nil
}

// Unread returns the number of samples waiting to be taken.
func (r *DataReader) Unread() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.Length()
}

// SampleLostCount returns how many samples were displaced or undecodable.
func (r *DataReader) SampleLostCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lost
}

func (r *DataReader) MatchedStatus() MatchedStatus {
	return r.match.snapshot()
}

// Delete withdraws the reader. Delete waits for a running listener callback,
// so it must not be called from one.
func (r *DataReader) Delete() error {
	if !r.deleted.CompareAndSwap(false, true) {
		return nil
	}
	r.stopSub()
	r.stopWatch()
	r.wg.Wait()
	r.disp.stop()

	p := r.sub.p
	p.mu.Lock()
	delete(r.sub.readers, r)
	r.topic.endpoints--
	p.mu.Unlock()
	r.log.Debug("reader deleted")
	return nil
}
