package dds

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DataWriter publishes samples of its topic's type. Remote readers of the
// same topic are its matched endpoints.
type DataWriter struct {
	guid  string
	pub   *Publisher
	topic *Topic
	qos   WriterQoS
	log   *slog.Logger

	seq     atomic.Uint64
	match   *matchCounter
	disp    *dispatcher
	wg      sync.WaitGroup
	deleted atomic.Bool

	stopAnnounce func()
	stopWatch    func()
}

// CreateDataWriter creates a writer on topic. listener may be nil.
func (pub *Publisher) CreateDataWriter(topic *Topic, qos WriterQoS, listener MatchListener) (*DataWriter, error) {
	if topic == nil {
		return nil, fmt.Errorf("create writer: %w", ErrBadParameter)
	}
	p := pub.p
	p.mu.Lock()
	if pub.deleted {
		p.mu.Unlock()
		return nil, fmt.Errorf("create writer: publisher: %w", ErrAlreadyDeleted)
	}
	if err := topic.attachLocked(p); err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("create writer: %w", err)
	}
	p.mu.Unlock()

	w := &DataWriter{
		guid:  uuid.NewString(),
		pub:   pub,
		topic: topic,
		qos:   qos,
		match: newMatchCounter(),
		disp:  newDispatcher(nil),
	}
	w.log = p.log.With("writer", w.guid, "topic", topic.name)

	stopAnnounce, err := p.fabric.Announce(topic.presenceChannel())
	if err != nil {
		w.abort()
		return nil, fmt.Errorf("create writer: announce: %w", err)
	}
	w.stopAnnounce = stopAnnounce

	peers, stopWatch, err := p.fabric.WatchPeers(topic.dataChannel())
	if err != nil {
		w.stopAnnounce()
		w.abort()
		return nil, fmt.Errorf("create writer: watch readers: %w", err)
	}
	w.stopWatch = stopWatch

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for ev := range peers {
			status, changed := w.match.apply(ev)
			if !changed || listener == nil {
				continue
			}
			w.disp.post(func() { listener.OnMatchedChanged(status) })
		}
	}()

	p.mu.Lock()
	pub.writers[w] = struct{}{}
	p.mu.Unlock()

	w.log.Debug("writer created", "reliability", qos.Reliability.String())
	return w, nil
}

// abort undoes attachLocked for a writer that never became live.
func (w *DataWriter) abort() {
	w.disp.stop()
	w.pub.p.mu.Lock()
	w.topic.endpoints--
	w.pub.p.mu.Unlock()
}

func (w *DataWriter) GUID() string  { return w.guid }
func (w *DataWriter) Topic() *Topic { return w.topic }

// Write encodes sample with the topic's type support and sends it.
func (w *DataWriter) Write(ctx context.Context, sample any) error {
	if w.deleted.Load() {
		return ErrAlreadyDeleted
	}
	payload, err := w.topic.ts.Marshal(sample)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	env := envelope{
		Writer:   w.guid,
		Seq:      w.seq.Add(1),
		Reliable: w.qos.Reliability == Reliable,
		Stamp:    time.Now().UnixNano(),
		Payload:  payload,
	}
	b, err := env.marshal()
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.pub.p.fabric.Publish(ctx, w.topic.dataChannel(), b); err != nil {
		return fmt.Errorf("write: publish: %w", err)
	}
	return nil
}

func (w *DataWriter) MatchedStatus() MatchedStatus {
	return w.match.snapshot()
}

// Delete withdraws the writer. Matched readers observe it leaving. Delete
// waits for a running listener callback, so it must not be called from one.
func (w *DataWriter) Delete() error {
	if !w.deleted.CompareAndSwap(false, true) {
		return nil
	}
	w.stopAnnounce()
	w.stopWatch()
	w.wg.Wait()
	w.disp.stop()

	p := w.pub.p
	p.mu.Lock()
	delete(w.pub.writers, w)
	w.topic.endpoints--
	p.mu.Unlock()
	w.log.Debug("writer deleted")
	return nil
}
