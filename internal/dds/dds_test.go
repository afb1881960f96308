package dds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imu-pubsub/internal/core/network"
)

// textType carries *string samples as raw bytes and rejects payloads starting
// with '!' to simulate undecodable data.
type textType struct{ name string }

func (t textType) TypeName() string { return t.name }

func (t textType) Marshal(sample any) ([]byte, error) {
	s, ok := sample.(*string)
	if !ok {
		return nil, fmt.Errorf("unexpected sample %T", sample)
	}
	return []byte(*s), nil
}

func (t textType) Unmarshal(data []byte, dst any) error {
	s, ok := dst.(*string)
	if !ok {
		return fmt.Errorf("unexpected destination %T", dst)
	}
	if len(data) > 0 && data[0] == '!' {
		return errors.New("malformed")
	}
	*s = string(data)
	return nil
}

type recordingListener struct {
	mu       sync.Mutex
	statuses []MatchedStatus
	inside   atomic.Int32
	overlap  atomic.Bool
	dataHits atomic.Int32
}

func (l *recordingListener) enter() func() {
	if l.inside.Add(1) > 1 {
		l.overlap.Store(true)
	}
	return func() { l.inside.Add(-1) }
}

func (l *recordingListener) OnMatchedChanged(status MatchedStatus) {
	defer l.enter()()
	l.mu.Lock()
	l.statuses = append(l.statuses, status)
	l.mu.Unlock()
}

func (l *recordingListener) OnDataAvailable(*DataReader) {
	defer l.enter()()
	time.Sleep(time.Millisecond)
	l.dataHits.Add(1)
}

func (l *recordingListener) last() (MatchedStatus, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.statuses) == 0 {
		return MatchedStatus{}, 0
	}
	return l.statuses[len(l.statuses)-1], len(l.statuses)
}

type endpointSet struct {
	participant *Participant
	topic       *Topic
	publisher   *Publisher
	subscriber  *Subscriber
}

func newEndpointSet(t *testing.T, n *network.MemoryNetwork, name, topic, typeName string) endpointSet {
	t.Helper()
	p, err := NewParticipant(0, name, n.Node(name))
	require.NoError(t, err)
	require.NoError(t, p.RegisterType(textType{name: typeName}))
	tp, err := p.CreateTopic(topic, typeName)
	require.NoError(t, err)
	pub, err := p.CreatePublisher()
	require.NoError(t, err)
	sub, err := p.CreateSubscriber()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return endpointSet{participant: p, topic: tp, publisher: pub, subscriber: sub}
}

func write(t *testing.T, w *DataWriter, s string) {
	t.Helper()
	require.NoError(t, w.Write(context.Background(), &s))
}

func TestWriterAndReaderMatchAndUnmatch(t *testing.T) {
	n := network.NewMemoryNetwork()
	a := newEndpointSet(t, n, "pub", "rt/imu", "Imu")
	b := newEndpointSet(t, n, "sub", "rt/imu", "Imu")

	wl := &recordingListener{}
	rl := &recordingListener{}
	w, err := a.publisher.CreateDataWriter(a.topic, DefaultWriterQoS, wl)
	require.NoError(t, err)
	r, err := b.subscriber.CreateDataReader(b.topic, ReaderQoS{Reliability: Reliable}, rl, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ws, _ := wl.last()
		rs, _ := rl.last()
		return ws.CurrentCount == 1 && rs.CurrentCount == 1
	}, 2*time.Second, 5*time.Millisecond)

	ws, _ := wl.last()
	assert.Equal(t, 1, ws.TotalCount)
	assert.Equal(t, 1, ws.CurrentCountChange)
	assert.Equal(t, b.participant.NodeID(), ws.LastPeer)
	assert.Equal(t, MatchedStatus{TotalCount: 1, CurrentCount: 1, LastPeer: a.participant.NodeID()}, r.MatchedStatus())

	require.NoError(t, w.Delete())
	require.Eventually(t, func() bool {
		rs, _ := rl.last()
		return rs.CurrentCount == 0
	}, 2*time.Second, 5*time.Millisecond)
	rs, calls := rl.last()
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, rs.TotalCount)
	assert.Equal(t, -1, rs.CurrentCountChange)

	// The writer leaving leaves a lifecycle-only sample behind.
	require.Eventually(t, func() bool { return r.Unread() == 1 }, time.Second, 5*time.Millisecond)
	var got string
	info, err := r.TakeNextSample(&got)
	require.NoError(t, err)
	assert.False(t, info.ValidData)
	assert.Equal(t, NotAliveNoWriters, info.InstanceState)
	assert.Empty(t, got)
}

func TestMismatchedTypeNameDoesNotRendezvous(t *testing.T) {
	n := network.NewMemoryNetwork()
	a := newEndpointSet(t, n, "pub", "rt/imu", "Imu")
	b := newEndpointSet(t, n, "sub", "rt/imu", "Imu_v2")

	w, err := a.publisher.CreateDataWriter(a.topic, DefaultWriterQoS, nil)
	require.NoError(t, err)
	r, err := b.subscriber.CreateDataReader(b.topic, DefaultReaderQoS, nil, nil)
	require.NoError(t, err)

	write(t, w, "hello")
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, w.MatchedStatus().CurrentCount)
	assert.Zero(t, r.MatchedStatus().CurrentCount)
	assert.Zero(t, r.Unread())
}

func TestReliableReaderKeepsEverySample(t *testing.T) {
	n := network.NewMemoryNetwork()
	a := newEndpointSet(t, n, "pub", "rt/imu", "Imu")
	b := newEndpointSet(t, n, "sub", "rt/imu", "Imu")

	r, err := b.subscriber.CreateDataReader(b.topic, ReaderQoS{Reliability: Reliable, HistoryDepth: 2}, nil, nil)
	require.NoError(t, err)
	w, err := a.publisher.CreateDataWriter(a.topic, WriterQoS{Reliability: Reliable}, nil)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		write(t, w, fmt.Sprintf("s%d", i))
	}
	require.Eventually(t, func() bool { return r.Unread() == 50 }, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 50; i++ {
		var got string
		info, err := r.TakeNextSample(&got)
		require.NoError(t, err)
		require.True(t, info.ValidData)
		assert.Equal(t, fmt.Sprintf("s%d", i), got)
		assert.Equal(t, uint64(i+1), info.SequenceNumber)
		assert.Equal(t, w.GUID(), info.PublicationHandle)
	}
	var got string
	_, err = r.TakeNextSample(&got)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Zero(t, r.SampleLostCount())
}

func TestBestEffortEndBoundsHistory(t *testing.T) {
	cases := []struct {
		name   string
		reader Reliability
		writer Reliability
	}{
		{name: "best effort reader", reader: BestEffort, writer: Reliable},
		{name: "best effort writer", reader: Reliable, writer: BestEffort},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := network.NewMemoryNetwork()
			a := newEndpointSet(t, n, "pub", "rt/imu", "Imu")
			b := newEndpointSet(t, n, "sub", "rt/imu", "Imu")

			r, err := b.subscriber.CreateDataReader(b.topic, ReaderQoS{Reliability: tc.reader, HistoryDepth: 3}, nil, nil)
			require.NoError(t, err)
			w, err := a.publisher.CreateDataWriter(a.topic, WriterQoS{Reliability: tc.writer}, nil)
			require.NoError(t, err)

			for i := 0; i < 10; i++ {
				write(t, w, fmt.Sprintf("s%d", i))
			}
			require.Eventually(t, func() bool { return r.SampleLostCount() == 7 }, 2*time.Second, 5*time.Millisecond)
			assert.Equal(t, 3, r.Unread())

			var got string
			_, err = r.TakeNextSample(&got)
			require.NoError(t, err)
			assert.Equal(t, "s7", got)
		})
	}
}

func TestMalformedPayloadIsReportedInvalid(t *testing.T) {
	n := network.NewMemoryNetwork()
	a := newEndpointSet(t, n, "pub", "rt/imu", "Imu")
	b := newEndpointSet(t, n, "sub", "rt/imu", "Imu")

	r, err := b.subscriber.CreateDataReader(b.topic, ReaderQoS{Reliability: Reliable}, nil, nil)
	require.NoError(t, err)
	w, err := a.publisher.CreateDataWriter(a.topic, DefaultWriterQoS, nil)
	require.NoError(t, err)

	write(t, w, "!garbage")
	require.Eventually(t, func() bool { return r.Unread() == 1 }, time.Second, 5*time.Millisecond)

	got := "untouched"
	info, err := r.TakeNextSample(&got)
	require.NoError(t, err)
	assert.False(t, info.ValidData)
	assert.Equal(t, Alive, info.InstanceState)
}

func TestCallbacksAreSerializedPerEndpoint(t *testing.T) {
	n := network.NewMemoryNetwork()
	b := newEndpointSet(t, n, "sub", "rt/imu", "Imu")
	l := &recordingListener{}
	r, err := b.subscriber.CreateDataReader(b.topic, ReaderQoS{Reliability: Reliable}, l, l)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		a := newEndpointSet(t, n, fmt.Sprintf("pub%d", i), "rt/imu", "Imu")
		w, err := a.publisher.CreateDataWriter(a.topic, DefaultWriterQoS, nil)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s := "x"
				_ = w.Write(context.Background(), &s)
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		_, calls := l.last()
		return calls == 4 && r.Unread() == 200
	}, 2*time.Second, 5*time.Millisecond)
	assert.Positive(t, l.dataHits.Load())
	assert.False(t, l.overlap.Load(), "listener callbacks overlapped")
}

func TestDeletionEnforcesOwnership(t *testing.T) {
	n := network.NewMemoryNetwork()
	node := n.Node("p")
	p, err := NewParticipant(0, "p", node)
	require.NoError(t, err)
	require.NoError(t, p.RegisterType(textType{name: "Imu"}))

	_, err = p.CreateTopic("rt/imu", "Unknown")
	require.ErrorIs(t, err, ErrTypeNotRegistered)
	_, err = p.CreateTopic("bad topic", "Imu")
	require.ErrorIs(t, err, ErrBadParameter)

	tp, err := p.CreateTopic("rt/imu", "Imu")
	require.NoError(t, err)
	pub, err := p.CreatePublisher()
	require.NoError(t, err)
	w, err := pub.CreateDataWriter(tp, DefaultWriterQoS, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, tp.Delete(), ErrPreconditionNotMet)
	assert.ErrorIs(t, pub.Delete(), ErrPreconditionNotMet)
	assert.ErrorIs(t, p.Delete(), ErrPreconditionNotMet)

	require.NoError(t, w.Delete())
	require.NoError(t, w.Delete())
	assert.ErrorIs(t, w.Write(context.Background(), new(string)), ErrAlreadyDeleted)

	require.NoError(t, tp.Delete())
	require.NoError(t, pub.Delete())
	require.NoError(t, p.Delete())
	require.NoError(t, p.Delete())
	assert.True(t, node.Closed())

	_, err = p.CreatePublisher()
	assert.ErrorIs(t, err, ErrAlreadyDeleted)
}

func TestCloseReleasesContainedEntities(t *testing.T) {
	n := network.NewMemoryNetwork()
	node := n.Node("p")
	p, err := NewParticipant(0, "p", node)
	require.NoError(t, err)
	require.NoError(t, p.RegisterType(textType{name: "Imu"}))
	tp, err := p.CreateTopic("rt/imu", "Imu")
	require.NoError(t, err)
	sub, err := p.CreateSubscriber()
	require.NoError(t, err)
	r, err := sub.CreateDataReader(tp, DefaultReaderQoS, nil, nil)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, node.Closed())
	_, err = r.TakeNextSample(new(string))
	assert.ErrorIs(t, err, ErrAlreadyDeleted)
}

func TestTopicFromAnotherParticipantIsRejected(t *testing.T) {
	n := network.NewMemoryNetwork()
	a := newEndpointSet(t, n, "a", "rt/imu", "Imu")
	b := newEndpointSet(t, n, "b", "rt/imu", "Imu")

	_, err := a.publisher.CreateDataWriter(b.topic, DefaultWriterQoS, nil)
	assert.ErrorIs(t, err, ErrBadParameter)
	require.NoError(t, b.topic.Delete())
}
