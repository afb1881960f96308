package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newLoopbackPubSub(t *testing.T) *Libp2pPubSub {
	t.Helper()
	p, err := NewLibp2pPubSub(context.Background(), Libp2pOptions{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestLibp2pAnnounceWatchAndDeliver(t *testing.T) {
	if testing.Short() {
		t.Skip("opens loopback sockets")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	writer := newLoopbackPubSub(t)
	reader := newLoopbackPubSub(t)

	msgs, stopSub, err := reader.Subscribe("dds/0/rt/imu@Imu")
	require.NoError(t, err)
	defer stopSub()
	peers, stopWatch, err := writer.WatchPeers("dds/0/rt/imu@Imu")
	require.NoError(t, err)
	defer stopWatch()

	require.NotEmpty(t, reader.ListenAddrs())
	require.NoError(t, writer.Connect(ctx, reader.ListenAddrs()[0]))

	select {
	case ev := <-peers:
		require.Equal(t, PeerJoin, ev.Type)
		require.Equal(t, reader.LocalID(), ev.Peer)
	case <-ctx.Done():
		t.Fatal("writer never saw the reader join")
	}
	require.Contains(t, writer.ConnectedPeers(), reader.LocalID())

	// Mesh formation is asynchronous; keep publishing until one arrives.
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		require.NoError(t, writer.Publish(ctx, "dds/0/rt/imu@Imu", []byte("hello")))
		select {
		case msg := <-msgs:
			require.Equal(t, []byte("hello"), msg.Payload)
			require.Equal(t, writer.LocalID(), msg.From)
			return
		case <-tick.C:
		case <-ctx.Done():
			t.Fatal("no message delivered")
		}
	}
}
