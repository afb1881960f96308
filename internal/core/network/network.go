package network

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("network closed")

// Message is the transport envelope delivered to subscribers.
type Message struct {
	Topic   string
	From    string
	Payload []byte
}

type PeerEventType int

const (
	PeerJoin PeerEventType = iota
	PeerLeave
)

func (t PeerEventType) String() string {
	if t == PeerJoin {
		return "join"
	}
	return "leave"
}

// PeerEvent reports a remote node gaining or losing interest in a topic.
type PeerEvent struct {
	Type PeerEventType
	Peer string
}

// PubSub is the broadcast fabric the endpoint layer rides on.
//
// Subscribe and Announce both make the local node visible to peers watching
// the topic; Announce does it without receiving. WatchPeers never announces.
// Every returned cancel func is idempotent.
type PubSub interface {
	LocalID() string
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string) (<-chan Message, func(), error)
	Announce(topic string) (func(), error)
	WatchPeers(topic string) (<-chan PeerEvent, func(), error)
	Close() error
}
