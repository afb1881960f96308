// Package dds implements a small data-distribution layer over a gossip
// fabric: participants own publishers, subscribers and typed topics, and
// writers and readers rendezvous on a topic whose name and type name match
// exactly.
//
// Listener callbacks for one endpoint are delivered on a single goroutine and
// are never re-entered concurrently. They may run concurrently with any other
// goroutine of the application.
package dds

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrBadParameter       = errors.New("dds: bad parameter")
	ErrPreconditionNotMet = errors.New("dds: precondition not met")
	ErrAlreadyDeleted     = errors.New("dds: entity already deleted")
	ErrTypeNotRegistered  = errors.New("dds: type not registered")
	ErrNoData             = errors.New("dds: no data")
)

type Reliability int

const (
	BestEffort Reliability = iota
	Reliable
)

func (r Reliability) String() string {
	switch r {
	case BestEffort:
		return "best_effort"
	case Reliable:
		return "reliable"
	default:
		return fmt.Sprintf("reliability(%d)", int(r))
	}
}

// DefaultHistoryDepth bounds a best-effort reader's history.
const DefaultHistoryDepth = 64

type WriterQoS struct {
	Reliability Reliability
}

// ReaderQoS configures a reader. A reliable reader keeps every sample until
// taken; a best-effort reader keeps the most recent HistoryDepth samples.
type ReaderQoS struct {
	Reliability  Reliability
	HistoryDepth int
}

var (
	DefaultWriterQoS = WriterQoS{Reliability: Reliable}
	DefaultReaderQoS = ReaderQoS{Reliability: BestEffort, HistoryDepth: DefaultHistoryDepth}
)

// MatchedStatus describes the remote endpoints matched with a local one.
// TotalCount is cumulative; CurrentCount is the number matched right now.
type MatchedStatus struct {
	TotalCount         int
	TotalCountChange   int
	CurrentCount       int
	CurrentCountChange int
	LastPeer           string
}

type InstanceState int

const (
	Alive InstanceState = iota
	NotAliveNoWriters
)

func (s InstanceState) String() string {
	if s == Alive {
		return "alive"
	}
	return "not_alive_no_writers"
}

// SampleInfo accompanies every taken sample. When ValidData is false the
// sample carries no application payload and the destination is untouched.
type SampleInfo struct {
	ValidData          bool
	InstanceState      InstanceState
	SourceTimestamp    time.Time
	ReceptionTimestamp time.Time
	PublicationHandle  string
	SequenceNumber     uint64
}

// TypeSupport converts between application values and payload bytes for one
// registered type name.
type TypeSupport interface {
	TypeName() string
	Marshal(sample any) ([]byte, error)
	Unmarshal(data []byte, dst any) error
}

// MatchListener is told whenever a remote endpoint matches or unmatches.
type MatchListener interface {
	OnMatchedChanged(status MatchedStatus)
}

// DataListener is told when at least one new sample is waiting in a reader.
// Notifications are coalesced: one callback may cover many samples.
type DataListener interface {
	OnDataAvailable(r *DataReader)
}

func validName(s string) bool {
	return s != "" && !strings.ContainsAny(s, " \t\r\n@")
}

func dataChannel(domain int, topic, typeName string) string {
	return fmt.Sprintf("dds/%d/%s@%s", domain, topic, typeName)
}

func presenceChannel(domain int, topic, typeName string) string {
	return dataChannel(domain, topic, typeName) + "/writers"
}
