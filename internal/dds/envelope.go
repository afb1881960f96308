package dds

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// envelope is what a writer puts on the fabric around each payload.
type envelope struct {
	Writer   string `msgpack:"w"`
	Seq      uint64 `msgpack:"s"`
	Reliable bool   `msgpack:"r"`
	Stamp    int64  `msgpack:"t"`
	Payload  []byte `msgpack:"p"`
}

func (e *envelope) marshal() ([]byte, error) {
	b, err := msgpack.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

func decodeEnvelope(b []byte) (envelope, error) {
	var e envelope
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Writer == "" {
		return envelope{}, fmt.Errorf("decode envelope: missing writer")
	}
	return e, nil
}
