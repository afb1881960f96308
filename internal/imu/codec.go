package imu

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// TypeSupport hands Imu values to and from the transport.
type TypeSupport struct{}

func (TypeSupport) TypeName() string { return TypeName }

func (TypeSupport) Marshal(sample any) ([]byte, error) {
	var v *Imu
	switch s := sample.(type) {
	case *Imu:
		v = s
	case Imu:
		v = &s
	default:
		return nil, fmt.Errorf("imu: cannot marshal %T", sample)
	}
	if v == nil {
		return nil, fmt.Errorf("imu: nil sample")
	}
	return msgpack.Marshal(v)
}

func (TypeSupport) Unmarshal(data []byte, dst any) error {
	v, ok := dst.(*Imu)
	if !ok || v == nil {
		return fmt.Errorf("imu: cannot unmarshal into %T", dst)
	}
	var decoded Imu
	if err := msgpack.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("imu: %w", err)
	}
	*v = decoded
	return nil
}
