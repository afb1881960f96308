// Package imu defines the inertial measurement sample exchanged on the
// session topic, its synthetic signal generator and its codec.
package imu

import (
	"fmt"
	"math"
	"time"
)

const (
	TypeName = "my_sensor_msgs::msg::Imu"
	FrameID  = "imu_link"

	// Gravity is the constant bias on the z acceleration axis.
	Gravity = 9.81

	// TickSeconds is the simulated time step per tick.
	TickSeconds = 0.01
)

type Time struct {
	Sec     int32  `msgpack:"sec"`
	Nanosec uint32 `msgpack:"nanosec"`
}

// Stamp splits t into whole seconds and nanoseconds within the second since
// the Unix epoch.
func Stamp(t time.Time) Time {
	return Time{Sec: int32(t.Unix()), Nanosec: uint32(t.Nanosecond())}
}

func (t Time) String() string {
	return fmt.Sprintf("%d.%09d", t.Sec, t.Nanosec)
}

type Header struct {
	Stamp   Time   `msgpack:"stamp"`
	FrameID string `msgpack:"frame_id"`
}

type Quaternion struct {
	X float64 `msgpack:"x"`
	Y float64 `msgpack:"y"`
	Z float64 `msgpack:"z"`
	W float64 `msgpack:"w"`
}

func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

func (q Quaternion) String() string {
	return fmt.Sprintf("(%g, %g, %g, %g)", q.X, q.Y, q.Z, q.W)
}

type Vector3 struct {
	X float64 `msgpack:"x"`
	Y float64 `msgpack:"y"`
	Z float64 `msgpack:"z"`
}

func (v Vector3) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

// Imu is one inertial reading.
type Imu struct {
	Header             Header     `msgpack:"header"`
	Orientation        Quaternion `msgpack:"orientation"`
	AngularVelocity    Vector3    `msgpack:"angular_velocity"`
	LinearAcceleration Vector3    `msgpack:"linear_acceleration"`
}

// Synthesize builds the reading for tick n stamped with now.
//
// The orientation is a rotation about z by angle = 0.1*sin(0.5t) encoded from
// the half angle, so it stays a unit quaternion for every t.
func Synthesize(n uint64, now time.Time, frameID string) Imu {
	t := float64(n) * TickSeconds
	angle := 0.1 * math.Sin(0.5*t)
	return Imu{
		Header: Header{Stamp: Stamp(now), FrameID: frameID},
		Orientation: Quaternion{
			Z: math.Sin(angle / 2),
			W: math.Cos(angle / 2),
		},
		AngularVelocity: Vector3{
			X: 0.01 * math.Sin(2*t),
			Y: 0.01 * math.Cos(2*t),
			Z: 0.05 * math.Cos(0.5*t),
		},
		LinearAcceleration: Vector3{
			X: 0.1 * math.Sin(t),
			Y: 0.1 * math.Cos(t),
			Z: Gravity + 0.05*math.Sin(3*t),
		},
	}
}
