package orientation

import (
	"math"

	"github.com/b3nn0/goflying/ahrs"
	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/inertial_calibration/internal/imu"
)

// Pose is a roll/pitch/yaw attitude in degrees, used for diagnostics.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
// Yaw is unobservable from gravity and is set to 0.
//
// Uses simple tilt formulas:
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
		Yaw:   0,
	}
}

// Orientation is a unit quaternion. Integrated over a motion interval it maps
// vectors expressed in the final body frame into the initial body frame.
type Orientation struct {
	q quat.Number
}

// Identity returns the null rotation.
func Identity() Orientation {
	return Orientation{q: quat.Number{Real: 1}}
}

// FromQuaternion builds a normalized orientation from its w, x, y, z components.
func FromQuaternion(w, x, y, z float64) Orientation {
	return Orientation{q: normalize(quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z})}
}

// FromAxisAngle returns the rotation of angle radians about axis.
func FromAxisAngle(axis imu.Vec3, angle float64) Orientation {
	u := axis.Normalized()
	s, c := math.Sincos(angle / 2)
	return Orientation{q: quat.Number{Real: c, Imag: s * u.X, Jmag: s * u.Y, Kmag: s * u.Z}}
}

// Components returns w, x, y, z.
func (o Orientation) Components() (w, x, y, z float64) {
	return o.q.Real, o.q.Imag, o.q.Jmag, o.q.Kmag
}

// Mul composes o followed by p (o ⊗ p).
func (o Orientation) Mul(p Orientation) Orientation {
	return Orientation{q: normalize(quat.Mul(o.q, p.q))}
}

// Inverse returns the opposite rotation.
func (o Orientation) Inverse() Orientation {
	return Orientation{q: quat.Conj(o.q)}
}

// Rotate applies the rotation to v (q v q*).
func (o Orientation) Rotate(v imu.Vec3) imu.Vec3 {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(o.q, p), quat.Conj(o.q))
	return imu.Vec3{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Angle returns the rotation angle in radians, in [0, π].
func (o Orientation) Angle() float64 {
	w := math.Abs(o.q.Real)
	if w > 1 {
		w = 1
	}
	return 2 * math.Acos(w)
}

// Euler returns the goflying Tait-Bryan angles of the rotation in degrees.
func (o Orientation) Euler() Pose {
	phi, theta, psi := ahrs.FromQuaternion(o.q.Real, o.q.Imag, o.q.Jmag, o.q.Kmag)
	return Pose{Roll: phi / ahrs.Deg, Pitch: theta / ahrs.Deg, Yaw: psi / ahrs.Deg}
}

func normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}
