package imu

import "fmt"

// Mean returns the arithmetic mean of the samples in iv (normalized against s).
func Mean(s Series, iv Interval) (Vec3, error) {
	n, err := s.Normalize(iv)
	if err != nil {
		return Vec3{}, err
	}
	return mean(s, n), nil
}

// mean assumes n is already normalized against s.
func mean(s Series, n Interval) Vec3 {
	var sum Vec3
	for i := n.StartIdx; i <= n.EndIdx; i++ {
		sum = sum.Add(s[i].Vec)
	}
	return sum.Scale(1 / float64(n.Len()))
}

// Variance returns the unbiased (n-1) per-axis variance of the samples in iv.
// Intervals with fewer than 2 samples are rejected with ErrDegenerateInterval.
func Variance(s Series, iv Interval) (Vec3, error) {
	n, err := s.Normalize(iv)
	if err != nil {
		return Vec3{}, err
	}
	if n.Len() < 2 {
		return Vec3{}, fmt.Errorf("%w: variance needs at least 2 samples, interval %v has %d",
			ErrDegenerateInterval, n, n.Len())
	}
	m := mean(s, n)
	var acc Vec3
	for i := n.StartIdx; i <= n.EndIdx; i++ {
		d := s[i].Vec.Sub(m)
		acc = acc.Add(Vec3{d.X * d.X, d.Y * d.Y, d.Z * d.Z})
	}
	return acc.Scale(1 / float64(n.Len()-1)), nil
}
