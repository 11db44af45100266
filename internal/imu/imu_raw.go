package imu

import "time"

// IMURaw represents a single raw accel+gyro sample as read from the device.
type IMURaw struct {
	Source string    `json:"source"` // IMU name, e.g. "left"
	Time   time.Time `json:"time"`

	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`
}

// IMURawSource is anything that yields raw samples (hardware, replay, ...).
type IMURawSource interface {
	NextRaw() (IMURaw, error)
}

// Triads splits a raw sample into accelerometer and gyroscope triads stamped
// with the seconds elapsed since t0.
func (r IMURaw) Triads(t0 time.Time) (acc, gyro Triad) {
	ts := r.Time.Sub(t0).Seconds()
	acc = NewTriad(ts, float64(r.Ax), float64(r.Ay), float64(r.Az))
	gyro = NewTriad(ts, float64(r.Gx), float64(r.Gy), float64(r.Gz))
	return acc, gyro
}
