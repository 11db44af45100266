package app

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relabs-tech/inertial_calibration/internal/imu"
	"github.com/relabs-tech/inertial_calibration/internal/sensors"
)

// flakySource fails every other read, or always when broken is set.
type flakySource struct {
	n      int
	broken bool
}

func (f *flakySource) NextRaw() (imu.IMURaw, error) {
	f.n++
	if f.broken || f.n%2 == 0 {
		return imu.IMURaw{}, errors.New("spi timeout")
	}
	return imu.IMURaw{
		Source: "flaky",
		Time:   time.Unix(100, 0).Add(time.Duration(f.n) * time.Millisecond),
		Ax:     1, Ay: 2, Az: 3,
		Gx: -1, Gy: -2, Gz: -3,
	}, nil
}

func TestRecordUntilEOF(t *testing.T) {
	src, err := sensors.NewSimSource(sensors.DefaultSimConfig("left"))
	if err != nil {
		t.Fatal(err)
	}
	var acc, gyro bytes.Buffer
	n, err := (&Recorder{Source: src}).Record(context.Background(), &acc, &gyro)
	if err != nil {
		t.Fatal(err)
	}

	accS, err := imu.ReadASCII(&acc, imu.TimestampSec)
	if err != nil {
		t.Fatal(err)
	}
	gyroS, err := imu.ReadASCII(&gyro, imu.TimestampSec)
	if err != nil {
		t.Fatal(err)
	}
	if len(accS) != n || len(gyroS) != n {
		t.Fatalf("recorded %d samples, read back %d acc / %d gyro", n, len(accS), len(gyroS))
	}
	if accS[0].Timestamp != 0 || notClose(accS[n-1].Timestamp, float64(n-1)*0.01) {
		t.Errorf("timestamps: first %g, last %g", accS[0].Timestamp, accS[n-1].Timestamp)
	}
	if err := accS.CheckSorted(); err != nil {
		t.Error(err)
	}
}

func notClose(a, b float64) bool {
	d := a - b
	return d > 1e-6 || d < -1e-6
}

func TestRecordDuration(t *testing.T) {
	src, err := sensors.NewSimSource(sensors.DefaultSimConfig("left"))
	if err != nil {
		t.Fatal(err)
	}
	var acc, gyro bytes.Buffer
	n, err := (&Recorder{Source: src, Duration: 2 * time.Second}).Record(context.Background(), &acc, &gyro)
	if err != nil {
		t.Fatal(err)
	}
	if n != 200 {
		t.Errorf("recorded %d samples in 2s at 100 Hz", n)
	}
}

func TestRecordCancelled(t *testing.T) {
	src, err := sensors.NewSimSource(sensors.DefaultSimConfig("left"))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var acc, gyro bytes.Buffer
	for _, interval := range []time.Duration{0, time.Hour} {
		n, err := (&Recorder{Source: src, Interval: interval}).Record(ctx, &acc, &gyro)
		if err != nil || n != 0 {
			t.Errorf("interval %v: %d samples, err %v", interval, n, err)
		}
	}
}

func TestRecordReadErrors(t *testing.T) {
	var acc, gyro bytes.Buffer
	src := &flakySource{}
	n, err := (&Recorder{Source: src, Duration: 10 * time.Millisecond}).Record(context.Background(), &acc, &gyro)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("recorded %d samples, want 5", n)
	}

	n, err = (&Recorder{Source: &flakySource{broken: true}}).Record(context.Background(), &acc, &gyro)
	if err == nil || n != 0 {
		t.Errorf("broken source: %d samples, err %v", n, err)
	}
}
