// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/relabs-tech/inertial_calibration/internal/imu"
)

// maxReadErrors is the number of consecutive failed reads after which a
// recording is aborted.
const maxReadErrors = 100

// Recorder copies raw samples from a source into accelerometer and gyroscope
// ASCII streams.
type Recorder struct {
	Source imu.IMURawSource
	// Interval paces the reads. Zero reads as fast as the source delivers,
	// which is how replayed or simulated sources are drained.
	Interval time.Duration
	// Duration stops the recording once the sample timestamps span it. Zero
	// records until the source ends or the context is cancelled.
	Duration time.Duration
	// LogEvery logs a progress line every n samples. Zero disables it.
	LogEvery int
}

// Record writes "ts x y z" lines to acc and gyro, timestamps in seconds since
// the first sample. It returns the number of samples written. A source
// returning io.EOF ends the recording without error.
func (r *Recorder) Record(ctx context.Context, acc, gyro io.Writer) (int, error) {
	var tick <-chan time.Time
	if r.Interval > 0 {
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var (
		t0     time.Time
		n      int
		failed int
	)
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return n, nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return n, nil
		}

		raw, err := r.Source.NextRaw()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			failed++
			log.Printf("record: read error: %v", err)
			if failed >= maxReadErrors {
				return n, fmt.Errorf("record: %d consecutive read errors: %w", failed, err)
			}
			continue
		}
		failed = 0

		if n == 0 {
			t0 = raw.Time
		}
		if r.Duration > 0 && raw.Time.Sub(t0) >= r.Duration {
			return n, nil
		}

		a, g := raw.Triads(t0)
		if err := imu.WriteTriad(acc, a); err != nil {
			return n, fmt.Errorf("record: write accelerometer: %w", err)
		}
		if err := imu.WriteTriad(gyro, g); err != nil {
			return n, fmt.Errorf("record: write gyroscope: %w", err)
		}
		n++

		if r.LogEvery > 0 && n%r.LogEvery == 0 {
			log.Printf("record: %s %d samples (%.1fs) | accel ax=%d ay=%d az=%d | gyro gx=%d gy=%d gz=%d",
				raw.Source, n, a.Timestamp, raw.Ax, raw.Ay, raw.Az, raw.Gx, raw.Gy, raw.Gz)
		}
	}
}

// RecordSession records into <imu>_acc.txt and <imu>_gyro.txt in dir and
// returns both paths.
func RecordSession(ctx context.Context, r *Recorder, dir, imuName string) (accPath, gyroPath string, err error) {
	accPath = filepath.Join(dir, imuName+"_acc.txt")
	gyroPath = filepath.Join(dir, imuName+"_gyro.txt")

	accFile, err := os.Create(accPath)
	if err != nil {
		return "", "", fmt.Errorf("record: %w", err)
	}
	defer accFile.Close()
	gyroFile, err := os.Create(gyroPath)
	if err != nil {
		return "", "", fmt.Errorf("record: %w", err)
	}
	defer gyroFile.Close()

	accW, gyroW := bufio.NewWriter(accFile), bufio.NewWriter(gyroFile)
	fmt.Fprintf(accW, "# %s accelerometer, raw counts, ts in seconds\n", imuName)
	fmt.Fprintf(gyroW, "# %s gyroscope, raw counts, ts in seconds\n", imuName)

	n, err := r.Record(ctx, accW, gyroW)
	if err != nil {
		return "", "", err
	}
	if err := accW.Flush(); err != nil {
		return "", "", fmt.Errorf("record: %w", err)
	}
	if err := gyroW.Flush(); err != nil {
		return "", "", fmt.Errorf("record: %w", err)
	}
	log.Printf("record: wrote %d samples to %s and %s", n, accPath, gyroPath)
	return accPath, gyroPath, nil
}
