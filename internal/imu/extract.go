// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

// ExtractSamples builds the optimization input from the static intervals.
//
// Only intervals holding at least n samples qualify. In raw mode the first n
// samples of every qualifying interval are copied verbatim. With onlyMeans set,
// each qualifying interval contributes one synthetic sample: the mean of its
// first n samples, stamped with the timestamp of sample start+n/2-1.
//
// The second return value is the number of qualifying intervals.
func ExtractSamples(s Series, intervals []Interval, n int, onlyMeans bool) (Series, int) {
	if n < 1 {
		return nil, 0
	}
	valid := 0
	for _, iv := range intervals {
		if qualifies(s, iv, n) {
			valid++
		}
	}

	size := valid * n
	if onlyMeans {
		size = valid
	}
	out := make(Series, 0, size)

	for _, iv := range intervals {
		if !qualifies(s, iv, n) {
			continue
		}
		if onlyMeans {
			center := iv.StartIdx + n/2 - 1
			if center < iv.StartIdx {
				center = iv.StartIdx
			}
			m := mean(s, Interval{StartIdx: iv.StartIdx, EndIdx: iv.StartIdx + n - 1})
			out = append(out, Triad{Timestamp: s[center].Timestamp, Vec: m})
			continue
		}
		out = append(out, s[iv.StartIdx:iv.StartIdx+n]...)
	}
	return out, valid
}

func qualifies(s Series, iv Interval, n int) bool {
	if iv.StartIdx < 0 || iv.EndIdx >= len(s) {
		return false
	}
	return iv.Len() >= n
}
