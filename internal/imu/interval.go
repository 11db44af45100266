// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "fmt"

// Interval is an inclusive index range [StartIdx, EndIdx] into a Series.
// It is a view: it means nothing without the series it indexes.
// StartTS/EndTS are filled by Normalize and are -1 when unknown.
type Interval struct {
	StartIdx int     `json:"start_idx"`
	EndIdx   int     `json:"end_idx"`
	StartTS  float64 `json:"start_ts"`
	EndTS    float64 `json:"end_ts"`
}

// NewInterval returns an interval without timestamps. Passing -1, -1 selects
// the whole series once normalized.
func NewInterval(start, end int) Interval {
	return Interval{StartIdx: start, EndIdx: end, StartTS: -1, EndTS: -1}
}

// Len returns the number of samples covered by the interval.
func (iv Interval) Len() int {
	if iv.EndIdx < iv.StartIdx {
		return 0
	}
	return iv.EndIdx - iv.StartIdx + 1
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%d, %d] (%.3fs - %.3fs)", iv.StartIdx, iv.EndIdx, iv.StartTS, iv.EndTS)
}

// Normalize clamps iv to the bounds of s: a negative start becomes 0, an end
// before the start or past the last sample becomes the last sample.
// Timestamps are taken from the series.
func (s Series) Normalize(iv Interval) (Interval, error) {
	if len(s) == 0 {
		return Interval{}, ErrEmptySeries
	}
	start, end := iv.StartIdx, iv.EndIdx
	if start < 0 {
		start = 0
	}
	if start > len(s)-1 {
		start = len(s) - 1
	}
	if end < start || end > len(s)-1 {
		end = len(s) - 1
	}
	return Interval{
		StartIdx: start,
		EndIdx:   end,
		StartTS:  s[start].Timestamp,
		EndTS:    s[end].Timestamp,
	}, nil
}

// InitialInterval returns the interval starting at the first sample and
// extending to the last sample whose timestamp lies within duration seconds
// of the first one.
func InitialInterval(s Series, duration float64) (Interval, error) {
	if len(s) == 0 {
		return Interval{}, ErrEmptySeries
	}
	end := s.IndexAtOrAfter(s[0].Timestamp+duration) - 1
	if end < len(s)-1 && s[end+1].Timestamp == s[0].Timestamp+duration {
		end++
	}
	if end < 0 {
		end = 0
	}
	return s.Normalize(Interval{StartIdx: 0, EndIdx: end})
}
