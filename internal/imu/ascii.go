package imu

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// TimestampUnit is the unit of the timestamp column of an ASCII recording.
type TimestampUnit int

const (
	TimestampSec TimestampUnit = iota
	TimestampMsec
	TimestampUsec
	TimestampNsec
)

// ParseTimestampUnit maps "s", "ms", "us" and "ns" to a TimestampUnit.
func ParseTimestampUnit(v string) (TimestampUnit, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "s", "sec":
		return TimestampSec, nil
	case "ms", "msec":
		return TimestampMsec, nil
	case "us", "usec":
		return TimestampUsec, nil
	case "ns", "nsec":
		return TimestampNsec, nil
	}
	return 0, fmt.Errorf("unknown timestamp unit %q (want s, ms, us or ns)", v)
}

func (u TimestampUnit) toSeconds() float64 {
	switch u {
	case TimestampMsec:
		return 1e-3
	case TimestampUsec:
		return 1e-6
	case TimestampNsec:
		return 1e-9
	default:
		return 1
	}
}

// ReadASCII parses one sample per line: "ts x y z". Fields may be separated by
// spaces, tabs, commas or semicolons. Empty lines and lines starting with '#'
// or '%' are skipped. Timestamps are converted to seconds.
func ReadASCII(r io.Reader, unit TimestampUnit) (Series, error) {
	scale := unit.toSeconds()
	var out Series

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "%") {
			continue
		}

		fields := strings.FieldsFunc(line, func(c rune) bool {
			return c == ' ' || c == '\t' || c == ',' || c == ';'
		})
		if len(fields) < 4 {
			return nil, fmt.Errorf("line %d: expected 4 fields (ts x y z), got %d", lineNum, len(fields))
		}

		var vals [4]float64
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid value %q: %w", lineNum, fields[i], err)
			}
			vals[i] = v
		}
		out = append(out, NewTriad(vals[0]*scale, vals[1], vals[2], vals[3]))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading samples: %w", err)
	}
	return out, nil
}

// LoadSeries reads an ASCII recording from path.
func LoadSeries(path string, unit TimestampUnit) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open samples file: %w", err)
	}
	defer f.Close()

	s, err := ReadASCII(f, unit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// WriteASCII writes s in the format read by ReadASCII, timestamps in seconds.
func WriteASCII(w io.Writer, s Series) error {
	bw := bufio.NewWriter(w)
	for _, t := range s {
		if err := WriteTriad(bw, t); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteTriad writes a single "ts x y z" line.
func WriteTriad(w io.Writer, t Triad) error {
	_, err := fmt.Fprintf(w, "%s %s %s %s\n",
		strconv.FormatFloat(t.Timestamp, 'f', 6, 64),
		strconv.FormatFloat(t.Vec.X, 'g', -1, 64),
		strconv.FormatFloat(t.Vec.Y, 'g', -1, 64),
		strconv.FormatFloat(t.Vec.Z, 'g', -1, 64))
	return err
}
