// Package analysis locates candidate peaks in background-subtracted XRD
// patterns and fits linear-background + pseudo-Voigt models to the segments
// that contain them.
package analysis

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Pattern is a background-subtracted XRD dataset: counts sampled at evenly
// spaced diffraction angles.
type Pattern struct {
	// RawFileName is the original raw file recorded in the second header line.
	RawFileName string
	Angles      []float64
	Counts      []float64
}

// ParsePattern reads an XRD CSV file: two header lines (the second ending in
// the raw file name) followed by angle,counts rows.
func ParsePattern(data []byte) (*Pattern, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !sc.Scan() {
		return nil, fmt.Errorf("XRD file is missing its header lines")
	}
	if !sc.Scan() {
		return nil, fmt.Errorf("XRD file is missing its second header line")
	}
	secondHeader := sc.Text()
	fields := strings.Split(secondHeader, ",")
	rawFileName := strings.TrimSpace(fields[len(fields)-1])

	p := &Pattern{RawFileName: rawFileName}
	line := 2
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		cols := strings.Split(text, ",")
		if len(cols) != 2 {
			return nil, fmt.Errorf("line %d: want angle,counts, got %q", line, text)
		}
		angle, err := strconv.ParseFloat(strings.TrimSpace(cols[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad angle: %w", line, err)
		}
		counts, err := strconv.ParseFloat(strings.TrimSpace(cols[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad counts: %w", line, err)
		}
		p.Angles = append(p.Angles, angle)
		p.Counts = append(p.Counts, counts)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(p.Angles) == 0 {
		return nil, fmt.Errorf("XRD file holds no datapoints")
	}
	return p, nil
}

// IntervalSize returns the spacing between consecutive angle measurements.
// Returns an error if the angles are not evenly spaced (allowing for rounding
// noise one decimal place below the data's precision).
func (p *Pattern) IntervalSize() (float64, error) {
	if len(p.Angles) < 2 {
		return 0, fmt.Errorf("need at least two datapoints to measure angle spacing")
	}
	first := p.Angles[1] - p.Angles[0]
	tolerance := math.Max(math.Abs(first)*1e-3, 1e-9)
	for i := 2; i < len(p.Angles); i++ {
		step := p.Angles[i] - p.Angles[i-1]
		if math.Abs(step-first) > tolerance {
			return 0, fmt.Errorf("angles are not all evenly spaced: found intervals %v and %v", first, step)
		}
	}
	return first, nil
}
