package analysis

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// minIntervalSeparation is the minimum distance between peaks, in intervals.
	minIntervalSeparation = 5
	// prominenceScaleFactor scales the counts' standard deviation to form the
	// prominence requirement for peak finding.
	prominenceScaleFactor = 0.8
	// windowLength bounds the prominence search window, in intervals.
	windowLength = 50
	// minAngle is the angle below which peaks are ignored.
	minAngle = 10.0
	// neighborhoodIntervals is the minimum size, in intervals, of a segment
	// around a particular peak or set of peaks.
	neighborhoodIntervals = 100
)

// Peak is a candidate peak located by simple peak finding.
type Peak struct {
	Angle  float64
	Counts float64
}

// Segment is a stretch of the pattern containing one or more candidate peaks.
type Segment struct {
	Min   float64
	Max   float64
	Peaks []Peak
}

// FindPeakSegments locates candidate peaks in the pattern and groups them into
// discrete segments, each padded by half a neighborhood on both sides.
func FindPeakSegments(p *Pattern) ([]Segment, error) {
	intervalSize, err := p.IntervalSize()
	if err != nil {
		return nil, fmt.Errorf("cannot search for peaks: %w", err)
	}
	neighborhoodSize := neighborhoodIntervals * intervalSize

	peaks := findPeaks(p.Counts, prominenceScaleFactor*stat.StdDev(p.Counts, nil), windowLength, minIntervalSeparation)

	var allPeaks []Peak
	for _, i := range peaks {
		allPeaks = append(allPeaks, Peak{Angle: p.Angles[i], Counts: p.Counts[i]})
	}

	var segments []Segment
	done := make(map[float64]bool)
	for _, seed := range allPeaks {
		if seed.Angle < minAngle || done[seed.Angle] {
			continue
		}

		// Iteratively absorb peaks until the neighborhood stops growing
		inSeg := []Peak{seed}
		var lastInSeg []Peak
		for !samePeaks(inSeg, lastInSeg) {
			segMin := minPeakAngle(inSeg) - 0.5*neighborhoodSize
			segMax := maxPeakAngle(inSeg) + 0.5*neighborhoodSize
			lastInSeg = inSeg
			inSeg = nil
			for _, pk := range allPeaks {
				if pk.Angle >= segMin-0.5*neighborhoodSize && pk.Angle <= segMax+0.5*neighborhoodSize && pk.Angle >= minAngle {
					inSeg = append(inSeg, pk)
				}
			}
		}
		for _, pk := range inSeg {
			done[pk.Angle] = true
		}

		// Filter out smaller peaks too close to larger ones
		var filtered []Peak
		for _, pk := range inSeg {
			tallestNearby := true
			anyNearby := false
			for _, other := range inSeg {
				if other.Angle == pk.Angle {
					continue
				}
				if math.Abs(pk.Angle-other.Angle) < minIntervalSeparation*intervalSize {
					anyNearby = true
					if other.Counts > pk.Counts {
						tallestNearby = false
					}
				}
			}
			if !anyNearby || tallestNearby {
				filtered = append(filtered, pk)
			}
		}
		if len(filtered) == 0 {
			continue
		}

		segments = append(segments, Segment{
			Min:   minPeakAngle(filtered) - 0.5*neighborhoodSize,
			Max:   maxPeakAngle(filtered) + 0.5*neighborhoodSize,
			Peaks: filtered,
		})
	}
	return segments, nil
}

// findPeaks returns indexes of local maxima with at least the given prominence,
// measured within a window of wlen samples, keeping taller peaks when two fall
// within minDistance samples of each other.
func findPeaks(counts []float64, prominence float64, wlen, minDistance int) []int {
	var maxima []int
	for i := 1; i < len(counts)-1; i++ {
		if counts[i] > counts[i-1] && counts[i] >= counts[i+1] {
			maxima = append(maxima, i)
		}
	}

	// Keep maxima that are prominent enough within their window
	var prominent []int
	for _, i := range maxima {
		if peakProminence(counts, i, wlen) >= prominence {
			prominent = append(prominent, i)
		}
	}

	// Enforce the distance condition, tallest peaks first
	sort.Slice(prominent, func(a, b int) bool { return counts[prominent[a]] > counts[prominent[b]] })
	suppressed := make(map[int]bool)
	var kept []int
	for _, i := range prominent {
		if suppressed[i] {
			continue
		}
		kept = append(kept, i)
		for _, j := range prominent {
			if j != i && abs(j-i) < minDistance {
				suppressed[j] = true
			}
		}
	}
	sort.Ints(kept)
	return kept
}

// peakProminence measures how far a peak rises above the higher of the two
// valley floors on either side of it, searching at most wlen/2 samples away.
func peakProminence(counts []float64, peak, wlen int) float64 {
	lo := peak - wlen/2
	if lo < 0 {
		lo = 0
	}
	hi := peak + wlen/2
	if hi > len(counts)-1 {
		hi = len(counts) - 1
	}

	leftMin := counts[peak]
	for i := peak - 1; i >= lo; i-- {
		if counts[i] > counts[peak] {
			break
		}
		if counts[i] < leftMin {
			leftMin = counts[i]
		}
	}
	rightMin := counts[peak]
	for i := peak + 1; i <= hi; i++ {
		if counts[i] > counts[peak] {
			break
		}
		if counts[i] < rightMin {
			rightMin = counts[i]
		}
	}

	base := math.Max(leftMin, rightMin)
	return counts[peak] - base
}

func samePeaks(a, b []Peak) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func minPeakAngle(peaks []Peak) float64 {
	m := peaks[0].Angle
	for _, p := range peaks[1:] {
		if p.Angle < m {
			m = p.Angle
		}
	}
	return m
}

func maxPeakAngle(peaks []Peak) float64 {
	m := peaks[0].Angle
	for _, p := range peaks[1:] {
		if p.Angle > m {
			m = p.Angle
		}
	}
	return m
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
