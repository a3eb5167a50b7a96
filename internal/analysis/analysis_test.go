package analysis

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticPattern builds an evenly spaced pattern from a linear background
// plus pseudo-Voigt peaks, so the fit model can describe the data exactly.
func syntheticPattern(t *testing.T, slope, intercept float64, peaks []Peak) *Pattern {
	t.Helper()
	p := &Pattern{RawFileName: "synthetic.raw"}
	for angle := 5.0; angle <= 60.0; angle += 0.05 {
		y := slope*angle + intercept
		for _, pk := range peaks {
			y += pseudoVoigt(angle, pk.Counts, pk.Angle, 0.3, 0.5)
		}
		p.Angles = append(p.Angles, angle)
		p.Counts = append(p.Counts, y)
	}
	return p
}

func TestParsePattern(t *testing.T) {
	var b strings.Builder
	b.WriteString("some header\n")
	b.WriteString("exported from,sample_0042.raw\n")
	b.WriteString("10.0,1.5\n")
	b.WriteString("10.1,2.5\n")
	b.WriteString("10.2,3.5\n")

	p, err := ParsePattern([]byte(b.String()))
	require.NoError(t, err)
	assert.Equal(t, "sample_0042.raw", p.RawFileName)
	assert.Equal(t, []float64{10.0, 10.1, 10.2}, p.Angles)
	assert.Equal(t, []float64{1.5, 2.5, 3.5}, p.Counts)

	step, err := p.IntervalSize()
	require.NoError(t, err)
	assert.InDelta(t, 0.1, step, 1e-9)
}

func TestParsePattern_Rejects(t *testing.T) {
	_, err := ParsePattern([]byte("only one line\n"))
	assert.Error(t, err)

	_, err = ParsePattern([]byte("h1\nh2,raw\n10.0,1.0,extra\n"))
	assert.Error(t, err)

	_, err = ParsePattern([]byte("h1\nh2,raw\n"))
	assert.Error(t, err)
}

func TestIntervalSize_UnevenSpacing(t *testing.T) {
	p := &Pattern{Angles: []float64{1, 2, 4}, Counts: []float64{0, 0, 0}}
	_, err := p.IntervalSize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evenly spaced")
}

func TestFindPeakSegments(t *testing.T) {
	p := syntheticPattern(t, 0, 5, []Peak{
		{Angle: 20, Counts: 50},
		{Angle: 35, Counts: 80},
	})

	segments, err := FindPeakSegments(p)
	require.NoError(t, err)
	require.Len(t, segments, 2)

	require.Len(t, segments[0].Peaks, 1)
	assert.InDelta(t, 20, segments[0].Peaks[0].Angle, 0.1)
	assert.Less(t, segments[0].Min, 20.0)
	assert.Greater(t, segments[0].Max, 20.0)

	require.Len(t, segments[1].Peaks, 1)
	assert.InDelta(t, 35, segments[1].Peaks[0].Angle, 0.1)
}

func TestFindPeakSegments_IgnoresLowAnglePeaks(t *testing.T) {
	p := syntheticPattern(t, 0, 5, []Peak{
		{Angle: 7, Counts: 120}, // below the minimum angle
		{Angle: 35, Counts: 80},
	})

	segments, err := FindPeakSegments(p)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.InDelta(t, 35, segments[0].Peaks[0].Angle, 0.1)
}

func TestFindPeakSegments_NearbyPeaksShareASegment(t *testing.T) {
	p := syntheticPattern(t, 0, 5, []Peak{
		{Angle: 30, Counts: 70},
		{Angle: 31.5, Counts: 90},
	})

	segments, err := FindPeakSegments(p)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Len(t, segments[0].Peaks, 2)
}

func TestFitSegment_RecoversKnownPeak(t *testing.T) {
	p := syntheticPattern(t, -0.05, 12, []Peak{{Angle: 25, Counts: 60}})
	segments, err := FindPeakSegments(p)
	require.NoError(t, err)
	require.Len(t, segments, 1)

	result, err := FitSegment(p, segments[0])
	require.NoError(t, err)

	assert.True(t, result.Success, "fit MUST converge: %s", result.Message)
	assert.Greater(t, result.RSquared, 0.9)
	assert.Positive(t, result.NData)
	assert.Positive(t, result.NFev)

	require.Len(t, result.Peaks, 1)
	peak := result.Peaks[0]
	assert.InDelta(t, 25, peak.Center, 0.2)
	assert.InDelta(t, 0.3, peak.Sigma, 0.15)
	assert.InDelta(t, 2*peak.Sigma, peak.FWHM, 1e-9)
	assert.Greater(t, peak.Height, minPeakHeight)

	// The synthetic background should be recovered too
	assert.InDelta(t, -0.05, result.Background.Slope, 0.2)
	assert.InDelta(t, 12, result.Background.Intercept, 6)
}

func TestFitSegment_DropsImplausibleComponents(t *testing.T) {
	// One real peak plus a seeded candidate with nothing under it: the
	// validation loop should keep only the real component.
	p := syntheticPattern(t, 0, 5, []Peak{{Angle: 25, Counts: 60}})
	seg := Segment{
		Min: 20,
		Max: 30,
		Peaks: []Peak{
			{Angle: 25, Counts: 60},
			{Angle: 28, Counts: 1}, // far too small to clear the height cut
		},
	}

	result, err := FitSegment(p, seg)
	require.NoError(t, err)
	require.Len(t, result.Peaks, 1)
	assert.InDelta(t, 25, result.Peaks[0].Center, 0.2)
}

func TestFitSegment_EmptySegment(t *testing.T) {
	p := syntheticPattern(t, 0, 5, nil)
	_, err := FitSegment(p, Segment{Min: 100, Max: 110})
	assert.Error(t, err)
}

func TestPseudoVoigt_Shape(t *testing.T) {
	// Symmetric around the center, maximal at the center
	center := 25.0
	for _, dx := range []float64{0.1, 0.5, 1.0} {
		left := pseudoVoigt(center-dx, 50, center, 0.3, 0.5)
		right := pseudoVoigt(center+dx, 50, center, 0.3, 0.5)
		assert.InDelta(t, left, right, 1e-12, fmt.Sprintf("dx=%v", dx))
		assert.Less(t, left, pseudoVoigt(center, 50, center, 0.3, 0.5))
	}

	// Pure Gaussian and pure Lorentzian bracket the blend at the tails
	tail := pseudoVoigt(center+3, 50, center, 0.3, 0.5)
	gaussTail := pseudoVoigt(center+3, 50, center, 0.3, 0)
	lorentzTail := pseudoVoigt(center+3, 50, center, 0.3, 1)
	assert.Greater(t, tail, gaussTail)
	assert.Less(t, tail, lorentzTail)
}
