package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

const (
	// minPeakHeight is the minimum height a fitted peak must reach to be kept.
	minPeakHeight = 10.0
	// maxSigmaScaleFactor caps peak sigma at this fraction of the segment width.
	maxSigmaScaleFactor = 0.7
	// minSigma is the narrowest peak sigma considered physical.
	minSigma = 0.02

	initSlope     = -0.01
	initIntercept = 0.0
	initSigma     = 0.05
	initFraction  = 0.5

	// paramsPerPeak is amplitude, center, sigma, fraction.
	paramsPerPeak = 4
	// validationPasses bounds the drop-and-refit loop.
	validationPasses = 10
)

// BackgroundFit holds the linear background parameters of a segment fit.
type BackgroundFit struct {
	InitSlope     float64
	InitIntercept float64

	Slope           float64
	Intercept       float64
	SlopeStderr     float64
	InterceptStderr float64
}

// FittedPeak holds one pseudo-Voigt component of a segment fit.
type FittedPeak struct {
	InitAmplitude float64
	InitCenter    float64
	InitSigma     float64
	InitFraction  float64

	Amplitude float64
	Center    float64
	Sigma     float64
	FWHM      float64
	Fraction  float64
	Height    float64

	AmplitudeStderr float64
	CenterStderr    float64
	SigmaStderr     float64
	FractionStderr  float64
}

// FitResult summarizes a model fit to one peak segment.
type FitResult struct {
	Method   string
	NData    int
	ChiSqr   float64
	RedChi   float64
	RSquared float64
	NFev     int
	Aborted  bool
	Success  bool
	Message  string

	Background BackgroundFit
	Peaks      []FittedPeak
}

// pseudoVoigt evaluates one pseudo-Voigt component: a (1-f) weighted Gaussian
// plus an f weighted Lorentzian sharing amplitude, center, and sigma, with
// FWHM = 2*sigma for both parts.
func pseudoVoigt(x, amplitude, center, sigma, fraction float64) float64 {
	sigma = math.Abs(sigma)
	if sigma == 0 {
		return 0
	}
	fraction = math.Min(math.Max(fraction, 0), 1)
	sigmaG := sigma / math.Sqrt(2*math.Ln2)
	dx := x - center
	gauss := (1 - fraction) * amplitude / (sigmaG * math.Sqrt(2*math.Pi)) * math.Exp(-dx*dx/(2*sigmaG*sigmaG))
	lorentz := fraction * amplitude / math.Pi * sigma / (dx*dx + sigma*sigma)
	return gauss + lorentz
}

// modelValue evaluates the full model (linear background + every peak) at x.
// Parameter layout: slope, intercept, then amplitude/center/sigma/fraction per
// peak.
func modelValue(params []float64, x float64) float64 {
	y := params[0]*x + params[1]
	for i := 2; i+paramsPerPeak <= len(params); i += paramsPerPeak {
		y += pseudoVoigt(x, params[i], params[i+1], math.Abs(params[i+2]), params[i+3])
	}
	return y
}

// FitSegment fits the linear-background + pseudo-Voigt model to the datapoints
// of a pattern within one segment. Fitted components that come out implausible
// (too short, too wide, outside the segment, or shadowed by a taller peak
// within one sigma) are dropped and the remaining model is refitted until the
// component set is stable.
func FitSegment(p *Pattern, seg Segment) (*FitResult, error) {
	var xs, ys []float64
	for i, angle := range p.Angles {
		if angle >= seg.Min && angle <= seg.Max {
			xs = append(xs, angle)
			ys = append(ys, p.Counts[i])
		}
	}
	if len(xs) == 0 {
		return nil, fmt.Errorf("segment [%v, %v] holds no datapoints", seg.Min, seg.Max)
	}
	segWidth := xs[len(xs)-1] - xs[0]

	peaks := append([]Peak(nil), seg.Peaks...)
	totalEvals := 0
	var fit *fitState

	for pass := 0; pass < validationPasses; pass++ {
		var err error
		fit, err = runFit(xs, ys, peaks)
		if err != nil {
			return nil, err
		}
		totalEvals += fit.nFev

		keep := validPeaks(fit, seg, segWidth)
		if len(keep) == len(peaks) {
			break
		}
		peaks = keep
	}

	result := fit.summarize(len(peaks))
	result.NFev = totalEvals
	return result, nil
}

// fitState carries one completed minimization over a fixed component set.
type fitState struct {
	xs, ys []float64
	peaks  []Peak
	params []float64
	stderr []float64
	sse    float64
	nFev   int
	status optimize.Status
	err    error
}

// runFit minimizes the sum of squared residuals for the given peak set.
func runFit(xs, ys []float64, peaks []Peak) (*fitState, error) {
	params := make([]float64, 2+paramsPerPeak*len(peaks))
	params[0] = initSlope
	params[1] = initIntercept
	for i, pk := range peaks {
		base := 2 + paramsPerPeak*i
		params[base] = pk.Counts
		params[base+1] = pk.Angle
		params[base+2] = initSigma
		params[base+3] = initFraction
	}

	sse := func(p []float64) float64 {
		var sum float64
		for i, x := range xs {
			r := ys[i] - modelValue(p, x)
			sum += r * r
		}
		return sum
	}

	problem := optimize.Problem{Func: sse}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{Absolute: 1e-8, Iterations: 500},
	}
	result, err := optimize.Minimize(problem, params, settings, &optimize.NelderMead{})

	state := &fitState{xs: xs, ys: ys, peaks: peaks, err: err}
	if result != nil {
		state.params = result.X
		state.sse = result.F
		state.nFev = result.FuncEvaluations
		state.status = result.Status
	} else {
		state.params = params
		state.sse = sse(params)
	}
	state.stderr = parameterStderrs(xs, ys, state.params, state.sse)
	return state, nil
}

// validPeaks applies the plausibility requirements to the fitted components.
func validPeaks(fit *fitState, seg Segment, segWidth float64) []Peak {
	type fitted struct {
		peak   Peak
		center float64
		sigma  float64
		height float64
	}
	all := make([]fitted, len(fit.peaks))
	for i, pk := range fit.peaks {
		base := 2 + paramsPerPeak*i
		amplitude := fit.params[base]
		center := fit.params[base+1]
		sigma := math.Abs(fit.params[base+2])
		fraction := fit.params[base+3]
		all[i] = fitted{
			peak:   pk,
			center: center,
			sigma:  sigma,
			height: pseudoVoigt(center, amplitude, center, sigma, fraction),
		}
	}

	var keep []Peak
	for i, f := range all {
		valid := true
		// drop anything within one sigma of another, taller peak
		for j, other := range all {
			if i == j {
				continue
			}
			if f.sigma > 0 && math.Abs(f.center-other.center)/f.sigma < 1 && f.height < other.height {
				valid = false
			}
		}
		if f.height < minPeakHeight ||
			f.center < seg.Min || f.center > seg.Max ||
			f.sigma > maxSigmaScaleFactor*segWidth ||
			f.sigma < minSigma {
			valid = false
		}
		if valid {
			keep = append(keep, f.peak)
		}
	}
	return keep
}

// summarize converts the final minimizer state into a FitResult.
func (f *fitState) summarize(nPeaks int) *FitResult {
	n := len(f.xs)
	nParams := 2 + paramsPerPeak*nPeaks
	redChi := f.sse
	if n > nParams {
		redChi = f.sse / float64(n-nParams)
	}

	var meanY float64
	for _, y := range f.ys {
		meanY += y
	}
	meanY /= float64(n)
	var tss float64
	for _, y := range f.ys {
		tss += (y - meanY) * (y - meanY)
	}
	rsq := 0.0
	if tss > 0 {
		rsq = 1 - f.sse/tss
	}

	success := f.err == nil && (f.status == optimize.FunctionConvergence || f.status == optimize.GradientThreshold || f.status == optimize.Success)
	message := "fit converged"
	if !success {
		if f.err != nil {
			message = f.err.Error()
		} else {
			message = f.status.String()
		}
	}

	result := &FitResult{
		Method:   "nelder-mead",
		NData:    n,
		ChiSqr:   f.sse,
		RedChi:   redChi,
		RSquared: rsq,
		Aborted:  f.status == optimize.Failure,
		Success:  success,
		Message:  message,
		Background: BackgroundFit{
			InitSlope:       initSlope,
			InitIntercept:   initIntercept,
			Slope:           f.params[0],
			Intercept:       f.params[1],
			SlopeStderr:     f.stderr[0],
			InterceptStderr: f.stderr[1],
		},
	}

	for i, pk := range f.peaks {
		base := 2 + paramsPerPeak*i
		amplitude := f.params[base]
		center := f.params[base+1]
		sigma := math.Abs(f.params[base+2])
		fraction := math.Min(math.Max(f.params[base+3], 0), 1)
		result.Peaks = append(result.Peaks, FittedPeak{
			InitAmplitude:   pk.Counts,
			InitCenter:      pk.Angle,
			InitSigma:       initSigma,
			InitFraction:    initFraction,
			Amplitude:       amplitude,
			Center:          center,
			Sigma:           sigma,
			FWHM:            2 * sigma,
			Fraction:        fraction,
			Height:          pseudoVoigt(center, amplitude, center, sigma, fraction),
			AmplitudeStderr: f.stderr[base],
			CenterStderr:    f.stderr[base+1],
			SigmaStderr:     f.stderr[base+2],
			FractionStderr:  f.stderr[base+3],
		})
	}
	return result
}

// parameterStderrs estimates parameter standard errors from the numerical
// Jacobian of the residuals at the solution: cov = s^2 (J^T J)^-1 with
// s^2 = SSE / (n - p). Returns zeros when the problem is degenerate.
func parameterStderrs(xs, ys, params []float64, sse float64) []float64 {
	n := len(xs)
	p := len(params)
	stderrs := make([]float64, p)
	if n <= p {
		return stderrs
	}

	jac := mat.NewDense(n, p, nil)
	for j := 0; j < p; j++ {
		h := 1e-6 * math.Max(math.Abs(params[j]), 1)
		plus := append([]float64(nil), params...)
		minus := append([]float64(nil), params...)
		plus[j] += h
		minus[j] -= h
		for i, x := range xs {
			// residual r_i = y_i - model(x_i); dr/dp by central difference
			d := ((ys[i] - modelValue(plus, x)) - (ys[i] - modelValue(minus, x))) / (2 * h)
			jac.Set(i, j, d)
		}
	}

	var jtj mat.Dense
	jtj.Mul(jac.T(), jac)
	var cov mat.Dense
	if err := cov.Inverse(&jtj); err != nil {
		return stderrs
	}

	s2 := sse / float64(n-p)
	for j := 0; j < p; j++ {
		v := cov.At(j, j) * s2
		if v > 0 {
			stderrs[j] = math.Sqrt(v)
		}
	}
	return stderrs
}
