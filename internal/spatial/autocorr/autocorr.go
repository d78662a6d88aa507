// Package autocorr computes global spatial autocorrelation (Moran's I)
// over a station network.
package autocorr

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/okian/airwatch/internal/domain/model"
	"github.com/okian/airwatch/internal/spatial/weights"
)

// MinStations is the smallest network Moran's I is defined for. The
// variance approximation divides by (n-1)(n-2)(n-3), so results below five
// stations are indicative only.
const MinStations = 3

// Significance threshold for the pattern interpretation.
const significanceLevel = 0.05

// Interpretation strings are a textual contract consumed downstream;
// do not reword them.
const (
	InterpretationClustered = "Positive spatial autocorrelation - clustered pattern"
	InterpretationDispersed = "Negative spatial autocorrelation - dispersed pattern"
	InterpretationRandom    = "Random spatial pattern"
)

// Result is the global autocorrelation outcome.
type Result struct {
	I                float64
	ExpectedI        float64
	ZScore           float64
	PValue           float64
	Interpretation   string
	Significant      bool
	StationsAnalyzed int

	// Insufficient is set when fewer than MinStations stations were given.
	Insufficient bool
}

// Compute calculates Moran's I for the station values. A nil matrix is
// built with default knn weights.
func Compute(stations []model.Station, values []float64, m *weights.Matrix) (Result, error) {
	if len(stations) != len(values) {
		return Result{}, fmt.Errorf("station/value length mismatch: %d vs %d", len(stations), len(values))
	}
	if m != nil && m.Dim() != len(stations) {
		return Result{}, fmt.Errorf("weight matrix dimension %d does not match %d stations", m.Dim(), len(stations))
	}

	n := len(stations)
	if n < MinStations {
		return Result{StationsAnalyzed: n, Insufficient: true}, nil
	}
	if m == nil {
		m = weights.Build(stations)
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)

	// Demeaned value vector.
	dev := make([]float64, n)
	denominator := 0.0
	for i, v := range values {
		dev[i] = v - mean
		denominator += dev[i] * dev[i]
	}

	wSum := m.TotalSum()

	result := Result{
		ExpectedI:        -1.0 / float64(n-1),
		StationsAnalyzed: n,
	}

	// Constant values or an empty weight matrix carry no spatial signal.
	if denominator <= 0 || wSum <= 0 {
		result.PValue = 1
		result.Interpretation = InterpretationRandom
		return result, nil
	}

	// numerator = devᵀ · W · dev via a matrix-vector product.
	x := mat.NewVecDense(n, dev)
	wx := mat.NewVecDense(n, nil)
	wx.MulVec(m.Dense(), x)
	numerator := mat.Dot(x, wx)

	result.I = (float64(n) / wSum) * (numerator / denominator)

	// Simplified large-sample variance approximation; unstable for n<=4
	// and undefined at n=3, where the z-score falls back to 0.
	nf := float64(n)
	varDenominator := (nf - 1) * (nf - 2) * (nf - 3) * wSum * wSum
	if varDenominator > 0 {
		variance := (nf*nf - 3*nf + 3) / varDenominator
		if variance > 0 {
			result.ZScore = (result.I - result.ExpectedI) / math.Sqrt(variance)
		}
	}

	normal := distuv.Normal{Mu: 0, Sigma: 1}
	result.PValue = 2 * (1 - normal.CDF(math.Abs(result.ZScore)))
	result.Significant = result.PValue < significanceLevel

	switch {
	case result.I > result.ExpectedI && result.Significant:
		result.Interpretation = InterpretationClustered
	case result.I < result.ExpectedI && result.Significant:
		result.Interpretation = InterpretationDispersed
	default:
		result.Interpretation = InterpretationRandom
	}

	return result, nil
}
