package optimization

import (
	"fmt"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// StatisticsEstimator annualizes the mean and covariance of a return matrix.
type StatisticsEstimator struct {
	annualizationFactor float64
	log                 zerolog.Logger
}

// NewStatisticsEstimator creates an estimator. A non-positive factor selects 252.
func NewStatisticsEstimator(annualizationFactor float64, log zerolog.Logger) *StatisticsEstimator {
	if annualizationFactor <= 0 {
		annualizationFactor = DefaultAnnualizationFactor
	}
	return &StatisticsEstimator{
		annualizationFactor: annualizationFactor,
		log:                 log.With().Str("component", "estimator").Logger(),
	}
}

// AnnualizationFactor returns the periods-per-year multiplier in use
func (e *StatisticsEstimator) AnnualizationFactor() float64 {
	return e.annualizationFactor
}

// Estimate computes the annualized expected-return vector and covariance matrix.
//
// Expected returns are the arithmetic mean of period returns scaled linearly by the
// annualization factor (not compounded). Covariance uses the unbiased N-1 estimator.
// The covariance is held in a SymDense, so element (a,b) and (b,a) are the same stored
// value and symmetry is exact.
func (e *StatisticsEstimator) Estimate(returns *ReturnMatrix) (*Estimates, error) {
	rows := returns.Rows()
	if rows < 2 {
		return nil, &InsufficientDataError{
			Reason:       fmt.Sprintf("covariance needs at least 2 observations, got %d", rows),
			Observations: rows,
			Required:     2,
		}
	}

	_, n := returns.Data.Dims()
	if n != len(returns.Assets) {
		return nil, &InvalidDimensionError{What: "return matrix columns", Expected: len(returns.Assets), Got: n}
	}

	mu := make([]float64, n)
	col := make([]float64, rows)
	for j := 0; j < n; j++ {
		mat.Col(col, j, returns.Data)
		mu[j] = stat.Mean(col, nil) * e.annualizationFactor
	}

	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, returns.Data, nil)
	cov.ScaleSym(e.annualizationFactor, cov)

	est := &Estimates{
		Assets:          append([]string(nil), returns.Assets...),
		ExpectedReturns: mu,
		Covariance:      cov,
		Observations:    rows,
	}
	if len(returns.Dates) > 0 {
		est.Start = returns.Dates[0]
		est.End = returns.Dates[len(returns.Dates)-1]
	}

	e.log.Debug().
		Int("assets", n).
		Int("observations", rows).
		Float64("annualization", e.annualizationFactor).
		Msg("Estimated annualized statistics")

	return est, nil
}
