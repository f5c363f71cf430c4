package optimization

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// DefaultAnnualizationFactor is the number of trading days per year
const DefaultAnnualizationFactor = 252.0

// DefaultTrials matches the size of the risk cloud the dashboard has always drawn
const DefaultTrials = 3000

// WeightTolerance bounds how far optimizer output may drift from a full investment
const WeightTolerance = 1e-6

// ReturnMatrix holds aligned simple returns: one row per date, one column per asset.
// It never contains missing values.
type ReturnMatrix struct {
	Assets []string
	Dates  []time.Time // Date of each return row (the later of the two prices)
	Data   *mat.Dense
}

// Rows returns the number of aligned observations
func (m *ReturnMatrix) Rows() int {
	if m == nil || m.Data == nil {
		return 0
	}
	r, _ := m.Data.Dims()
	return r
}

// Estimates are the annualized inputs to the optimizer and the sampler
type Estimates struct {
	Assets          []string
	ExpectedReturns []float64     // Ordered like Assets
	Covariance      *mat.SymDense // Ordered like Assets, exactly symmetric
	Observations    int
	Start           time.Time
	End             time.Time
}

// ReturnVector returns expected annualized returns keyed by asset
func (e *Estimates) ReturnVector() map[string]float64 {
	out := make(map[string]float64, len(e.Assets))
	for i, a := range e.Assets {
		out[a] = e.ExpectedReturns[i]
	}
	return out
}

// CovarianceMap returns the annualized covariance as a nested map keyed by asset
func (e *Estimates) CovarianceMap() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(e.Assets))
	for i, a := range e.Assets {
		row := make(map[string]float64, len(e.Assets))
		for j, b := range e.Assets {
			row[b] = e.Covariance.At(i, j)
		}
		out[a] = row
	}
	return out
}

// Volatilities returns the annualized standard deviation of each asset
func (e *Estimates) Volatilities() map[string]float64 {
	out := make(map[string]float64, len(e.Assets))
	for i, a := range e.Assets {
		out[a] = math.Sqrt(math.Max(e.Covariance.At(i, i), 0))
	}
	return out
}

// WeightVector maps asset to portfolio weight
type WeightVector map[string]float64

// Sum returns the total weight
func (w WeightVector) Sum() float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum
}

// Performance describes a portfolio under the estimated statistics
type Performance struct {
	ExpectedReturn float64 `json:"expected_return"`
	Volatility     float64 `json:"volatility"`
	Sharpe         float64 `json:"sharpe"`
}

// Allocation is the optimizer output for one request
type Allocation struct {
	Assets     []string
	Weights    []float64 // Ordered like Assets
	Solver     string
	Iterations int
}

// WeightVector returns the allocation keyed by asset
func (a *Allocation) WeightVector() WeightVector {
	out := make(WeightVector, len(a.Assets))
	for i, asset := range a.Assets {
		out[asset] = a.Weights[i]
	}
	return out
}

// OptimizationResult is returned by Service.Optimize
type OptimizationResult struct {
	ID           string       `json:"id"`
	Assets       []string     `json:"assets"`
	Lookback     string       `json:"lookback"`
	Weights      WeightVector `json:"weights"`
	CleanWeights WeightVector `json:"clean_weights"`
	Performance  *Performance `json:"performance,omitempty"`
	RiskFreeRate float64      `json:"risk_free_rate"`
	Solver       string       `json:"solver"`
	Iterations   int          `json:"iterations"`
	Observations int          `json:"observations"`
}

// FrontierPoint is the return and volatility of one sampled portfolio
type FrontierPoint struct {
	Return     float64 `json:"return"`
	Volatility float64 `json:"volatility"`
}

// FrontierResult is returned by Service.SimulateFrontier.
// Points are in trial order.
type FrontierResult struct {
	ID           string          `json:"id"`
	Assets       []string        `json:"assets"`
	Lookback     string          `json:"lookback"`
	Trials       int             `json:"trials"`
	Seed         uint64          `json:"seed"`
	Distribution string          `json:"distribution"`
	Points       []FrontierPoint `json:"-"`
}

// Returns and Volatilities split the cloud into parallel slices for plotting
func (r *FrontierResult) Returns() []float64 {
	out := make([]float64, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Return
	}
	return out
}

// Volatilities returns the volatility of each point in trial order
func (r *FrontierResult) Volatilities() []float64 {
	out := make([]float64, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Volatility
	}
	return out
}

// portfolioStats computes wᵀμ and sqrt(wᵀΣw)
func portfolioStats(w, mu []float64, sigma mat.Symmetric) (float64, float64) {
	n := len(w)
	var ret, variance float64
	for i := 0; i < n; i++ {
		ret += w[i] * mu[i]
		variance += w[i] * w[i] * sigma.At(i, i)
		for j := i + 1; j < n; j++ {
			variance += 2 * w[i] * w[j] * sigma.At(i, j)
		}
	}
	// Rounding can push a near-zero variance slightly negative
	if variance < 0 {
		variance = 0
	}
	return ret, math.Sqrt(variance)
}

// PortfolioPerformance evaluates weights against the estimates
func PortfolioPerformance(w []float64, est *Estimates, riskFreeRate float64) Performance {
	ret, vol := portfolioStats(w, est.ExpectedReturns, est.Covariance)
	perf := Performance{ExpectedReturn: ret, Volatility: vol}
	if vol > 0 {
		perf.Sharpe = (ret - riskFreeRate) / vol
	}
	return perf
}
