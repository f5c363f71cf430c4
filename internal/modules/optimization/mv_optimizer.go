package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// MVOptimizer performs mean-variance portfolio optimization.
type MVOptimizer struct {
	solver Solver
	log    zerolog.Logger
}

// NewMVOptimizer creates a new mean-variance optimizer. A nil solver selects the
// active-set solver with the default iteration budget.
func NewMVOptimizer(solver Solver, log zerolog.Logger) *MVOptimizer {
	if solver == nil {
		solver = NewActiveSetSolver(DefaultMaxIterations)
	}
	return &MVOptimizer{
		solver: solver,
		log:    log.With().Str("component", "mv_optimizer").Logger(),
	}
}

// SolverName reports which solver backs the optimizer
func (mvo *MVOptimizer) SolverName() string {
	return mvo.solver.Name()
}

// Optimize finds the weights maximizing (wᵀμ - rf) / sqrt(wᵀΣw).
//
// Constraints:
//   - Σw = 1 (within WeightTolerance)
//   - 0 ≤ w_i ≤ 1
//
// A single asset is returned at full weight without invoking the solver.
func (mvo *MVOptimizer) Optimize(assets []string, mu []float64, sigma *mat.SymDense, riskFreeRate float64) (*Allocation, error) {
	n := len(assets)
	if n == 0 {
		return nil, &InvalidDimensionError{What: "assets", Expected: 1, Got: 0}
	}
	if len(mu) != n {
		return nil, &InvalidDimensionError{What: "expected returns", Expected: n, Got: len(mu)}
	}
	if n == 1 {
		return &Allocation{Assets: []string{assets[0]}, Weights: []float64{1.0}, Solver: "none"}, nil
	}
	if sigma == nil {
		return nil, &InvalidDimensionError{What: "covariance matrix", Expected: n, Got: 0}
	}
	if sigma.SymmetricDim() != n {
		return nil, &InvalidDimensionError{What: "covariance matrix", Expected: n, Got: sigma.SymmetricDim()}
	}
	if math.IsNaN(riskFreeRate) || math.IsInf(riskFreeRate, 0) {
		return nil, &InfeasibleError{Reason: "risk-free rate is not finite"}
	}

	if err := checkCovariance(sigma); err != nil {
		return nil, err
	}

	excess := make([]float64, n)
	for i, m := range mu {
		if math.IsNaN(m) || math.IsInf(m, 0) {
			return nil, &InfeasibleError{Reason: fmt.Sprintf("expected return for %s is not finite", assets[i])}
		}
		excess[i] = m - riskFreeRate
	}

	solution, err := mvo.solver.MaxSharpe(excess, sigma)
	if err != nil {
		mvo.log.Warn().
			Err(err).
			Str("solver", mvo.solver.Name()).
			Int("assets", n).
			Msg("Max-Sharpe optimization failed")
		return nil, err
	}

	weights, err := finalizeWeights(solution.Weights, n)
	if err != nil {
		return nil, err
	}

	mvo.log.Debug().
		Str("solver", mvo.solver.Name()).
		Int("assets", n).
		Int("iterations", solution.Iterations).
		Msg("Max-Sharpe optimization converged")

	return &Allocation{
		Assets:     append([]string(nil), assets...),
		Weights:    weights,
		Solver:     mvo.solver.Name(),
		Iterations: solution.Iterations,
	}, nil
}

// finalizeWeights clears rounding noise and verifies the constraint set
func finalizeWeights(raw []float64, n int) ([]float64, error) {
	if len(raw) != n {
		return nil, &InvalidDimensionError{What: "solver weights", Expected: n, Got: len(raw)}
	}
	for _, w := range raw {
		if math.IsNaN(w) || w < -1e-9 {
			return nil, &InfeasibleError{Reason: "solver returned weights outside the feasible region"}
		}
	}

	weights := normalize(raw)

	sum := 0.0
	for _, w := range weights {
		if w > 1+1e-9 {
			return nil, &InfeasibleError{Reason: "solver returned a weight above 1"}
		}
		sum += w
	}
	if math.Abs(sum-1) > WeightTolerance {
		return nil, &InfeasibleError{Reason: fmt.Sprintf("weights sum to %.9f", sum)}
	}
	return weights, nil
}

// covarianceRelTolerance is the smallest eigenvalue, relative to the largest, that still
// counts as non-singular
const covarianceRelTolerance = 1e-12

// checkCovariance rejects matrices that are not positive definite. Negative eigenvalues
// mean the matrix is not a covariance; a (numerically) zero eigenvalue means some
// combination of assets is riskless, which happens with duplicate or collinear assets
// or with fewer observations than assets.
func checkCovariance(sigma *mat.SymDense) error {
	n := sigma.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := sigma.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &InfeasibleError{Reason: "covariance matrix contains non-finite values"}
			}
		}
		if sigma.At(i, i) < 0 {
			return &InfeasibleError{Reason: "covariance matrix has a negative variance"}
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sigma, false); !ok {
		return &InfeasibleError{Reason: "eigen decomposition of covariance matrix failed"}
	}
	values := eig.Values(nil) // ascending
	minEig, maxEig := values[0], values[len(values)-1]

	if maxEig <= 0 {
		return &InfeasibleError{Reason: "covariance matrix is zero"}
	}
	if minEig < -covarianceRelTolerance*maxEig {
		return &InfeasibleError{Reason: fmt.Sprintf("covariance matrix is not positive semidefinite (min eigenvalue %.3g)", minEig)}
	}
	if minEig <= covarianceRelTolerance*maxEig {
		return &InfeasibleError{Reason: "covariance matrix is singular (degenerate or duplicate assets)"}
	}
	return nil
}
