package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultMaxIterations bounds every solver unless configured otherwise
const DefaultMaxIterations = 500

// Solver finds the long-only, fully invested portfolio with the highest Sharpe ratio.
//
// Implementations receive excess returns a = μ - rf that contain at least one positive
// entry and a covariance matrix already checked to be positive definite. They must be
// deterministic and report an exhausted iteration budget as *NonConvergenceError.
type Solver interface {
	Name() string
	MaxSharpe(excess []float64, sigma *mat.SymDense) (*Solution, error)
}

// Solution is raw solver output before normalization
type Solution struct {
	Weights    []float64
	Iterations int
}

// ActiveSetSolver solves the max-Sharpe problem as a convex quadratic program.
//
// With y = w / (aᵀw) the problem becomes
//
//	minimize   ½ yᵀΣy
//	subject to aᵀy = 1, y ≥ 0
//
// and w = y / Σy. A primal active-set method keeps a working set of assets pinned at
// zero, solves the equality-constrained subproblem on the free assets with a Cholesky
// factorization, and adds or releases one bound per iteration.
type ActiveSetSolver struct {
	maxIterations int
	tolerance     float64
}

// NewActiveSetSolver creates the default solver
func NewActiveSetSolver(maxIterations int) *ActiveSetSolver {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &ActiveSetSolver{
		maxIterations: maxIterations,
		tolerance:     1e-12,
	}
}

// Name implements Solver
func (s *ActiveSetSolver) Name() string {
	return "active-set"
}

// MaxSharpe implements Solver
func (s *ActiveSetSolver) MaxSharpe(excess []float64, sigma *mat.SymDense) (*Solution, error) {
	n := len(excess)

	// Start from the single asset with the largest excess return: y = e_k / a_k
	k := 0
	for i := 1; i < n; i++ {
		if excess[i] > excess[k] {
			k = i
		}
	}
	if !(excess[k] > 0) {
		return nil, &InfeasibleError{Reason: "no asset has an expected return above the risk-free rate"}
	}

	y := make([]float64, n)
	y[k] = 1 / excess[k]

	free := make([]bool, n)
	free[k] = true

	for iter := 1; iter <= s.maxIterations; iter++ {
		idx := freeIndices(free)

		target, lambda, err := solveEqualitySubproblem(idx, excess, sigma)
		if err != nil {
			return nil, err
		}

		// p = target - y on the free set
		step := make([]float64, len(idx))
		var stepNorm float64
		for t, i := range idx {
			step[t] = target[t] - y[i]
			stepNorm = math.Max(stepNorm, math.Abs(step[t]))
		}

		if stepNorm <= s.tolerance*math.Max(1, maxAbs(y)) {
			// Stationary on the current working set; check multipliers of the pinned assets.
			// ν_i = (Σy)_i - λ a_i must be non-negative for every i held at zero.
			grad := mulSym(sigma, y)
			release, worst := -1, -s.tolerance*math.Max(1, maxAbs(grad))
			for i := 0; i < n; i++ {
				if free[i] {
					continue
				}
				nu := grad[i] - lambda*excess[i]
				if nu < worst {
					release, worst = i, nu
				}
			}
			if release < 0 {
				return &Solution{Weights: normalize(y), Iterations: iter}, nil
			}
			free[release] = true
			continue
		}

		// Ratio test: largest step in [0,1] that keeps y ≥ 0
		alpha, blocking := 1.0, -1
		for t, i := range idx {
			if step[t] < 0 {
				ratio := -y[i] / step[t]
				if ratio < alpha {
					alpha, blocking = ratio, i
				}
			}
		}

		for t, i := range idx {
			y[i] += alpha * step[t]
		}
		if blocking >= 0 {
			y[blocking] = 0
			free[blocking] = false
		}
	}

	return nil, &NonConvergenceError{Solver: s.Name(), Iterations: s.maxIterations}
}

// solveEqualitySubproblem minimizes ½ y_FᵀΣ_FF y_F subject to a_Fᵀy_F = 1.
// The solution is y_F = λ Σ_FF⁻¹ a_F with λ = 1 / (a_Fᵀ Σ_FF⁻¹ a_F).
func solveEqualitySubproblem(idx []int, excess []float64, sigma *mat.SymDense) ([]float64, float64, error) {
	m := len(idx)
	sub := mat.NewSymDense(m, nil)
	rhs := mat.NewVecDense(m, nil)
	for r, i := range idx {
		rhs.SetVec(r, excess[i])
		for c := r; c < m; c++ {
			sub.SetSym(r, c, sigma.At(i, idx[c]))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sub); !ok {
		return nil, 0, &InfeasibleError{Reason: "covariance sub-matrix is not positive definite"}
	}

	var z mat.VecDense
	if err := chol.SolveVecTo(&z, rhs); err != nil {
		return nil, 0, &InfeasibleError{Reason: fmt.Sprintf("covariance sub-matrix is ill-conditioned: %v", err)}
	}

	denom := mat.Dot(rhs, &z)
	if !(denom > 0) {
		return nil, 0, &InfeasibleError{Reason: "free assets cannot reach a positive excess return"}
	}

	lambda := 1 / denom
	out := make([]float64, m)
	for r := range out {
		out[r] = lambda * z.AtVec(r)
	}
	return out, lambda, nil
}

func freeIndices(free []bool) []int {
	idx := make([]int, 0, len(free))
	for i, f := range free {
		if f {
			idx = append(idx, i)
		}
	}
	return idx
}

func mulSym(sigma mat.Symmetric, y []float64) []float64 {
	n := len(y)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			sum += sigma.At(i, j) * y[j]
		}
		out[i] = sum
	}
	return out
}

func maxAbs(v []float64) float64 {
	var m float64
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}

// normalize scales non-negative values to sum to one
func normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		if x > 0 {
			sum += x
		}
	}
	out := make([]float64, len(v))
	if sum == 0 {
		return out
	}
	for i, x := range v {
		if x > 0 {
			out[i] = x / sum
		}
	}
	return out
}
