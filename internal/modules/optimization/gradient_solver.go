package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// GradientSolver maximizes the Sharpe ratio with gonum's BFGS, falling back to
// Nelder-Mead when the line search fails.
//
// Weights are parameterized as a softmax of unconstrained variables, so every iterate
// is fully invested and long-only without penalty terms. Pinned-at-zero assets can
// only be approached asymptotically; weights below zeroCutoff are snapped to zero.
type GradientSolver struct {
	maxIterations int
	zeroCutoff    float64
}

// NewGradientSolver creates a gradient-based solver
func NewGradientSolver(maxIterations int) *GradientSolver {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &GradientSolver{
		maxIterations: maxIterations,
		zeroCutoff:    1e-8,
	}
}

// Name implements Solver
func (s *GradientSolver) Name() string {
	return "gradient"
}

// MaxSharpe implements Solver
func (s *GradientSolver) MaxSharpe(excess []float64, sigma *mat.SymDense) (*Solution, error) {
	n := len(excess)

	hasPositive := false
	for _, a := range excess {
		if a > 0 {
			hasPositive = true
			break
		}
	}
	if !hasPositive {
		return nil, &InfeasibleError{Reason: "no asset has an expected return above the risk-free rate"}
	}

	w := make([]float64, n)
	sw := make([]float64, n)

	// Negative Sharpe of softmax(x)
	objective := func(x []float64) (float64, float64, float64) {
		softmax(w, x)
		var ret, variance float64
		for i := 0; i < n; i++ {
			ret += w[i] * excess[i]
			var row float64
			for j := 0; j < n; j++ {
				row += sigma.At(i, j) * w[j]
			}
			sw[i] = row
			variance += w[i] * row
		}
		vol := math.Sqrt(math.Max(variance, 1e-300))
		return -ret / vol, ret, vol
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			f, _, _ := objective(x)
			return f
		},
		Grad: func(grad, x []float64) {
			_, ret, vol := objective(x)
			// ∂f/∂w_i = -(a_i/σ - ret (Σw)_i / σ³)
			vol3 := vol * vol * vol
			var wg float64
			g := make([]float64, n)
			for i := 0; i < n; i++ {
				g[i] = -(excess[i]/vol - ret*sw[i]/vol3)
				wg += w[i] * g[i]
			}
			// Chain through the softmax Jacobian: diag(w) - wwᵀ
			for i := 0; i < n; i++ {
				grad[i] = w[i] * (g[i] - wg)
			}
		},
	}

	// Equal weights
	initial := make([]float64, n)
	settings := &optimize.Settings{
		MajorIterations:   s.maxIterations,
		GradientThreshold: 1e-10,
	}

	result, err := optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
	if err != nil || !converged(result.Status) {
		// Try Nelder-Mead as fallback
		fallback, fbErr := optimize.Minimize(problem, initial, &optimize.Settings{MajorIterations: s.maxIterations * 10}, &optimize.NelderMead{})
		if fbErr == nil || fallback != nil {
			result, err = fallback, fbErr
		}
	}
	if result == nil {
		return nil, &NonConvergenceError{Solver: s.Name(), Iterations: s.maxIterations, Status: fmt.Sprint(err)}
	}
	if !converged(result.Status) {
		return nil, &NonConvergenceError{
			Solver:     s.Name(),
			Iterations: result.Stats.MajorIterations,
			Status:     result.Status.String(),
		}
	}

	weights := make([]float64, n)
	softmax(weights, result.X)
	for i := range weights {
		if weights[i] < s.zeroCutoff {
			weights[i] = 0
		}
	}

	return &Solution{Weights: normalize(weights), Iterations: result.Stats.MajorIterations}, nil
}

func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence, optimize.MethodConverge:
		return true
	default:
		return false
	}
}

// softmax writes exp(x_i) / Σexp(x_j) into dst
func softmax(dst, x []float64) {
	maxX := math.Inf(-1)
	for _, v := range x {
		maxX = math.Max(maxX, v)
	}
	var sum float64
	for i, v := range x {
		dst[i] = math.Exp(v - maxX)
		sum += dst[i]
	}
	for i := range dst {
		dst[i] /= sum
	}
}
