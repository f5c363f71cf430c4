package optimization

import (
	"fmt"
	"sort"
	"strings"
)

// InsufficientDataError is returned when too few assets or aligned observations remain
// to estimate statistics.
type InsufficientDataError struct {
	Reason       string
	Observations int               // Aligned return rows, when known
	Required     int               // Minimum rows or assets required
	Missing      map[string]string // Asset -> reason reported by the provider
}

func (e *InsufficientDataError) Error() string {
	if len(e.Missing) > 0 {
		assets := make([]string, 0, len(e.Missing))
		for a := range e.Missing {
			assets = append(assets, a)
		}
		sort.Strings(assets)
		return fmt.Sprintf("insufficient data: %s (missing: %s)", e.Reason, strings.Join(assets, ", "))
	}
	return fmt.Sprintf("insufficient data: %s", e.Reason)
}

// InfeasibleError is returned when the covariance matrix is degenerate or no portfolio
// satisfies the constraints with a positive excess return.
type InfeasibleError struct {
	Reason string
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("optimization infeasible: %s", e.Reason)
}

// NonConvergenceError is returned when a solver exhausts its iteration budget.
type NonConvergenceError struct {
	Solver     string
	Iterations int
	Status     string
}

func (e *NonConvergenceError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s solver did not converge after %d iterations: status=%s", e.Solver, e.Iterations, e.Status)
	}
	return fmt.Sprintf("%s solver did not converge after %d iterations", e.Solver, e.Iterations)
}

// InvalidDimensionError is returned when vector and matrix sizes disagree.
type InvalidDimensionError struct {
	What     string
	Expected int
	Got      int
}

func (e *InvalidDimensionError) Error() string {
	return fmt.Sprintf("invalid dimension for %s: expected %d, got %d", e.What, e.Expected, e.Got)
}

// ProviderError wraps a failure reported by the market data provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("market data provider %s failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
