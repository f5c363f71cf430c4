package optimization

import (
	"context"
	"math/rand/v2"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SamplingDistribution documents how random portfolios are drawn.
// Normalizing independent uniforms is not a uniform draw on the simplex: it
// under-samples concentrated portfolios and over-samples the centre. The cloud is
// meant to be read with that bias in mind.
const SamplingDistribution = "uniform[0,1) per asset, normalized by the sum"

// trialsPerChunk is the unit of work handed to a worker. Each chunk owns a random
// stream derived from (seed, chunk index), so the sample does not depend on how many
// workers run it.
const trialsPerChunk = 256

// FrontierSampler draws random long-only portfolios and evaluates their return and
// volatility.
type FrontierSampler struct {
	workers int
	log     zerolog.Logger
}

// NewFrontierSampler creates a sampler that runs at most workers chunks concurrently.
// Non-positive values select GOMAXPROCS.
func NewFrontierSampler(workers int, log zerolog.Logger) *FrontierSampler {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &FrontierSampler{
		workers: workers,
		log:     log.With().Str("component", "montecarlo").Logger(),
	}
}

// SampleRequest describes one Monte Carlo run
type SampleRequest struct {
	Assets          []string
	ExpectedReturns []float64
	Covariance      *mat.SymDense
	Trials          int
	Seed            uint64
}

func (r SampleRequest) validate() error {
	n := len(r.Assets)
	if n == 0 {
		return &InvalidDimensionError{What: "assets", Expected: 1, Got: 0}
	}
	if len(r.ExpectedReturns) != n {
		return &InvalidDimensionError{What: "expected returns", Expected: n, Got: len(r.ExpectedReturns)}
	}
	if r.Covariance == nil {
		return &InvalidDimensionError{What: "covariance matrix", Expected: n, Got: 0}
	}
	if d := r.Covariance.SymmetricDim(); d != n {
		return &InvalidDimensionError{What: "covariance matrix", Expected: n, Got: d}
	}
	if r.Trials <= 0 {
		return &InvalidDimensionError{What: "trial count", Expected: 1, Got: r.Trials}
	}
	return nil
}

// Sample returns Trials frontier points in trial order.
func (s *FrontierSampler) Sample(ctx context.Context, req SampleRequest) ([]FrontierPoint, error) {
	points := make([]FrontierPoint, 0, max(req.Trials, 0))
	err := s.Stream(ctx, req, func(_ int, batch []FrontierPoint) error {
		points = append(points, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// Stream evaluates the trials in waves of chunks and hands each chunk to emit in trial
// order. offset is the index of the first trial in batch. emit is never called
// concurrently; an error from emit stops the run.
func (s *FrontierSampler) Stream(ctx context.Context, req SampleRequest, emit func(offset int, batch []FrontierPoint) error) error {
	if err := req.validate(); err != nil {
		return err
	}

	chunks := (req.Trials + trialsPerChunk - 1) / trialsPerChunk
	wave := s.workers

	s.log.Debug().
		Int("assets", len(req.Assets)).
		Int("trials", req.Trials).
		Int("chunks", chunks).
		Int("workers", s.workers).
		Uint64("seed", req.Seed).
		Msg("Sampling frontier")

	for first := 0; first < chunks; first += wave {
		last := min(first+wave, chunks)
		results := make([][]FrontierPoint, last-first)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for c := first; c < last; c++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				start := c * trialsPerChunk
				count := min(trialsPerChunk, req.Trials-start)
				results[c-first] = sampleChunk(req, uint64(c), count)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for i, batch := range results {
			if err := emit((first+i)*trialsPerChunk, batch); err != nil {
				return err
			}
		}
	}
	return nil
}

// sampleChunk evaluates count trials with the random stream for chunk
func sampleChunk(req SampleRequest, chunk uint64, count int) []FrontierPoint {
	n := len(req.Assets)
	dist := distuv.Uniform{Min: 0, Max: 1, Src: rand.NewPCG(req.Seed, chunk)}

	out := make([]FrontierPoint, count)
	w := make([]float64, n)
	for t := 0; t < count; t++ {
		var sum float64
		// Redraw the all-zero vector; it has no direction to normalize
		for sum == 0 {
			for i := range w {
				w[i] = dist.Rand()
				sum += w[i]
			}
		}
		for i := range w {
			w[i] /= sum
		}
		ret, vol := portfolioStats(w, req.ExpectedReturns, req.Covariance)
		out[t] = FrontierPoint{Return: ret, Volatility: vol}
	}
	return out
}

// NewSeed draws a seed from the runtime's entropy-seeded generator.
// Seeds stay below 2^53 so JSON clients can echo them back exactly.
func NewSeed() uint64 {
	return rand.Uint64() >> 11
}
