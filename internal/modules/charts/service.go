// Package charts renders allocation and frontier charts as PNG images.
package charts

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/rs/zerolog"
	"github.com/vicanso/go-charts/v2"
)

// DefaultEnvelopeBuckets is the number of volatility buckets on the frontier chart
const DefaultEnvelopeBuckets = 40

// Envelope is the upper edge of a sampled frontier: the best return seen in each
// volatility bucket. Volatility holds bucket midpoints in ascending order.
type Envelope struct {
	Volatility []float64 `json:"volatility"`
	Return     []float64 `json:"return"`
}

// Service renders charts
type Service struct {
	width  int
	height int
	log    zerolog.Logger
}

// NewService creates a new charts service
func NewService(log zerolog.Logger) *Service {
	return &Service{
		width:  900,
		height: 600,
		log:    log.With().Str("service", "charts").Logger(),
	}
}

// FrontierEnvelope buckets points by volatility and keeps the highest return per bucket.
// Empty buckets are skipped.
func FrontierEnvelope(points []optimization.FrontierPoint, buckets int) Envelope {
	if len(points) == 0 {
		return Envelope{}
	}
	if buckets <= 0 {
		buckets = DefaultEnvelopeBuckets
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		lo = math.Min(lo, p.Volatility)
		hi = math.Max(hi, p.Volatility)
	}

	width := (hi - lo) / float64(buckets)
	if width == 0 {
		best := math.Inf(-1)
		for _, p := range points {
			best = math.Max(best, p.Return)
		}
		return Envelope{Volatility: []float64{lo}, Return: []float64{best}}
	}

	best := make([]float64, buckets)
	seen := make([]bool, buckets)
	for _, p := range points {
		i := int((p.Volatility - lo) / width)
		if i >= buckets {
			i = buckets - 1
		}
		if !seen[i] || p.Return > best[i] {
			best[i] = p.Return
			seen[i] = true
		}
	}

	var env Envelope
	for i := range best {
		if !seen[i] {
			continue
		}
		env.Volatility = append(env.Volatility, lo+(float64(i)+0.5)*width)
		env.Return = append(env.Return, best[i])
	}
	return env
}

// AllocationPie renders the non-negligible weights as a pie chart
func (s *Service) AllocationPie(weights optimization.WeightVector, title string) ([]byte, error) {
	type slice struct {
		asset  string
		weight float64
	}
	slices := make([]slice, 0, len(weights))
	for asset, w := range weights {
		if w >= optimization.CleanWeightsCutoff {
			slices = append(slices, slice{asset, w})
		}
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("no positive weights to plot")
	}
	sort.Slice(slices, func(i, j int) bool {
		if slices[i].weight != slices[j].weight {
			return slices[i].weight > slices[j].weight
		}
		return slices[i].asset < slices[j].asset
	})

	values := make([]float64, len(slices))
	labels := make([]string, len(slices))
	for i, sl := range slices {
		values[i] = sl.weight * 100
		labels[i] = fmt.Sprintf("%s %.1f%%", sl.asset, sl.weight*100)
	}

	p, err := charts.PieRender(
		values,
		charts.TitleTextOptionFunc(title),
		charts.LegendOptionFunc(charts.LegendOption{
			Data: labels,
			Top:  charts.PositionBottom,
		}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(s.width),
		charts.HeightOptionFunc(s.height),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render allocation chart: %w", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode allocation chart: %w", err)
	}

	s.log.Debug().Int("slices", len(slices)).Int("bytes", len(buf)).Msg("Rendered allocation chart")
	return buf, nil
}

// FrontierChart renders the upper envelope of the sampled portfolios.
// Axes are in percent: annualized volatility against annualized return.
func (s *Service) FrontierChart(result *optimization.FrontierResult, buckets int) ([]byte, error) {
	env := FrontierEnvelope(result.Points, buckets)
	if len(env.Return) == 0 {
		return nil, fmt.Errorf("no frontier points to plot")
	}

	xLabels := make([]string, len(env.Volatility))
	values := make([]float64, len(env.Return))
	yMin, yMax := math.Inf(1), math.Inf(-1)
	for i := range env.Return {
		xLabels[i] = fmt.Sprintf("%.1f%%", env.Volatility[i]*100)
		values[i] = env.Return[i] * 100
		yMin = math.Min(yMin, values[i])
		yMax = math.Max(yMax, values[i])
	}
	padding := (yMax - yMin) * 0.1
	if padding == 0 {
		padding = 1
	}
	yMin -= padding
	yMax += padding

	splitNum := len(xLabels) / 8
	if splitNum < 1 {
		splitNum = 1
	}

	p, err := charts.LineRender(
		[][]float64{values},
		charts.TitleTextOptionFunc(fmt.Sprintf("Efficient frontier (%d portfolios, seed %d)", result.Trials, result.Seed)),
		charts.XAxisOptionFunc(charts.XAxisOption{
			Data:        xLabels,
			SplitNumber: splitNum,
			BoundaryGap: charts.FalseFlag(),
		}),
		charts.YAxisOptionFunc(charts.YAxisOption{
			Min:         &yMin,
			Max:         &yMax,
			DivideCount: 5,
		}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(s.width),
		charts.HeightOptionFunc(s.height),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render frontier chart: %w", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode frontier chart: %w", err)
	}

	s.log.Debug().Int("buckets", len(values)).Int("bytes", len(buf)).Msg("Rendered frontier chart")
	return buf, nil
}
