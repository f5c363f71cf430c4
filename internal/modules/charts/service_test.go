package charts

import (
	"bytes"
	"testing"

	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func TestFrontierEnvelope(t *testing.T) {
	points := []optimization.FrontierPoint{
		{Volatility: 0.10, Return: 0.05},
		{Volatility: 0.11, Return: 0.07},
		{Volatility: 0.19, Return: 0.04},
		{Volatility: 0.30, Return: 0.12},
		{Volatility: 0.29, Return: 0.09},
	}

	env := FrontierEnvelope(points, 2)
	require.Len(t, env.Volatility, 2)
	assert.InDelta(t, 0.15, env.Volatility[0], 1e-12)
	assert.InDelta(t, 0.25, env.Volatility[1], 1e-12)
	assert.Equal(t, []float64{0.07, 0.12}, env.Return)
}

func TestFrontierEnvelope_EdgeCases(t *testing.T) {
	assert.Empty(t, FrontierEnvelope(nil, 10).Return)

	// Single asset: all points share one volatility
	same := []optimization.FrontierPoint{{Volatility: 0.2, Return: 0.1}, {Volatility: 0.2, Return: 0.1}}
	env := FrontierEnvelope(same, 10)
	assert.Equal(t, []float64{0.2}, env.Volatility)
	assert.Equal(t, []float64{0.1}, env.Return)

	// Gaps leave no empty buckets in the output
	gappy := []optimization.FrontierPoint{{Volatility: 0.0, Return: 0.01}, {Volatility: 1.0, Return: 0.2}}
	env = FrontierEnvelope(gappy, 0)
	assert.Len(t, env.Volatility, 2)
}

func TestAllocationPie(t *testing.T) {
	svc := NewService(zerolog.Nop())

	png, err := svc.AllocationPie(optimization.WeightVector{"AAPL": 0.6, "MSFT": 0.4, "DUST": 0.00001}, "Max Sharpe")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, pngMagic))

	_, err = svc.AllocationPie(optimization.WeightVector{"AAPL": 0}, "empty")
	assert.Error(t, err)
}

func TestFrontierChart(t *testing.T) {
	svc := NewService(zerolog.Nop())

	points := make([]optimization.FrontierPoint, 0, 200)
	for i := 0; i < 200; i++ {
		v := 0.1 + float64(i)*0.001
		points = append(points, optimization.FrontierPoint{Volatility: v, Return: 0.5 * v})
	}
	png, err := svc.FrontierChart(&optimization.FrontierResult{Trials: 200, Seed: 7, Points: points}, 20)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, pngMagic))

	_, err = svc.FrontierChart(&optimization.FrontierResult{}, 20)
	assert.Error(t, err)
}
