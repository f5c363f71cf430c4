package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanWeights(t *testing.T) {
	tests := []struct {
		name     string
		weights  WeightVector
		expected WeightVector
	}{
		{
			name:     "rounds to five places",
			weights:  WeightVector{"A": 1.0 / 3.0, "B": 2.0 / 3.0},
			expected: WeightVector{"A": 0.33333, "B": 0.66667},
		},
		{
			name:     "drops dust below cutoff and renormalizes",
			weights:  WeightVector{"A": 0.59996, "B": 0.4, "C": 0.00004},
			expected: WeightVector{"A": 0.59998, "B": 0.40002},
		},
		{
			name:     "residual goes to the largest weight",
			weights:  WeightVector{"A": 0.333333, "B": 0.333333, "C": 0.333334},
			expected: WeightVector{"A": 0.33333, "B": 0.33333, "C": 0.33334},
		},
		{
			// Cutoff-and-round alone would give A=0.5, B=0.49995 and a sum of 0.99995
			name:     "survivors are renormalized after the cutoff",
			weights:  WeightVector{"A": 0.5, "B": 0.49995, "C": 0.00005},
			expected: WeightVector{"A": 0.50003, "B": 0.49997},
		},
		{
			name:     "all zero stays zero",
			weights:  WeightVector{"A": 0, "B": 0},
			expected: WeightVector{"A": 0, "B": 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanWeights(tt.weights, CleanWeightsCutoff, CleanWeightsPlaces)
			for asset, want := range tt.expected {
				assert.InDelta(t, want, got[asset], 1e-12, asset)
			}
			for asset, w := range got {
				if _, ok := tt.expected[asset]; !ok {
					assert.Equal(t, 0.0, w, asset)
				}
			}
			if tt.weights.Sum() > 0 {
				assert.InDelta(t, 1.0, got.Sum(), 1e-9)
			}
		})
	}
}
