package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConstraints(t *testing.T) {
	tests := []struct {
		n             int
		expectedLower float64
		expectedUpper float64
	}{
		{2, 0.15, 0.70},
		{5, 0.10, 0.28},
		{10, 0.05, 0.14},
	}

	for _, tt := range tests {
		c := DefaultConstraints(tt.n)
		require.Len(t, c.MinWeights, tt.n)
		require.Len(t, c.MaxWeights, tt.n)
		assert.InDelta(t, tt.expectedLower, c.MinWeights[0], 1e-12, "n=%d", tt.n)
		assert.InDelta(t, tt.expectedUpper, c.MaxWeights[0], 1e-12, "n=%d", tt.n)
		assert.NoError(t, c.Validate(tt.n))
		assert.True(t, c.FullInvestment)
		assert.True(t, c.LongOnly)
	}
}

func TestDefaultConstraints_SingleInstrument(t *testing.T) {
	c := DefaultConstraints(1)
	assert.Equal(t, 1.0, c.MinWeights[0])
	assert.Equal(t, 1.0, c.MaxWeights[0])
	assert.NoError(t, c.Validate(1))
}

func TestConstraintSet_Validate(t *testing.T) {
	tests := []struct {
		name    string
		c       ConstraintSet
		n       int
		wantErr bool
	}{
		{
			name: "valid",
			c: ConstraintSet{
				FullInvestment: true, LongOnly: true,
				MinWeights: []float64{0.1, 0.1},
				MaxWeights: []float64{0.9, 0.9},
			},
			n: 2,
		},
		{
			name: "min above max",
			c: ConstraintSet{
				MinWeights: []float64{0.8, 0.1},
				MaxWeights: []float64{0.5, 0.9},
			},
			n: 2, wantErr: true,
		},
		{
			name: "lower bounds sum above 1",
			c: ConstraintSet{
				FullInvestment: true,
				MinWeights:     []float64{0.6, 0.6},
				MaxWeights:     []float64{0.9, 0.9},
			},
			n: 2, wantErr: true,
		},
		{
			name: "upper bounds sum below 1",
			c: ConstraintSet{
				FullInvestment: true,
				MinWeights:     []float64{0.0, 0.0},
				MaxWeights:     []float64{0.4, 0.4},
			},
			n: 2, wantErr: true,
		},
		{
			name: "negative lower bound with long-only",
			c: ConstraintSet{
				LongOnly:   true,
				MinWeights: []float64{-0.1, 0.0},
				MaxWeights: []float64{0.9, 0.9},
			},
			n: 2, wantErr: true,
		},
		{
			name: "length mismatch",
			c: ConstraintSet{
				MinWeights: []float64{0.1},
				MaxWeights: []float64{0.9, 0.9},
			},
			n: 2, wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate(tt.n)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWidened(t *testing.T) {
	c := DefaultConstraints(2)
	wide := c.Widened()

	for i := range wide.MinWeights {
		assert.Less(t, wide.MinWeights[i], c.MinWeights[i])
		assert.Greater(t, wide.MaxWeights[i], c.MaxWeights[i])
		assert.LessOrEqual(t, wide.MaxWeights[i], 1.0)
	}
	assert.Greater(t, wide.BoundWidth(), c.BoundWidth())
	assert.NoError(t, wide.Validate(2))
}

func TestProjectToFeasible(t *testing.T) {
	c := ConstraintSet{
		MinWeights: []float64{0.1, 0.1, 0.1},
		MaxWeights: []float64{0.6, 0.6, 0.6},
	}

	tests := []struct {
		name  string
		input []float64
	}{
		{"already feasible", []float64{0.3, 0.3, 0.4}},
		{"violates upper bound", []float64{0.9, 0.05, 0.05}},
		{"sum far above 1", []float64{1.0, 1.0, 1.0}},
		{"sum far below 1", []float64{0.0, 0.0, 0.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := c.projectToFeasible(tt.input)

			sum := 0.0
			for i, v := range w {
				assert.GreaterOrEqual(t, v, c.MinWeights[i]-1e-9)
				assert.LessOrEqual(t, v, c.MaxWeights[i]+1e-9)
				sum += v
			}
			assert.InDelta(t, 1.0, sum, 1e-6)
		})
	}

	// The projection is the identity on interior points that already sum to 1.
	w := c.projectToFeasible([]float64{0.3, 0.3, 0.4})
	assert.InDelta(t, 0.3, w[0], 1e-6)
	assert.InDelta(t, 0.3, w[1], 1e-6)
	assert.InDelta(t, 0.4, w[2], 1e-6)
}

func TestBindingBounds(t *testing.T) {
	c := ConstraintSet{
		MinWeights: []float64{0.15, 0.15},
		MaxWeights: []float64{0.70, 0.70},
	}

	binding := c.BindingBounds([]string{"A", "B"}, []float64{0.70, 0.30})
	require.Len(t, binding, 1)
	assert.Equal(t, "A", binding[0].Symbol)
	assert.Equal(t, "upper", binding[0].Bound)
	assert.Equal(t, 0.70, binding[0].Limit)

	binding = c.BindingBounds([]string{"A", "B"}, []float64{0.15, 0.85})
	require.Len(t, binding, 1)
	assert.Equal(t, "lower", binding[0].Bound)

	// Interior solution: nothing binds.
	assert.Empty(t, c.BindingBounds([]string{"A", "B"}, []float64{0.4, 0.6}))
}

func TestNormalizeWeights(t *testing.T) {
	w := normalizeWeights([]float64{2, 3, 5})
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.InDelta(t, 0.2, w[0], 1e-12)

	// Non-positive mass passes through untouched.
	same := normalizeWeights([]float64{0, 0})
	assert.Equal(t, []float64{0, 0}, same)
}

func TestWeightsMapRoundTrip(t *testing.T) {
	symbols := []string{"A", "B", "C"}
	w := []float64{0.2, 0.5, 0.3}

	m := weightsToMap(symbols, w)
	back := weightsFromMap(symbols, m)

	for i := range w {
		assert.True(t, math.Abs(w[i]-back[i]) < 1e-15)
	}
}
