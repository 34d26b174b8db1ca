package ml

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// separable returns two classes split on feature 0 with noise features
func separable(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]int, n)
	for i := range x {
		signal := rng.Float64() * 100
		x[i] = []float64{signal, rng.Float64(), rng.Float64()}
		if signal > 50 {
			y[i] = 1
		}
	}
	return x, y
}

func TestRandomForest_SeparatesClasses(t *testing.T) {
	x, y := separable(400, 1)
	rf := NewRandomForest(ForestConfig{Trees: 25, Bootstrap: true, Seed: 42})
	require.NoError(t, rf.Fit(x, y, 2))

	testX, testY := separable(200, 2)
	correct := 0
	for i := range testX {
		pred, err := rf.Predict(testX[i])
		require.NoError(t, err)
		if pred == testY[i] {
			correct++
		}
	}
	assert.GreaterOrEqual(t, float64(correct)/float64(len(testX)), 0.95)
}

func TestRandomForest_Importances(t *testing.T) {
	x, y := separable(300, 3)
	rf := NewRandomForest(ForestConfig{Trees: 20, Bootstrap: true, Seed: 42})
	require.NoError(t, rf.Fit(x, y, 2))

	require.Len(t, rf.Importances, 3)
	sum := 0.0
	for _, v := range rf.Importances {
		assert.GreaterOrEqual(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, rf.Importances[0], rf.Importances[1])
	assert.Greater(t, rf.Importances[0], rf.Importances[2])
}

func TestRandomForest_ContributionsAreAdditive(t *testing.T) {
	x, y := separable(200, 4)
	rf := NewRandomForest(ForestConfig{Trees: 10, Bootstrap: true, Seed: 7})
	require.NoError(t, rf.Fit(x, y, 2))

	for _, sample := range x[:10] {
		proba, err := rf.PredictProba(sample)
		require.NoError(t, err)
		bias, contrib, err := rf.Contributions(sample)
		require.NoError(t, err)

		for k := range proba {
			total := bias[k]
			for f := range contrib {
				total += contrib[f][k]
			}
			assert.InDelta(t, proba[k], total, 1e-9)
		}
	}
}

func TestRandomForest_Deterministic(t *testing.T) {
	x, y := separable(150, 5)
	a := NewRandomForest(ForestConfig{Trees: 5, Bootstrap: true, Seed: 42})
	b := NewRandomForest(ForestConfig{Trees: 5, Bootstrap: true, Seed: 42})
	require.NoError(t, a.Fit(x, y, 2))
	require.NoError(t, b.Fit(x, y, 2))
	assert.Equal(t, a.Trees, b.Trees)
}

func TestRandomForest_SingleClassAndSerialize(t *testing.T) {
	x := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	y := []int{2, 2, 2}
	rf := NewRandomForest(ForestConfig{Trees: 3, Seed: 1})
	require.NoError(t, rf.Fit(x, y, 3))

	proba, err := rf.PredictProba([]float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1}, proba)
	assert.Equal(t, []float64{0, 0}, rf.Importances)

	data, err := json.Marshal(rf)
	require.NoError(t, err)
	var loaded RandomForest
	require.NoError(t, json.Unmarshal(data, &loaded))
	pred, err := loaded.Predict([]float64{9, 9})
	require.NoError(t, err)
	assert.Equal(t, 2, pred)
}

func TestRandomForest_Errors(t *testing.T) {
	rf := NewRandomForest(ForestConfig{Trees: 2})
	_, err := rf.Predict([]float64{1})
	assert.ErrorIs(t, err, ErrNotTrained)

	assert.Error(t, rf.Fit(nil, nil, 2))
	assert.Error(t, rf.Fit([][]float64{{1}}, []int{3}, 2))
	assert.Error(t, rf.Fit([][]float64{{1}, {1, 2}}, []int{0, 1}, 2))

	require.NoError(t, rf.Fit([][]float64{{1}, {2}}, []int{0, 1}, 2))
	_, err = rf.Predict([]float64{1, 2})
	assert.Error(t, err)
}

func TestGini(t *testing.T) {
	assert.InDelta(t, 0.5, giniOf([]float64{2, 2}, 4), 1e-12)
	assert.InDelta(t, 0.0, giniOf([]float64{0, 4}, 4), 1e-12)
	assert.False(t, math.IsNaN(giniOf([]float64{1, 0, 0}, 1)))
}
