package classify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andresmejia3/veritas/internal/store"
	"github.com/andresmejia3/veritas/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modelYAML(first float64, bias float64) string {
	ws := make([]string, types.LandmarkDim)
	for i := range ws {
		ws[i] = "0"
	}
	ws[0] = fmt.Sprint(first)
	return fmt.Sprintf("weights: [%s]\nbias: %v\n", strings.Join(ws, ", "), bias)
}

func TestLinearModel(t *testing.T) {
	m, err := ParseLinearModel([]byte(modelYAML(2, -1)))
	require.NoError(t, err)

	var vec types.LandmarkVector
	vec[0] = 1
	assert.Equal(t, 1.0, m.Decision(vec))
	assert.InDelta(t, 0.7310586, m.Probability(vec), 1e-6)

	p, err := m.Predict(context.Background(), vec)
	require.NoError(t, err)
	assert.Equal(t, types.Fake, p.Label)

	vec[0] = 0
	p, err = m.Predict(context.Background(), vec)
	require.NoError(t, err)
	assert.Equal(t, types.Real, p.Label)
	assert.Less(t, p.Probability, 0.5)
}

func TestLinearModelZeroDecisionIsFake(t *testing.T) {
	m, err := ParseLinearModel([]byte(modelYAML(0, 0)))
	require.NoError(t, err)
	p, err := m.Predict(context.Background(), types.LandmarkVector{})
	require.NoError(t, err)
	assert.Equal(t, types.Fake, p.Label)
	assert.Equal(t, 0.5, p.Probability)
}

func TestParseLinearModelErrors(t *testing.T) {
	_, err := ParseLinearModel([]byte("weights: [1, 2]\nbias: 0\n"))
	assert.ErrorContains(t, err, "want 136")

	_, err = ParseLinearModel([]byte("weights: {"))
	assert.Error(t, err)
}

func TestLoadLinearModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(modelYAML(1, 0.5)), 0o644))
	m, err := LoadLinearModel(path)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.Weights[0])
	assert.Equal(t, 0.5, m.Bias)

	_, err = LoadLinearModel(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

type fakeStore struct {
	neighbors []store.Neighbor
	err       error
	gotK      int
}

func (f *fakeStore) FindNearest(_ context.Context, _ types.LandmarkVector, k int) ([]store.Neighbor, error) {
	f.gotK = k
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.neighbors) {
		return f.neighbors[:k], nil
	}
	return f.neighbors, nil
}

func TestNeighborClassifier(t *testing.T) {
	tests := []struct {
		name  string
		nn    []store.Neighbor
		label types.Label
		prob  float64
	}{
		{
			name:  "closer fake outweighs two real",
			nn:    []store.Neighbor{{Label: types.Fake, Distance: 1}, {Label: types.Real, Distance: 4}, {Label: types.Real, Distance: 4}},
			label: types.Fake,
			prob:  1 / 1.5,
		},
		{
			name:  "tie goes to real",
			nn:    []store.Neighbor{{Label: types.Fake, Distance: 2}, {Label: types.Real, Distance: 2}},
			label: types.Real,
			prob:  0.5,
		},
		{
			name:  "exact match wins",
			nn:    []store.Neighbor{{Label: types.Real, Distance: 0}, {Label: types.Fake, Distance: 0.1}},
			label: types.Real,
			prob:  0,
		},
		{
			name:  "all fake",
			nn:    []store.Neighbor{{Label: types.Fake, Distance: 3}},
			label: types.Fake,
			prob:  1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &NeighborClassifier{Store: &fakeStore{neighbors: tc.nn}, K: 5}
			p, err := c.Predict(context.Background(), types.LandmarkVector{})
			require.NoError(t, err)
			assert.Equal(t, tc.label, p.Label)
			assert.InDelta(t, tc.prob, p.Probability, 1e-9)
		})
	}
}

func TestNeighborClassifierDefaultsAndErrors(t *testing.T) {
	fs := &fakeStore{}
	c := &NeighborClassifier{Store: fs}
	_, err := c.Predict(context.Background(), types.LandmarkVector{})
	assert.ErrorContains(t, err, "empty")
	assert.Equal(t, 5, fs.gotK)

	boom := errors.New("boom")
	c.Store = &fakeStore{err: boom}
	_, err = c.Predict(context.Background(), types.LandmarkVector{})
	assert.ErrorIs(t, err, boom)
}

func TestClassifyAndVerdict(t *testing.T) {
	m, err := ParseLinearModel([]byte(modelYAML(1, 0)))
	require.NoError(t, err)

	empty := types.ClipFeatures{}
	_, err = Classify(context.Background(), m, empty)
	assert.ErrorIs(t, err, ErrNoSignal)
	assert.Equal(t, UndeterminedVerdict, Verdict(empty, types.Prediction{Label: types.Fake}))

	vec := &types.LandmarkVector{}
	vec[0] = -3
	f := types.ClipFeatures{Vector: vec, FramesUsed: 2}
	p, err := Classify(context.Background(), m, f)
	require.NoError(t, err)
	assert.Equal(t, "Real", Verdict(f, p))
	assert.Equal(t, "Fake", Verdict(f, types.Prediction{Label: types.Fake}))
}
