package prototype

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/segeval/internal/tensor"
)

// twoClassSet has prototypes at (0, 0) and (4, 0).
func twoClassSet(t *testing.T, scales []float32) *Set {
	t.Helper()
	s, err := NewSet(2, 2, []float32{0, 0, 4, 0}, scales)
	require.NoError(t, err)
	return s
}

func embedding(t *testing.T, h, w int, xs, ys []float32) *tensor.Tensor {
	t.Helper()
	data := append(append([]float32{}, xs...), ys...)
	emb, err := tensor.FromData(1, 2, h, w, data)
	require.NoError(t, err)
	return emb
}

func TestPredictNearest(t *testing.T) {
	t.Parallel()
	set := twoClassSet(t, nil)
	emb := embedding(t, 1, 3, []float32{0.5, 3.9, 2}, []float32{0, 0, 0})

	pred, conf, err := Predict(emb, set, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 0}, pred.Data)
	assert.Greater(t, conf.Data[0], float32(0.9))
	assert.Greater(t, conf.Data[1], float32(0.9))
	// Equidistant pixel: tie goes to class 0 at probability one half.
	assert.InDelta(t, 0.5, conf.Data[2], 1e-6)
}

func TestPredictConfidenceIsSoftmaxOfNegatedDistances(t *testing.T) {
	t.Parallel()
	set := twoClassSet(t, nil)
	emb := embedding(t, 1, 1, []float32{1}, []float32{0})

	pred, conf, err := Predict(emb, set, false)
	require.NoError(t, err)
	require.Equal(t, int64(0), pred.Data[0])

	// Squared distances to (0, 0) and (4, 0) are 1 and 9.
	want := []float32{-1, -9}
	tensor.Softmax(want)
	assert.InDelta(t, want[0], conf.Data[0], 1e-6)
	assert.InDelta(t, 1/(1+math.Exp(-8)), conf.Data[0], 1e-6)
}

func TestPredictNonIsotropicUsesScales(t *testing.T) {
	t.Parallel()
	// Class 1 is broad (scale 4), class 0 is tight (scale 0.5).
	set := twoClassSet(t, []float32{0.5, 0.5, 4, 4})
	emb := embedding(t, 1, 1, []float32{1.5}, []float32{0})

	iso, _, err := Predict(emb, set, false)
	require.NoError(t, err)
	aniso, _, err := Predict(emb, set, true)
	require.NoError(t, err)
	assert.Equal(t, int64(0), iso.Data[0])
	assert.Equal(t, int64(1), aniso.Data[0])
}

func TestPredictDimMismatch(t *testing.T) {
	t.Parallel()
	set := twoClassSet(t, nil)
	emb := tensor.New(1, 3, 1, 1)
	_, _, err := Predict(emb, set, false)
	require.ErrorIs(t, err, ErrDimMismatch)

	_, _, err = Predict(emb, nil, false)
	require.ErrorIs(t, err, ErrEmptySet)
}

func TestNewSetValidation(t *testing.T) {
	t.Parallel()
	_, err := NewSet(2, 2, []float32{1, 2, 3}, nil)
	assert.Error(t, err)
	_, err = NewSet(1, 1, []float32{1}, []float32{0})
	assert.ErrorIs(t, err, ErrInvalidScale)
	_, err = NewSet(0, 4, nil, nil)
	assert.ErrorIs(t, err, ErrEmptySet)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "protos.safetensors")
	set := twoClassSet(t, []float32{1, 1, 2, 2})
	require.NoError(t, set.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, set.K, got.K)
	assert.Equal(t, set.D, got.D)
	assert.Equal(t, set.Vectors, got.Vectors)
	assert.Equal(t, set.Scales, got.Scales)
}
