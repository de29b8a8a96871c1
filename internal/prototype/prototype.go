// Package prototype classifies embedding maps by nearest class prototype.
package prototype

import (
	"errors"
	"fmt"

	"github.com/samcharles93/segeval/internal/safetensors"
	"github.com/samcharles93/segeval/internal/tensor"
)

const (
	// TensorPrototypes holds the [K, D] prototype matrix.
	TensorPrototypes = "prototypes"
	// TensorScales holds optional [K, D] per-dimension standard deviations.
	TensorScales = "scales"
)

var (
	ErrEmptySet     = errors.New("prototype: empty set")
	ErrDimMismatch  = errors.New("prototype: embedding dimension mismatch")
	ErrInvalidScale = errors.New("prototype: scales must be positive")
)

// Set is one representative embedding per class.  It is never mutated after
// construction.
type Set struct {
	K, D    int
	Vectors []float32 // [K*D]
	Scales  []float32 // [K*D], nil means unit scales
}

// NewSet validates and wraps prototype vectors.  scales may be nil.
func NewSet(k, d int, vectors, scales []float32) (*Set, error) {
	if k <= 0 || d <= 0 {
		return nil, ErrEmptySet
	}
	if len(vectors) != k*d {
		return nil, fmt.Errorf("prototype: %d values for %d x %d vectors", len(vectors), k, d)
	}
	if scales != nil {
		if len(scales) != k*d {
			return nil, fmt.Errorf("prototype: %d scales for %d x %d vectors", len(scales), k, d)
		}
		for _, s := range scales {
			if !(s > 0) {
				return nil, ErrInvalidScale
			}
		}
	}
	return &Set{K: k, D: d, Vectors: vectors, Scales: scales}, nil
}

// Vector returns the prototype of class k.
func (s *Set) Vector(k int) []float32 { return s.Vectors[k*s.D : (k+1)*s.D] }

func (s *Set) scale(k int) []float32 {
	if s.Scales == nil {
		return nil
	}
	return s.Scales[k*s.D : (k+1)*s.D]
}

// Load reads a prototype set from a safetensors file.
func Load(path string) (*Set, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prototypes: %w", err)
	}
	defer func() { _ = f.Close() }()

	vectors, info, err := f.ReadTensorF32(TensorPrototypes)
	if err != nil {
		return nil, fmt.Errorf("read prototypes: %w", err)
	}
	if len(info.Shape) != 2 {
		return nil, fmt.Errorf("prototypes: expected rank 2, got shape %v", info.Shape)
	}
	var scales []float32
	if _, ok := f.Tensor(TensorScales); ok {
		scales, _, err = f.ReadTensorF32(TensorScales)
		if err != nil {
			return nil, fmt.Errorf("read scales: %w", err)
		}
	}
	return NewSet(info.Shape[0], info.Shape[1], vectors, scales)
}

// Save writes the set to a safetensors file.
func (s *Set) Save(path string) error {
	w := safetensors.NewWriter()
	w.SetMetadata("classes", fmt.Sprint(s.K))
	if err := w.AddF32(TensorPrototypes, []int{s.K, s.D}, s.Vectors); err != nil {
		return err
	}
	if s.Scales != nil {
		if err := w.AddF32(TensorScales, []int{s.K, s.D}, s.Scales); err != nil {
			return err
		}
	}
	return w.WriteFile(path)
}

// Distance measures an embedding against a prototype.  scale is nil for
// unit scales.
type Distance func(e, p, scale []float32) float64

// Isotropic is the squared Euclidean distance.
func Isotropic(e, p, _ []float32) float64 {
	var sum float64
	for i := range e {
		d := float64(e[i] - p[i])
		sum += d * d
	}
	return sum
}

// NonIsotropic is the diagonal Mahalanobis distance: each dimension is
// divided by the prototype's own standard deviation.
func NonIsotropic(e, p, scale []float32) float64 {
	if scale == nil {
		return Isotropic(e, p, nil)
	}
	var sum float64
	for i := range e {
		d := float64(e[i]-p[i]) / float64(scale[i])
		sum += d * d
	}
	return sum
}

// DistanceFor selects the metric for the non-isotropic flag.
func DistanceFor(nonIsotropic bool) Distance {
	if nonIsotropic {
		return NonIsotropic
	}
	return Isotropic
}

// Predict assigns every pixel of emb (N, D, H, W) to its nearest prototype.
// Confidence is the softmax probability of the winning class over negative
// distances, so it lies in (0, 1].
func Predict(emb *tensor.Tensor, set *Set, nonIsotropic bool) (*tensor.Labels, *tensor.Tensor, error) {
	if set == nil || set.K == 0 {
		return nil, nil, ErrEmptySet
	}
	if emb.C != set.D {
		return nil, nil, fmt.Errorf("%w: embedding has %d channels, prototypes have %d", ErrDimMismatch, emb.C, set.D)
	}
	dist := DistanceFor(nonIsotropic)
	pred := tensor.NewLabels(emb.N, emb.H, emb.W)
	conf := tensor.New(emb.N, 1, emb.H, emb.W)

	hw := emb.H * emb.W
	vec := make([]float32, emb.C)
	logits := make([]float32, set.K)
	for n := 0; n < emb.N; n++ {
		for i := 0; i < hw; i++ {
			for c := 0; c < emb.C; c++ {
				vec[c] = emb.Data[(n*emb.C+c)*hw+i]
			}
			best := 0
			for k := 0; k < set.K; k++ {
				logits[k] = float32(-dist(vec, set.Vector(k), set.scale(k)))
				if logits[k] > logits[best] {
					best = k
				}
			}
			pred.Data[n*hw+i] = int64(best)
			tensor.Softmax(logits)
			conf.Data[n*hw+i] = logits[best]
		}
	}
	return pred, conf, nil
}
