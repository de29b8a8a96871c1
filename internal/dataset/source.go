package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samcharles93/segeval/internal/safetensors"
	"github.com/samcharles93/segeval/internal/tensor"
)

const (
	// TensorInput is the (C, H, W) input inside a sample file.
	TensorInput = "x"
	// TensorTarget is the (H, W) class map inside a sample file.
	TensorTarget = "y"
)

// Item is one decoded validation sample with a leading batch axis of 1.
type Item struct {
	Name string
	X    *tensor.Tensor
	Y    *tensor.Labels
}

// Source is random access over validation samples.
type Source interface {
	Len() int
	Sample(i int) (Item, error)
}

// SafetensorsSource reads one sample per *.safetensors file in a directory.
type SafetensorsSource struct {
	files []string
}

func NewSafetensorsSource(dir string) (*SafetensorsSource, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".safetensors") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .safetensors samples found in %s", dir)
	}
	sort.Strings(files)
	return &SafetensorsSource{files: files}, nil
}

func (s *SafetensorsSource) Len() int { return len(s.files) }

func (s *SafetensorsSource) Sample(i int) (Item, error) {
	path := s.files[i]
	f, err := safetensors.Open(path)
	if err != nil {
		return Item{}, err
	}
	defer func() { _ = f.Close() }()

	x, xi, err := f.ReadTensorF32(TensorInput)
	if err != nil {
		return Item{}, fmt.Errorf("%s: %w", path, err)
	}
	y, yi, err := f.ReadTensorI64(TensorTarget)
	if err != nil {
		return Item{}, fmt.Errorf("%s: %w", path, err)
	}
	xs := squeezeBatch(xi.Shape)
	ys := squeezeBatch(yi.Shape)
	if len(xs) != 3 || len(ys) != 2 {
		return Item{}, fmt.Errorf("%s: expected x (C,H,W) and y (H,W), got %v and %v", path, xi.Shape, yi.Shape)
	}
	xt, err := tensor.FromData(1, xs[0], xs[1], xs[2], x)
	if err != nil {
		return Item{}, fmt.Errorf("%s: %w", path, err)
	}
	yt, err := tensor.LabelsFromData(1, ys[0], ys[1], y)
	if err != nil {
		return Item{}, fmt.Errorf("%s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Item{Name: name, X: xt, Y: yt}, nil
}

func squeezeBatch(shape []int) []int {
	if len(shape) > 0 && shape[0] == 1 && (len(shape) == 4 || len(shape) == 3) {
		return shape[1:]
	}
	return shape
}

// WriteSample stores one sample in the format SafetensorsSource reads.
func WriteSample(path string, item Item) error {
	w := safetensors.NewWriter()
	if err := w.AddF32(TensorInput, []int{item.X.C, item.X.H, item.X.W}, item.X.Data[:item.X.C*item.X.H*item.X.W]); err != nil {
		return err
	}
	if err := w.AddI64(TensorTarget, []int{item.Y.H, item.Y.W}, item.Y.Data[:item.Y.H*item.Y.W]); err != nil {
		return err
	}
	return w.WriteFile(path)
}

// SliceSource serves in-memory items.
type SliceSource []Item

func (s SliceSource) Len() int { return len(s) }

func (s SliceSource) Sample(i int) (Item, error) { return s[i], nil }

// Open picks a source for dir: a directory of .safetensors samples, or the
// image layout of kind otherwise.
func Open(kind Kind, dir string, size int) (Source, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.safetensors"))
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return NewSafetensorsSource(dir)
	}
	return NewImageSource(kind, dir, size)
}
