package tensor

import "fmt"

// Tensor is a dense NCHW float32 tensor.
//
// N, C, H and W are the batch, channel, height and width extents.  Data holds
// the values in row-major NCHW order, so the element (n, c, y, x) lives at
// ((n*C+c)*H+y)*W+x.
//
// Tensor does not perform any memory safety beyond the checks performed by
// Go's slice types; out-of-range indices will panic.
type Tensor struct {
	N, C, H, W int
	Data       []float32
}

// New allocates a zero initialised tensor with the given shape.
func New(n, c, h, w int) *Tensor {
	if n < 0 || c < 0 || h < 0 || w < 0 {
		panic("negative dimension for tensor")
	}
	return &Tensor{N: n, C: c, H: h, W: w, Data: make([]float32, n*c*h*w)}
}

// FromData wraps existing data.  It checks that the data length matches the
// shape.
func FromData(n, c, h, w int, data []float32) (*Tensor, error) {
	if n < 0 || c < 0 || h < 0 || w < 0 {
		return nil, errNegativeDim
	}
	if len(data) != n*c*h*w {
		return nil, fmt.Errorf("%w: %d values for shape [%d %d %d %d]", ErrShapeMismatch, len(data), n, c, h, w)
	}
	return &Tensor{N: n, C: c, H: h, W: w, Data: data}, nil
}

// Shape returns the extents as [N, C, H, W].
func (t *Tensor) Shape() [4]int { return [4]int{t.N, t.C, t.H, t.W} }

func (t *Tensor) index(n, c, y, x int) int {
	return ((n*t.C+c)*t.H+y)*t.W + x
}

// At returns the element at (n, c, y, x).
func (t *Tensor) At(n, c, y, x int) float32 { return t.Data[t.index(n, c, y, x)] }

// Set stores v at (n, c, y, x).
func (t *Tensor) Set(n, c, y, x int, v float32) { t.Data[t.index(n, c, y, x)] = v }

// Plane returns a view of the (n, c) spatial plane.
func (t *Tensor) Plane(n, c int) []float32 {
	start := t.index(n, c, 0, 0)
	return t.Data[start : start+t.H*t.W]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{N: t.N, C: t.C, H: t.H, W: t.W, Data: make([]float32, len(t.Data))}
	copy(out.Data, t.Data)
	return out
}

// Sample returns a copy of the i-th batch element as a tensor with N=1.
func (t *Tensor) Sample(i int) *Tensor {
	if i < 0 || i >= t.N {
		panic("sample index out of range")
	}
	size := t.C * t.H * t.W
	out := New(1, t.C, t.H, t.W)
	copy(out.Data, t.Data[i*size:(i+1)*size])
	return out
}

// Neg returns a copy with every element negated.
func (t *Tensor) Neg() *Tensor {
	out := t.Clone()
	for i, v := range out.Data {
		out.Data[i] = -v
	}
	return out
}

// Labels is a dense NHW int64 map of class indices.
type Labels struct {
	N, H, W int
	Data    []int64
}

// NewLabels allocates a zero initialised label map.
func NewLabels(n, h, w int) *Labels {
	if n < 0 || h < 0 || w < 0 {
		panic("negative dimension for labels")
	}
	return &Labels{N: n, H: h, W: w, Data: make([]int64, n*h*w)}
}

// LabelsFromData wraps existing data.  It checks that the data length matches
// the shape.
func LabelsFromData(n, h, w int, data []int64) (*Labels, error) {
	if n < 0 || h < 0 || w < 0 {
		return nil, errNegativeDim
	}
	if len(data) != n*h*w {
		return nil, fmt.Errorf("%w: %d labels for shape [%d %d %d]", ErrShapeMismatch, len(data), n, h, w)
	}
	return &Labels{N: n, H: h, W: w, Data: data}, nil
}

// At returns the label at (n, y, x).
func (l *Labels) At(n, y, x int) int64 { return l.Data[(n*l.H+y)*l.W+x] }

// Set stores v at (n, y, x).
func (l *Labels) Set(n, y, x int, v int64) { l.Data[(n*l.H+y)*l.W+x] = v }

// Clone returns a deep copy.
func (l *Labels) Clone() *Labels {
	out := &Labels{N: l.N, H: l.H, W: l.W, Data: make([]int64, len(l.Data))}
	copy(out.Data, l.Data)
	return out
}

// Sample returns a copy of the i-th batch element with N=1.
func (l *Labels) Sample(i int) *Labels {
	if i < 0 || i >= l.N {
		panic("sample index out of range")
	}
	size := l.H * l.W
	out := NewLabels(1, l.H, l.W)
	copy(out.Data, l.Data[i*size:(i+1)*size])
	return out
}

// SameSpatial reports whether t and l share batch and spatial extents.
func SameSpatial(t *Tensor, l *Labels) bool {
	return t.N == l.N && t.H == l.H && t.W == l.W
}
