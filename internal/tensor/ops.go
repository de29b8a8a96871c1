package tensor

import (
	"fmt"
	"math"
	"slices"
)

// ArgmaxChannels reduces over the channel axis.  It returns, for every
// (n, y, x), the index of the largest channel value and that value.  Ties
// resolve to the lowest channel index.
func ArgmaxChannels(t *Tensor) (*Labels, *Tensor) {
	if t.C == 0 {
		panic("argmax over empty channel axis")
	}
	pred := NewLabels(t.N, t.H, t.W)
	conf := New(t.N, 1, t.H, t.W)
	hw := t.H * t.W
	for n := 0; n < t.N; n++ {
		best := conf.Plane(n, 0)
		copy(best, t.Plane(n, 0))
		idx := pred.Data[n*hw : (n+1)*hw]
		for c := 1; c < t.C; c++ {
			plane := t.Plane(n, c)
			for i, v := range plane {
				if v > best[i] {
					best[i] = v
					idx[i] = int64(c)
				}
			}
		}
	}
	return pred, conf
}

// StrideCeil returns the smallest multiple of stride that is >= n.
func StrideCeil(n, stride int) int {
	if stride <= 1 {
		return n
	}
	return (n + stride - 1) / stride * stride
}

// PadReflect pads the bottom and right edges of every plane by padH rows and
// padW columns, mirroring around the last row/column without repeating it
// (reflect, not replicate).  Each pad must be smaller than the dimension it
// extends.
func PadReflect(t *Tensor, padH, padW int) (*Tensor, error) {
	if padH < 0 || padW < 0 {
		return nil, errNegativeDim
	}
	if padH == 0 && padW == 0 {
		return t.Clone(), nil
	}
	if (padH > 0 && padH >= t.H) || (padW > 0 && padW >= t.W) {
		return nil, fmt.Errorf("%w: pad (%d, %d) for plane %dx%d", ErrPadTooLarge, padH, padW, t.H, t.W)
	}
	outH, outW := t.H+padH, t.W+padW
	out := New(t.N, t.C, outH, outW)
	for n := 0; n < t.N; n++ {
		for c := 0; c < t.C; c++ {
			src := t.Plane(n, c)
			dst := out.Plane(n, c)
			for y := 0; y < outH; y++ {
				sy := reflectIndex(y, t.H)
				srow := src[sy*t.W : (sy+1)*t.W]
				drow := dst[y*outW : (y+1)*outW]
				copy(drow, srow)
				for x := t.W; x < outW; x++ {
					drow[x] = srow[reflectIndex(x, t.W)]
				}
			}
		}
	}
	return out, nil
}

func reflectIndex(i, n int) int {
	if i < n {
		return i
	}
	return 2*(n-1) - i
}

// Crop keeps the top-left h x w window of every plane.
func Crop(t *Tensor, h, w int) (*Tensor, error) {
	if h < 0 || w < 0 || h > t.H || w > t.W {
		return nil, fmt.Errorf("%w: crop %dx%d from %dx%d", ErrShapeMismatch, h, w, t.H, t.W)
	}
	out := New(t.N, t.C, h, w)
	for n := 0; n < t.N; n++ {
		for c := 0; c < t.C; c++ {
			src := t.Plane(n, c)
			dst := out.Plane(n, c)
			for y := 0; y < h; y++ {
				copy(dst[y*w:(y+1)*w], src[y*t.W:y*t.W+w])
			}
		}
	}
	return out, nil
}

// Softmax rewrites x in place as a probability distribution.  Values are
// shifted by the row maximum before exponentiation, so rows of large
// negative distances still sum to one.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := slices.Max(x)
	exps := make([]float64, len(x))
	var sum float64
	for i, v := range x {
		exps[i] = math.Exp(float64(v - maxv))
		sum += exps[i]
	}
	for i, e := range exps {
		x[i] = float32(e / sum)
	}
}
