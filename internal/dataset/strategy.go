package dataset

import (
	"fmt"

	"github.com/samcharles93/segeval/internal/model"
	"github.com/samcharles93/segeval/internal/tensor"
)

// UnknownThreshold is the prototype confidence below which a VOC pixel is
// reassigned to the unlabeled class.
const UnknownThreshold = 0.5

// Strategy holds the dataset-specific steps around inference.  The
// validator calls PrepareInput before the forward pass, PostprocessOutput
// after it, and AdjustLabels on prototype-mode predictions.
type Strategy interface {
	Kind() Kind
	// PrepareInput returns the tensor to feed the model for an input whose
	// target is h x w.
	PrepareInput(x *tensor.Tensor, h, w int) (*tensor.Tensor, error)
	// PostprocessOutput restores the model output to h x w.
	PostprocessOutput(out model.Output, h, w int) (model.Output, error)
	// AdjustLabels rewrites prototype predictions in place.
	AdjustLabels(pred *tensor.Labels, conf *tensor.Tensor)
}

// StrategyFor returns the hooks for kind.  strideTotal is the total spatial
// stride of the network.
func StrategyFor(kind Kind, strideTotal int) (Strategy, error) {
	switch kind {
	case CamVid:
		return camvidStrategy{}, nil
	case VOC:
		if strideTotal <= 0 {
			return nil, fmt.Errorf("voc: stride total must be positive, got %d", strideTotal)
		}
		return vocStrategy{stride: strideTotal}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedDataset, kind)
	}
}

// camvidStrategy runs the model on inputs as they are.
type camvidStrategy struct{}

func (camvidStrategy) Kind() Kind { return CamVid }

func (camvidStrategy) PrepareInput(x *tensor.Tensor, _, _ int) (*tensor.Tensor, error) {
	return x, nil
}

func (camvidStrategy) PostprocessOutput(out model.Output, _, _ int) (model.Output, error) {
	return out, nil
}

func (camvidStrategy) AdjustLabels(*tensor.Labels, *tensor.Tensor) {}

// vocStrategy pads inputs so both sides are stride multiples, crops outputs
// back, and reserves class 0 for unlabeled pixels in prototype mode.
type vocStrategy struct {
	stride int
}

func (vocStrategy) Kind() Kind { return VOC }

// PadFor returns the bottom and right padding that brings h x w up to the
// next multiples of stride.
func PadFor(h, w, stride int) (padH, padW int) {
	return tensor.StrideCeil(h, stride) - h, tensor.StrideCeil(w, stride) - w
}

func (s vocStrategy) PrepareInput(x *tensor.Tensor, h, w int) (*tensor.Tensor, error) {
	if x.H != h || x.W != w {
		return nil, fmt.Errorf("%w: input %dx%d, target %dx%d", tensor.ErrShapeMismatch, x.H, x.W, h, w)
	}
	padH, padW := PadFor(h, w, s.stride)
	return tensor.PadReflect(x, padH, padW)
}

func (vocStrategy) PostprocessOutput(out model.Output, h, w int) (model.Output, error) {
	cropped, err := tensor.Crop(out.Tensor(), h, w)
	if err != nil {
		return nil, err
	}
	return out.With(cropped), nil
}

func (vocStrategy) AdjustLabels(pred *tensor.Labels, conf *tensor.Tensor) {
	for i := range pred.Data {
		if conf.Data[i] < UnknownThreshold {
			pred.Data[i] = -1
		}
		pred.Data[i]++
	}
}
