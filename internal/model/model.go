// Package model defines the segmentation model contract consumed by the
// validator and an ONNX Runtime implementation of it.
package model

import (
	"context"

	"github.com/samcharles93/segeval/internal/tensor"
)

// Model is a frozen segmentation network.
//
// Eval switches the model to inference behaviour (no dropout, frozen
// normalisation statistics).  Forward maps an (N, C, H, W) input to either
// class scores or an embedding map with the same batch and spatial extents.
type Model interface {
	Eval()
	Forward(ctx context.Context, x *tensor.Tensor) (Output, error)
}

// Mode selects which head a model exposes.
type Mode int

const (
	// ModeSoftmax reads per-class scores (output key "pred").
	ModeSoftmax Mode = iota
	// ModePrototype reads the embedding map (output key "emb").
	ModePrototype
)

// ModeFor maps the use-softmax flag to a Mode.
func ModeFor(useSoftmax bool) Mode {
	if useSoftmax {
		return ModeSoftmax
	}
	return ModePrototype
}

// OutputName is the graph output carrying the head for m.
func (m Mode) OutputName() string {
	if m == ModeSoftmax {
		return "pred"
	}
	return "emb"
}

func (m Mode) String() string {
	if m == ModeSoftmax {
		return "softmax"
	}
	return "prototype"
}
