package model

import "github.com/samcharles93/segeval/internal/tensor"

// Output is the result of a forward pass: exactly one of ClassScores or
// Embedding.  The set is closed; switch on the concrete type.
type Output interface {
	// Kind reports the head that produced the output.
	Kind() Mode
	// Tensor returns the underlying (N, C, H, W) map.
	Tensor() *tensor.Tensor
	// With returns an output of the same variant wrapping t.
	With(t *tensor.Tensor) Output

	isOutput()
}

// ClassScores are per-class scores from a classifier head.
type ClassScores struct {
	Scores *tensor.Tensor
}

func (ClassScores) Kind() Mode                     { return ModeSoftmax }
func (o ClassScores) Tensor() *tensor.Tensor       { return o.Scores }
func (o ClassScores) With(t *tensor.Tensor) Output { return ClassScores{Scores: t} }

func (ClassScores) isOutput() {}

// Embedding is a per-pixel embedding map matched against prototypes.
type Embedding struct {
	Emb *tensor.Tensor
}

func (Embedding) Kind() Mode                     { return ModePrototype }
func (o Embedding) Tensor() *tensor.Tensor       { return o.Emb }
func (o Embedding) With(t *tensor.Tensor) Output { return Embedding{Emb: t} }

func (Embedding) isOutput() {}

// NewOutput wraps t in the variant for mode.
func NewOutput(mode Mode, t *tensor.Tensor) Output {
	if mode == ModeSoftmax {
		return ClassScores{Scores: t}
	}
	return Embedding{Emb: t}
}
