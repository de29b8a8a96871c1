package model

import (
	"context"

	"github.com/samcharles93/segeval/internal/tensor"
)

// Func adapts a forward function to Model.  Eval is recorded so callers can
// check that it happened.
type Func struct {
	Fn       func(ctx context.Context, x *tensor.Tensor) (Output, error)
	EvalMode bool
}

func (f *Func) Eval() { f.EvalMode = true }

func (f *Func) Forward(ctx context.Context, x *tensor.Tensor) (Output, error) {
	return f.Fn(ctx, x)
}
