package model

import (
	"context"
	"testing"

	"github.com/samcharles93/segeval/internal/tensor"
)

func TestModeFor(t *testing.T) {
	t.Parallel()
	if ModeFor(true) != ModeSoftmax || ModeFor(false) != ModePrototype {
		t.Fatal("ModeFor mapped flags incorrectly")
	}
	if ModeSoftmax.OutputName() != "pred" {
		t.Fatalf("expected pred, got %q", ModeSoftmax.OutputName())
	}
	if ModePrototype.OutputName() != "emb" {
		t.Fatalf("expected emb, got %q", ModePrototype.OutputName())
	}
}

func TestOutputVariants(t *testing.T) {
	t.Parallel()
	x := tensor.New(1, 2, 3, 3)
	small := tensor.New(1, 2, 2, 2)

	tests := []struct {
		mode Mode
	}{
		{ModeSoftmax},
		{ModePrototype},
	}
	for _, tc := range tests {
		out := NewOutput(tc.mode, x)
		if out.Tensor() != x {
			t.Fatalf("%s: Tensor did not return the wrapped map", tc.mode)
		}
		replaced := out.With(small)
		switch replaced.(type) {
		case ClassScores:
			if tc.mode != ModeSoftmax {
				t.Fatalf("%s: With changed the variant", tc.mode)
			}
		case Embedding:
			if tc.mode != ModePrototype {
				t.Fatalf("%s: With changed the variant", tc.mode)
			}
		default:
			t.Fatalf("unexpected variant %T", replaced)
		}
		if replaced.Tensor() != small {
			t.Fatalf("%s: With did not wrap the new map", tc.mode)
		}
	}
}

func TestFuncRecordsEval(t *testing.T) {
	t.Parallel()
	m := &Func{Fn: func(ctx context.Context, x *tensor.Tensor) (Output, error) {
		return ClassScores{Scores: x}, nil
	}}
	if m.EvalMode {
		t.Fatal("expected training mode before Eval")
	}
	m.Eval()
	if !m.EvalMode {
		t.Fatal("expected eval mode after Eval")
	}
	out, err := m.Forward(context.Background(), tensor.New(1, 1, 1, 1))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if _, ok := out.(ClassScores); !ok {
		t.Fatalf("expected ClassScores, got %T", out)
	}
}
