package dataset

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samcharles93/segeval/internal/tensor"
)

type countingSource struct {
	n      int
	failAt int
	calls  atomic.Int64
}

func (s *countingSource) Len() int { return s.n }

func (s *countingSource) Sample(i int) (Item, error) {
	s.calls.Add(1)
	if i == s.failAt {
		return Item{}, fmt.Errorf("sample %d: %w", i, errBoom)
	}
	// Later samples finish first to exercise reordering.
	time.Sleep(time.Duration(s.n-i) * time.Millisecond)
	return Item{Name: fmt.Sprint(i), X: tensor.New(1, 1, 1, 1), Y: tensor.NewLabels(1, 1, 1)}, nil
}

var errBoom = errors.New("boom")

func TestLoaderPreservesOrder(t *testing.T) {
	t.Parallel()
	for _, workers := range []int{0, 1, 4} {
		src := &countingSource{n: 10, failAt: -1}
		l := NewLoader(src, workers)
		var got []int
		for res := range l.Batches(context.Background()) {
			if res.Err != nil {
				t.Fatalf("workers=%d: unexpected error %v", workers, res.Err)
			}
			got = append(got, res.Batch.Index)
		}
		if len(got) != 10 {
			t.Fatalf("workers=%d: expected 10 batches, got %d", workers, len(got))
		}
		for i, idx := range got {
			if idx != i {
				t.Fatalf("workers=%d: expected order 0..9, got %v", workers, got)
			}
		}
	}
}

func TestLoaderStopsAtFirstError(t *testing.T) {
	t.Parallel()
	src := &countingSource{n: 6, failAt: 2}
	var (
		n   int
		err error
	)
	for res := range NewLoader(src, 2).Batches(context.Background()) {
		if res.Err != nil {
			err = res.Err
			continue
		}
		n++
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 batches before the error, got %d", n)
	}
}

func TestLoaderCancel(t *testing.T) {
	t.Parallel()
	src := &countingSource{n: 100, failAt: -1}
	ctx, cancel := context.WithCancel(context.Background())
	ch := NewLoader(src, 2).Batches(ctx)
	if res := <-ch; res.Err != nil || res.Batch.Index != 0 {
		t.Fatalf("unexpected first result %+v", res)
	}
	cancel()
	for range ch {
	}
	if calls := src.calls.Load(); calls >= 100 {
		t.Fatalf("expected cancellation to stop loading early, loaded %d", calls)
	}
}
