package dataset

import (
	"context"
	"sync"

	"github.com/samcharles93/segeval/internal/tensor"
)

// Batch is one loader step.  Batch size is fixed at 1.
type Batch struct {
	Index int
	Name  string
	X     *tensor.Tensor
	Y     *tensor.Labels
}

// Result carries a batch or the error that ended iteration.
type Result struct {
	Batch Batch
	Err   error
}

// Provider yields batches in a fixed order.
type Provider interface {
	Len() int
	Batches(ctx context.Context) <-chan Result
}

// Loader reads samples from a Source with Workers goroutines decoding ahead
// of the consumer.  Batches are always delivered in source order.  With
// Workers <= 0 samples are decoded on the delivering goroutine.
type Loader struct {
	Source  Source
	Workers int
}

func NewLoader(src Source, workers int) *Loader {
	return &Loader{Source: src, Workers: workers}
}

func (l *Loader) Len() int { return l.Source.Len() }

type loadTask struct {
	index int
	done  chan Result
}

// Batches starts iteration.  The channel closes after the last batch, after
// the first error, or once ctx is cancelled.  Consumers that stop early
// must cancel ctx to release the workers.
func (l *Loader) Batches(ctx context.Context) <-chan Result {
	out := make(chan Result)
	n := l.Source.Len()
	if l.Workers <= 0 {
		go func() {
			defer close(out)
			for i := 0; i < n; i++ {
				if !send(ctx, out, l.load(i)) {
					return
				}
			}
		}()
		return out
	}

	ctx, cancel := context.WithCancel(ctx)
	// pending holds one slot per in-flight sample in source order; its
	// capacity bounds how far workers run ahead.
	pending := make(chan loadTask, l.Workers)
	tasks := make(chan loadTask, l.Workers)
	var wg sync.WaitGroup
	for w := 0; w < l.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				task.done <- l.load(task.index)
			}
		}()
	}

	go func() {
		defer close(pending)
		defer close(tasks)
		for i := 0; i < n; i++ {
			task := loadTask{index: i, done: make(chan Result, 1)}
			select {
			case pending <- task:
			case <-ctx.Done():
				return
			}
			select {
			case tasks <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer close(out)
		defer wg.Wait()
		defer cancel()
		for task := range pending {
			var res Result
			select {
			case res = <-task.done:
			case <-ctx.Done():
				cancel()
				drain(pending)
				return
			}
			if !send(ctx, out, res) {
				cancel()
				drain(pending)
				return
			}
		}
	}()
	return out
}

func (l *Loader) load(i int) Result {
	item, err := l.Source.Sample(i)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Batch: Batch{Index: i, Name: item.Name, X: item.X, Y: item.Y}}
}

func send(ctx context.Context, out chan<- Result, res Result) bool {
	select {
	case out <- res:
		return res.Err == nil
	case <-ctx.Done():
		return false
	}
}

// drain discards queued slots so the producer can observe cancellation.
func drain(pending <-chan loadTask) {
	for range pending {
	}
}
