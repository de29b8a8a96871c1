// Package vallog records per-epoch validation results.
package vallog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("vallog: record not found")

// Record is one completed validation pass.
type Record struct {
	RunID      string    `json:"run_id"`
	Experiment string    `json:"experiment"`
	Epoch      int       `json:"epoch"`
	MeanIoU    float64   `json:"miou"`
	PixelAcc   float64   `json:"pixel_acc"`
	Batches    int       `json:"batches"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewRecord stamps a record with a fresh run ID and the current time.
func NewRecord(experiment string, epoch int, miou, pixelAcc float64, batches int) Record {
	return Record{
		RunID:      uuid.NewString(),
		Experiment: experiment,
		Epoch:      epoch,
		MeanIoU:    miou,
		PixelAcc:   pixelAcc,
		Batches:    batches,
		CreatedAt:  time.Now().UTC(),
	}
}

// Writer appends records to a sink.
type Writer interface {
	Write(ctx context.Context, rec Record) error
}

// Reader queries stored records.
type Reader interface {
	List(ctx context.Context, q Query) ([]Record, error)
	Latest(ctx context.Context, experiment string, epoch int) (Record, error)
}

// Query filters List.  Zero values match everything.
type Query struct {
	Experiment string
	Limit      int
}

// Multi writes to every sink in order and stops at the first failure, so a
// sink only receives a record once all sinks before it accepted it.  Sinks
// already written are not rolled back.
type Multi []Writer

func (m Multi) Write(ctx context.Context, rec Record) error {
	for i, w := range m {
		if w == nil {
			continue
		}
		if err := w.Write(ctx, rec); err != nil {
			return fmt.Errorf("log sink %d of %d: %w", i+1, len(m), err)
		}
	}
	return nil
}
