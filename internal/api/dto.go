package api

import (
	"time"

	"github.com/samcharles93/segeval/internal/vallog"
)

// Run is the wire form of one validation record.
type Run struct {
	Object     string    `json:"object"`
	ID         string    `json:"id"`
	Experiment string    `json:"experiment"`
	Epoch      int       `json:"epoch"`
	MeanIoU    float64   `json:"miou"`
	PixelAcc   float64   `json:"pixel_acc"`
	Batches    int       `json:"batches"`
	CreatedAt  time.Time `json:"created_at"`
	// Visualization is the URL path of the rendered PNG.
	Visualization string `json:"visualization,omitempty"`
}

type RunList struct {
	Object string `json:"object"`
	Data   []Run  `json:"data"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
}

func runFromRecord(rec vallog.Record, withVisualization bool) Run {
	r := Run{
		Object:     "validation.run",
		ID:         rec.RunID,
		Experiment: rec.Experiment,
		Epoch:      rec.Epoch,
		MeanIoU:    rec.MeanIoU,
		PixelAcc:   rec.PixelAcc,
		Batches:    rec.Batches,
		CreatedAt:  rec.CreatedAt,
	}
	if withVisualization {
		r.Visualization = visualizationURL(rec)
	}
	return r
}
