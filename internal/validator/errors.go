package validator

import (
	"errors"

	"github.com/samcharles93/segeval/internal/dataset"
)

var (
	// ErrUnsupportedDataset is the configuration error for an unknown
	// dataset kind.
	ErrUnsupportedDataset = dataset.ErrUnsupportedDataset
	ErrMissingPrototypes  = errors.New("validator: prototype mode requires a prototype set")
	ErrNoProvider         = errors.New("validator: no dataset provider or data directory configured")
	ErrNoBatches          = errors.New("validator: dataset yielded no batches")
	ErrOutputMismatch     = errors.New("validator: model output does not match the configured mode")
)
