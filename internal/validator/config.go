package validator

import (
	"fmt"

	"github.com/samcharles93/segeval/internal/dataset"
)

// Config is fixed for the lifetime of a Validator.
type Config struct {
	Dataset dataset.Kind
	// DataDir holds validation samples; see dataset.Open.  Ignored when a
	// provider is supplied with WithProvider.
	DataDir string
	// ImageSize resizes decoded images so the shorter side matches; zero
	// keeps the stored size.
	ImageSize int
	// Workers is the number of prefetching loader goroutines.
	Workers int

	// Device is auto, cpu or cuda; DeviceOrdinal picks the GPU.
	Device        string
	DeviceOrdinal int

	UseSoftmax   bool
	NonIsotropic bool
	IgnoreIndex  int64
	StrideTotal  int
	NClasses     int
	// Debug stops each pass after the first batch.
	Debug bool

	ExperimentName string
	// LogPath receives one line per pass; empty disables the file log.
	LogPath string
	// CheckpointDir is the root under which visualizations are written to
	// checkpoints/<experiment>/val/<epoch>.png.  Empty disables rendering.
	CheckpointDir string
}

// DefaultConfig fills label-space defaults for kind.
func DefaultConfig(kind dataset.Kind) Config {
	info := kind.Describe()
	return Config{
		Dataset:        kind,
		Device:         "auto",
		Workers:        4,
		IgnoreIndex:    info.IgnoreIndex,
		NClasses:       info.NClasses,
		StrideTotal:    8,
		ExperimentName: "default",
	}
}

func (c Config) validate() error {
	if _, err := dataset.ParseKind(string(c.Dataset)); err != nil {
		return err
	}
	if c.NClasses <= 0 {
		return fmt.Errorf("validator: n_classes must be positive, got %d", c.NClasses)
	}
	if c.Workers < 0 {
		return fmt.Errorf("validator: workers must not be negative, got %d", c.Workers)
	}
	return nil
}
