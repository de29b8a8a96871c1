package validator

import (
	"io"

	"github.com/samcharles93/segeval/internal/dataset"
	"github.com/samcharles93/segeval/internal/logger"
	"github.com/samcharles93/segeval/internal/tensor"
	"github.com/samcharles93/segeval/internal/vallog"
)

// Renderer persists the visualization of one sample.
type Renderer interface {
	Save(path string, x *tensor.Tensor, target, pred *tensor.Labels, conf *tensor.Tensor) error
}

// Progress is reported after every batch.
type Progress struct {
	Batch, Total int
	// MeanIoU and PixelAcc are the running averages shown to the user.
	MeanIoU, PixelAcc float64
}

type Option func(*Validator)

func WithLogger(l logger.Logger) Option {
	return func(v *Validator) { v.log = l }
}

// WithOutput redirects the summary block; it defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(v *Validator) { v.out = w }
}

func WithProvider(p dataset.Provider) Option {
	return func(v *Validator) { v.provider = p }
}

// WithLogWriter replaces the file log configured by Config.LogPath.
func WithLogWriter(w vallog.Writer) Option {
	return func(v *Validator) { v.logWriter = w }
}

func WithRenderer(r Renderer) Option {
	return func(v *Validator) { v.renderer = r }
}

func WithProgress(fn func(Progress)) Option {
	return func(v *Validator) { v.progress = fn }
}
