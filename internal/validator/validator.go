// Package validator runs one evaluation pass of a segmentation model over a
// validation split and reports mean IoU and pixel accuracy.
package validator

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samcharles93/segeval/internal/backend"
	"github.com/samcharles93/segeval/internal/dataset"
	"github.com/samcharles93/segeval/internal/logger"
	"github.com/samcharles93/segeval/internal/metrics"
	"github.com/samcharles93/segeval/internal/model"
	"github.com/samcharles93/segeval/internal/prototype"
	"github.com/samcharles93/segeval/internal/tensor"
	"github.com/samcharles93/segeval/internal/vallog"
	"github.com/samcharles93/segeval/internal/visual"
)

const ruleWidth = 100

// Validator evaluates models against a fixed validation split.  A Validator
// may be reused across epochs but Run must not be called concurrently.
type Validator struct {
	cfg      Config
	device   backend.Device
	mode     model.Mode
	strategy dataset.Strategy

	provider  dataset.Provider
	log       logger.Logger
	out       io.Writer
	logWriter vallog.Writer
	renderer  Renderer
	progress  func(Progress)
}

// New checks cfg, resolves the compute device and prepares the dataset.
// An unsupported dataset kind fails with ErrUnsupportedDataset before any
// data is touched.
func New(cfg Config, opts ...Option) (*Validator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	strategy, err := dataset.StrategyFor(cfg.Dataset, cfg.StrideTotal)
	if err != nil {
		return nil, err
	}
	device, err := backend.Resolve(cfg.Device, cfg.DeviceOrdinal)
	if err != nil {
		return nil, err
	}

	v := &Validator{
		cfg:      cfg,
		device:   device,
		mode:     model.ModeFor(cfg.UseSoftmax),
		strategy: strategy,
		log:      logger.Default(),
		out:      os.Stdout,
	}
	for _, opt := range opts {
		opt(v)
	}

	if v.provider == nil {
		if cfg.DataDir == "" {
			return nil, ErrNoProvider
		}
		src, err := dataset.Open(cfg.Dataset, cfg.DataDir, cfg.ImageSize)
		if err != nil {
			return nil, fmt.Errorf("open dataset: %w", err)
		}
		v.provider = dataset.NewLoader(src, cfg.Workers)
	}
	if v.logWriter == nil && cfg.LogPath != "" {
		v.logWriter = vallog.NewFileWriter(cfg.LogPath)
	}
	if v.renderer == nil && cfg.CheckpointDir != "" {
		v.renderer = &visual.Renderer{
			Palette: visual.PaletteFor(cfg.Dataset),
			Mean:    dataset.Mean,
			Std:     dataset.Std,
		}
	}

	v.log = v.log.With("dataset", string(cfg.Dataset), "experiment", cfg.ExperimentName)
	v.log.Debug("validator ready", "device", device.String(), "mode", v.mode.String(), "batches", v.provider.Len())
	return v, nil
}

// Config returns the configuration the validator was built with.
func (v *Validator) Config() Config { return v.cfg }

// Device returns the device resolved at construction.
func (v *Validator) Device() backend.Device { return v.device }

// Result summarises one pass.
type Result struct {
	Epoch   int
	Batches int
	// MeanIoU and PixelAcc are the running averages that are printed and
	// logged.
	MeanIoU  float64
	PixelAcc float64
	// Final holds the totals after the last batch.
	Final *metrics.Totals
	// Record is what was appended to the validation log.
	Record vallog.Record
	// Visualization is the rendered PNG path, if any.
	Visualization string
}

// sample is the first element of the most recent batch, kept for rendering.
type sample struct {
	x          *tensor.Tensor
	target     *tensor.Labels
	pred       *tensor.Labels
	confidence *tensor.Tensor
}

// Run evaluates m over the whole validation split, or only its first batch
// in debug mode.  prototypes is required in prototype mode and ignored in
// softmax mode.  labelCounts is accepted for future class weighting and is
// currently unused.
//
// Any error aborts the pass: running totals are discarded and nothing is
// printed, logged or rendered.
func (v *Validator) Run(ctx context.Context, m model.Model, prototypes *prototype.Set, epoch int, labelCounts map[int]int64) (Result, error) {
	m.Eval()
	if v.mode == model.ModePrototype && prototypes == nil {
		return Result{}, ErrMissingPrototypes
	}
	if len(labelCounts) > 0 {
		v.log.Warn("label counts supplied but class weighting is not implemented", "classes", len(labelCounts))
	}

	totals := metrics.NewTotals(v.cfg.NClasses)
	var runningMIoU, runningPixAcc metrics.AverageMeter
	var last sample
	batches := 0
	total := v.provider.Len()
	if v.cfg.Debug {
		total = min(total, 1)
	}

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for res := range v.provider.Batches(loadCtx) {
		if res.Err != nil {
			return Result{}, fmt.Errorf("load batch: %w", res.Err)
		}
		s, b, err := v.step(ctx, m, prototypes, res.Batch)
		if err != nil {
			return Result{}, fmt.Errorf("batch %d (%s): %w", res.Batch.Index, res.Batch.Name, err)
		}
		if err := totals.Add(b); err != nil {
			return Result{}, err
		}
		batches++
		last = s

		miou, pixAcc := totals.MeanIoU(), totals.PixelAccuracy()
		runningMIoU.Update(miou, 1)
		runningPixAcc.Update(pixAcc, 1)
		v.log.Debug("batch",
			"batch", batches,
			"of", total,
			"miou", runningMIoU.Avg,
			"pixel_acc", runningPixAcc.Avg,
		)
		if v.progress != nil {
			v.progress(Progress{Batch: batches, Total: total, MeanIoU: runningMIoU.Avg, PixelAcc: runningPixAcc.Avg})
		}

		if v.cfg.Debug {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if batches == 0 {
		return Result{}, ErrNoBatches
	}

	res := Result{
		Epoch:    epoch,
		Batches:  batches,
		MeanIoU:  runningMIoU.Avg,
		PixelAcc: runningPixAcc.Avg,
		Final:    totals,
	}
	if err := v.summarize(res); err != nil {
		return Result{}, err
	}

	res.Record = vallog.NewRecord(v.cfg.ExperimentName, epoch, res.MeanIoU, res.PixelAcc, batches)
	if v.logWriter != nil {
		if err := v.logWriter.Write(ctx, res.Record); err != nil {
			return Result{}, fmt.Errorf("write validation log: %w", err)
		}
	}

	if v.renderer != nil {
		path := visual.Path(v.cfg.CheckpointDir, v.cfg.ExperimentName, epoch)
		// Negated so uncertain pixels render bright.
		if err := v.renderer.Save(path, last.x, last.target, last.pred, last.confidence.Neg()); err != nil {
			return Result{}, fmt.Errorf("render %s: %w", path, err)
		}
		res.Visualization = path
	}

	v.log.Info("validation complete",
		"epoch", epoch,
		"batches", batches,
		"miou", res.MeanIoU,
		"pixel_acc", res.PixelAcc,
	)
	return res, nil
}

// step runs inference on one batch and scores it.
func (v *Validator) step(ctx context.Context, m model.Model, prototypes *prototype.Set, b dataset.Batch) (sample, metrics.Batch, error) {
	x, err := v.device.Place(b.X)
	if err != nil {
		return sample{}, metrics.Batch{}, err
	}
	y, err := v.device.PlaceLabels(b.Y)
	if err != nil {
		return sample{}, metrics.Batch{}, err
	}
	if x.N != y.N {
		return sample{}, metrics.Batch{}, fmt.Errorf("%w: input batch %d, target batch %d", tensor.ErrShapeMismatch, x.N, y.N)
	}
	h, w := y.H, y.W

	in, err := v.strategy.PrepareInput(x, h, w)
	if err != nil {
		return sample{}, metrics.Batch{}, err
	}
	out, err := m.Forward(ctx, in)
	if err != nil {
		return sample{}, metrics.Batch{}, fmt.Errorf("forward: %w", err)
	}
	if out == nil || out.Tensor() == nil {
		return sample{}, metrics.Batch{}, fmt.Errorf("%w: empty output", ErrOutputMismatch)
	}
	if out.Kind() != v.mode {
		return sample{}, metrics.Batch{}, fmt.Errorf("%w: got %s, want %s", ErrOutputMismatch, out.Kind(), v.mode)
	}
	out, err = v.strategy.PostprocessOutput(out, h, w)
	if err != nil {
		return sample{}, metrics.Batch{}, err
	}

	var pred *tensor.Labels
	var conf *tensor.Tensor
	switch o := out.(type) {
	case model.ClassScores:
		pred, conf = tensor.ArgmaxChannels(o.Scores)
	case model.Embedding:
		pred, conf, err = prototype.Predict(o.Emb, prototypes, v.cfg.NonIsotropic)
		if err != nil {
			return sample{}, metrics.Batch{}, err
		}
		v.strategy.AdjustLabels(pred, conf)
	default:
		return sample{}, metrics.Batch{}, fmt.Errorf("%w: %T", ErrOutputMismatch, out)
	}

	counts, err := metrics.Evaluate(pred, y, v.cfg.NClasses, v.cfg.IgnoreIndex)
	if err != nil {
		return sample{}, metrics.Batch{}, err
	}
	return sample{
		x:          b.X.Sample(0),
		target:     y.Sample(0),
		pred:       pred.Sample(0),
		confidence: conf.Sample(0),
	}, counts, nil
}

func (v *Validator) summarize(res Result) error {
	rule := strings.Repeat("=", ruleWidth)
	_, err := fmt.Fprintf(v.out, "\n%s\nExperim name: %s\nEpoch %d | miou: %.3f | pixel_acc.: %.3f\n%s\n\n",
		rule, v.cfg.ExperimentName, res.Epoch, res.MeanIoU, res.PixelAcc, rule)
	return err
}
