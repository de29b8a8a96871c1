package validator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/segeval/internal/dataset"
	"github.com/samcharles93/segeval/internal/logger"
	"github.com/samcharles93/segeval/internal/metrics"
	"github.com/samcharles93/segeval/internal/model"
	"github.com/samcharles93/segeval/internal/prototype"
	"github.com/samcharles93/segeval/internal/tensor"
	"github.com/samcharles93/segeval/internal/vallog"
)

type memLog struct {
	mu   sync.Mutex
	recs []vallog.Record
}

func (m *memLog) Write(_ context.Context, rec vallog.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

type savedRender struct {
	path   string
	x      *tensor.Tensor
	target *tensor.Labels
	pred   *tensor.Labels
	conf   *tensor.Tensor
}

type fakeRenderer struct {
	saved []savedRender
}

func (r *fakeRenderer) Save(path string, x *tensor.Tensor, target, pred *tensor.Labels, conf *tensor.Tensor) error {
	r.saved = append(r.saved, savedRender{path, x, target, pred, conf})
	return nil
}

type harness struct {
	out      bytes.Buffer
	log      memLog
	renderer fakeRenderer
}

func (h *harness) options(items dataset.SliceSource) []Option {
	return []Option{
		WithProvider(dataset.NewLoader(items, 2)),
		WithOutput(&h.out),
		WithLogWriter(&h.log),
		WithRenderer(&h.renderer),
		WithLogger(logger.Discard()),
	}
}

func softmaxConfig(nClasses int) Config {
	cfg := DefaultConfig(dataset.CamVid)
	cfg.Device = "cpu"
	cfg.UseSoftmax = true
	cfg.NClasses = nClasses
	cfg.IgnoreIndex = 255
	cfg.ExperimentName = "unit"
	cfg.CheckpointDir = "/runs"
	return cfg
}

// oneHot builds class scores that put probability mass on the target.
func oneHot(y *tensor.Labels, nClasses int) *tensor.Tensor {
	out := tensor.New(y.N, nClasses, y.H, y.W)
	for n := 0; n < y.N; n++ {
		for i := 0; i < y.H; i++ {
			for j := 0; j < y.W; j++ {
				c := int(y.At(n, i, j))
				if c >= 0 && c < nClasses {
					out.Set(n, c, i, j, 0.9)
				}
			}
		}
	}
	return out
}

func perfectModel(targets map[int]*tensor.Labels, nClasses int) *model.Func {
	return &model.Func{Fn: func(_ context.Context, x *tensor.Tensor) (model.Output, error) {
		// The first input value carries the sample index.
		y := targets[int(x.Data[0])]
		return model.ClassScores{Scores: oneHot(y, nClasses)}, nil
	}}
}

func item(t *testing.T, idx int, h, w int, labels ...int64) dataset.Item {
	t.Helper()
	y, err := tensor.LabelsFromData(1, h, w, labels)
	require.NoError(t, err)
	x := tensor.New(1, 3, h, w)
	x.Data[0] = float32(idx)
	return dataset.Item{Name: "s", X: x, Y: y}
}

func TestNewRejectsUnsupportedDataset(t *testing.T) {
	t.Parallel()
	cfg := softmaxConfig(3)
	cfg.Dataset = "ade20k"
	cfg.DataDir = "/nonexistent"
	_, err := New(cfg)
	require.ErrorIs(t, err, ErrUnsupportedDataset)
}

func TestNewRequiresProvider(t *testing.T) {
	t.Parallel()
	_, err := New(softmaxConfig(3))
	require.ErrorIs(t, err, ErrNoProvider)
}

func TestNewResolvesDeviceOnce(t *testing.T) {
	t.Parallel()
	v, err := New(softmaxConfig(3), WithProvider(dataset.NewLoader(dataset.SliceSource{}, 0)))
	require.NoError(t, err)
	assert.Equal(t, "cpu:0", v.Device().String())
}

func TestAllCorrectSingleBatchScoresOne(t *testing.T) {
	t.Parallel()
	var h harness
	it := item(t, 0, 2, 3, 0, 1, 2, 2, 1, 0)
	m := perfectModel(map[int]*tensor.Labels{0: it.Y}, 3)

	v, err := New(softmaxConfig(3), h.options(dataset.SliceSource{it})...)
	require.NoError(t, err)
	res, err := v.Run(context.Background(), m, nil, 5, nil)
	require.NoError(t, err)

	assert.True(t, m.EvalMode, "Run must switch the model to eval mode")
	assert.Equal(t, 1, res.Batches)
	assert.InDelta(t, 1.0, res.PixelAcc, 1e-9)
	assert.InDelta(t, 1.0, res.MeanIoU, 1e-9)
	assert.Contains(t, h.out.String(), "Experim name: unit")
	assert.Contains(t, h.out.String(), "Epoch 5 | miou: 1.000 | pixel_acc.: 1.000")
	assert.Contains(t, h.out.String(), strings.Repeat("=", 100))

	require.Len(t, h.log.recs, 1)
	assert.Equal(t, 5, h.log.recs[0].Epoch)
	assert.Equal(t, res.Record.RunID, h.log.recs[0].RunID)

	require.Len(t, h.renderer.saved, 1)
	got := h.renderer.saved[0]
	assert.Equal(t, filepath.Join("/runs", "checkpoints", "unit", "val", "5.png"), got.path)
	assert.Equal(t, got.path, res.Visualization)
	// Confidence is the max score, drawn negated.
	assert.InDelta(t, -0.9, got.conf.Data[0], 1e-6)
	assert.Equal(t, it.Y.Data, got.pred.Data)
}

func TestDebugProcessesOneBatch(t *testing.T) {
	t.Parallel()
	var h harness
	var items dataset.SliceSource
	targets := map[int]*tensor.Labels{}
	for i := 0; i < 6; i++ {
		it := item(t, i, 1, 2, 0, 1)
		items = append(items, it)
		targets[i] = it.Y
	}
	calls := 0
	inner := perfectModel(targets, 2)
	m := &model.Func{Fn: func(ctx context.Context, x *tensor.Tensor) (model.Output, error) {
		calls++
		return inner.Fn(ctx, x)
	}}

	cfg := softmaxConfig(2)
	cfg.Debug = true
	v, err := New(cfg, h.options(items)...)
	require.NoError(t, err)
	res, err := v.Run(context.Background(), m, nil, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Batches)
	assert.Len(t, h.log.recs, 1)
}

func TestRunningTotalsAccumulateAcrossBatches(t *testing.T) {
	t.Parallel()
	var h harness
	items := dataset.SliceSource{
		item(t, 0, 1, 2, 0, 0),
		item(t, 1, 1, 2, 1, 1),
	}
	// Always predicts class 0.
	m := &model.Func{Fn: func(_ context.Context, x *tensor.Tensor) (model.Output, error) {
		return model.ClassScores{Scores: oneHot(tensor.NewLabels(1, x.H, x.W), 2)}, nil
	}}
	var progress []Progress
	v, err := New(softmaxConfig(2), append(h.options(items), WithProgress(func(p Progress) {
		progress = append(progress, p)
	}))...)
	require.NoError(t, err)
	res, err := v.Run(context.Background(), m, nil, 1, map[int]int64{0: 2, 1: 2})
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Final.Correct)
	assert.Equal(t, int64(4), res.Final.Labeled)
	assert.Equal(t, []int64{2, 0}, res.Final.Inter)
	assert.Equal(t, []int64{4, 2}, res.Final.Union)
	require.Len(t, progress, 2)
	// Batch 1: acc 1, miou 0.5.  Batch 2: acc 0.5, miou 0.25.
	assert.InDelta(t, 0.75, res.PixelAcc, 1e-9)
	assert.InDelta(t, 0.375, res.MeanIoU, 1e-9)
	assert.Equal(t, 2, progress[1].Total)
}

func TestIgnoreIndexBatchContributesNothing(t *testing.T) {
	t.Parallel()
	var h harness
	it := item(t, 0, 2, 2, 255, 255, 255, 255)
	m := &model.Func{Fn: func(_ context.Context, x *tensor.Tensor) (model.Output, error) {
		return model.ClassScores{Scores: tensor.New(1, 3, x.H, x.W)}, nil
	}}
	v, err := New(softmaxConfig(3), h.options(dataset.SliceSource{it})...)
	require.NoError(t, err)
	res, err := v.Run(context.Background(), m, nil, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Final.Correct)
	assert.Equal(t, int64(0), res.Final.Labeled)
	assert.Equal(t, []int64{0, 0, 0}, res.Final.Inter)
	assert.Equal(t, []int64{0, 0, 0}, res.Final.Union)
	assert.Equal(t, 0.0, res.PixelAcc)
}

func TestPrototypeModeVOC(t *testing.T) {
	t.Parallel()
	var h harness
	// Targets after the unlabeled shift: 0 is unlabeled, 255 is void.
	it := item(t, 0, 3, 3,
		0, 2, 1,
		1, 1, 1,
		1, 1, 255,
	)
	set, err := prototype.NewSet(3, 2, []float32{
		0, 0,
		1, 0,
		0, 1,
	}, nil)
	require.NoError(t, err)

	var inputH, inputW int
	m := &model.Func{Fn: func(_ context.Context, x *tensor.Tensor) (model.Output, error) {
		inputH, inputW = x.H, x.W
		emb := tensor.New(1, 2, x.H, x.W)
		for i := range emb.Data {
			emb.Data[i] = -5
		}
		// Ambiguous pixel: winner probability below 0.5.
		emb.Set(0, 0, 0, 0, 0.3)
		emb.Set(0, 1, 0, 0, 0.3)
		// Clearly prototype 1.
		emb.Set(0, 0, 0, 1, 10)
		emb.Set(0, 1, 0, 1, 0)
		return model.Embedding{Emb: emb}, nil
	}}

	cfg := DefaultConfig(dataset.VOC)
	cfg.Device = "cpu"
	cfg.StrideTotal = 4
	cfg.CheckpointDir = "/runs"
	v, err := New(cfg, h.options(dataset.SliceSource{it})...)
	require.NoError(t, err)

	res, err := v.Run(context.Background(), m, set, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, inputH)
	assert.Equal(t, 4, inputW)
	assert.Equal(t, int64(8), res.Final.Labeled)
	assert.Equal(t, int64(8), res.Final.Correct)

	require.Len(t, h.renderer.saved, 1)
	pred := h.renderer.saved[0].pred
	assert.Equal(t, 3, pred.H)
	assert.Equal(t, 3, pred.W)
	assert.Equal(t, int64(0), pred.At(0, 0, 0))
	assert.Equal(t, int64(2), pred.At(0, 0, 1))
}

func TestPrototypeModeRequiresSet(t *testing.T) {
	t.Parallel()
	var h harness
	cfg := softmaxConfig(3)
	cfg.UseSoftmax = false
	v, err := New(cfg, h.options(dataset.SliceSource{item(t, 0, 1, 1, 0)})...)
	require.NoError(t, err)
	m := &model.Func{}
	_, err = v.Run(context.Background(), m, nil, 0, nil)
	require.ErrorIs(t, err, ErrMissingPrototypes)
	assert.True(t, m.EvalMode)
}

func TestFaultsAbortWithoutSideEffects(t *testing.T) {
	t.Parallel()
	errForward := errors.New("out of memory")
	tests := []struct {
		name string
		fn   func(context.Context, *tensor.Tensor) (model.Output, error)
		want error
	}{
		{
			name: "forward error",
			fn: func(context.Context, *tensor.Tensor) (model.Output, error) {
				return nil, errForward
			},
			want: errForward,
		},
		{
			name: "wrong head",
			fn: func(_ context.Context, x *tensor.Tensor) (model.Output, error) {
				return model.Embedding{Emb: tensor.New(1, 4, x.H, x.W)}, nil
			},
			want: ErrOutputMismatch,
		},
		{
			name: "wrong spatial size",
			fn: func(context.Context, *tensor.Tensor) (model.Output, error) {
				return model.ClassScores{Scores: tensor.New(1, 3, 7, 7)}, nil
			},
			want: tensor.ErrShapeMismatch,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var h harness
			items := dataset.SliceSource{item(t, 0, 2, 2, 0, 1, 2, 0), item(t, 1, 2, 2, 0, 1, 2, 0)}
			v, err := New(softmaxConfig(3), h.options(items)...)
			require.NoError(t, err)
			_, err = v.Run(context.Background(), &model.Func{Fn: tc.fn}, nil, 0, nil)
			require.ErrorIs(t, err, tc.want)
			assert.Empty(t, h.out.String())
			assert.Empty(t, h.log.recs)
			assert.Empty(t, h.renderer.saved)
		})
	}
}

type failingSource struct{}

func (failingSource) Len() int { return 1 }

func (failingSource) Sample(int) (dataset.Item, error) { return dataset.Item{}, os.ErrNotExist }

func TestLoaderErrorPropagates(t *testing.T) {
	t.Parallel()
	var h harness
	v, err := New(softmaxConfig(3),
		WithProvider(dataset.NewLoader(failingSource{}, 1)),
		WithLogWriter(&h.log),
		WithOutput(&h.out),
		WithLogger(logger.Discard()),
	)
	require.NoError(t, err)
	_, err = v.Run(context.Background(), &model.Func{}, nil, 0, nil)
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, h.log.recs)
}

func TestEmptyDataset(t *testing.T) {
	t.Parallel()
	var h harness
	v, err := New(softmaxConfig(3), h.options(dataset.SliceSource{})...)
	require.NoError(t, err)
	_, err = v.Run(context.Background(), &model.Func{}, nil, 0, nil)
	require.ErrorIs(t, err, ErrNoBatches)
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()
	var h harness
	it := item(t, 0, 1, 1, 0)
	v, err := New(softmaxConfig(3), h.options(dataset.SliceSource{it, it, it})...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := perfectModel(map[int]*tensor.Labels{0: it.Y}, 3)
	_, err = v.Run(ctx, m, nil, 0, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.log.recs)
}

func TestFileLogFromConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	it := item(t, 0, 1, 2, 0, 1)
	cfg := softmaxConfig(2)
	cfg.LogPath = filepath.Join(dir, "val.log")
	cfg.CheckpointDir = dir
	var out bytes.Buffer
	v, err := New(cfg,
		WithProvider(dataset.NewLoader(dataset.SliceSource{it}, 0)),
		WithOutput(&out),
		WithLogger(logger.Discard()),
	)
	require.NoError(t, err)
	res, err := v.Run(context.Background(), perfectModel(map[int]*tensor.Labels{0: it.Y}, 2), nil, 3, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.LogPath)
	require.NoError(t, err)
	fields := strings.Fields(string(data))
	require.Len(t, fields, 3)
	assert.Equal(t, "3", fields[0])
	miou, err := strconv.ParseFloat(fields[1], 64)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, miou, 1e-9)
	_, err = os.Stat(res.Visualization)
	require.NoError(t, err, "default renderer writes the PNG")
	assert.GreaterOrEqual(t, res.MeanIoU, 0.0)
	assert.LessOrEqual(t, res.MeanIoU, 1.0+metrics.Eps)
}
