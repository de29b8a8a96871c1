package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/segeval/internal/dataset"
	"github.com/samcharles93/segeval/internal/logger"
	"github.com/samcharles93/segeval/internal/model"
	"github.com/samcharles93/segeval/internal/prototype"
	"github.com/samcharles93/segeval/internal/vallog"
	"github.com/samcharles93/segeval/internal/validator"
)

var (
	dirRoot        string
	datasetName    string
	dataDir        string
	imageSize      int64
	workers        int64
	device         string
	gpuID          int64
	useSoftmax     bool
	nonIsotropic   bool
	ignoreIndex    int64
	nClasses       int64
	strideTotal    int64
	debugRun       bool
	experimName    string
	logVal         string
	logDB          string
	onnxLib        string
	modelPath      string
	prototypesPath string
	epoch          int64
)

// progressEvery is how many batches pass between info-level progress lines.
const progressEvery = 100

func validateFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to the exported .onnx segmentation model",
			Required:    true,
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "prototypes",
			Aliases:     []string{"p"},
			Usage:       "prototype set (.safetensors); required unless --use-softmax",
			Destination: &prototypesPath,
		},
		&cli.Int64Flag{
			Name:        "epoch",
			Aliases:     []string{"e"},
			Usage:       "epoch index used to label the log line and visualization",
			Destination: &epoch,
		},
		&cli.StringFlag{
			Name:        "dataset",
			Aliases:     []string{"d"},
			Usage:       "dataset kind (cv, voc)",
			Value:       string(dataset.CamVid),
			Destination: &datasetName,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "validation data: a directory of .safetensors samples or the dataset's image layout",
			Destination: &dataDir,
		},
		&cli.Int64Flag{
			Name:        "image-size",
			Usage:       "resize decoded images so the shorter side matches (0 keeps the stored size)",
			Destination: &imageSize,
		},
		&cli.Int64Flag{
			Name:        "n-workers",
			Usage:       "dataloader prefetch goroutines",
			Value:       4,
			Destination: &workers,
		},
		&cli.StringFlag{
			Name:        "device",
			Usage:       "compute device (auto, cpu, cuda)",
			Value:       "auto",
			Destination: &device,
		},
		&cli.Int64Flag{
			Name:        "gpu-id",
			Usage:       "CUDA device ordinal",
			Destination: &gpuID,
		},
		&cli.BoolFlag{
			Name:        "use-softmax",
			Usage:       "classify with the softmax head instead of prototype matching",
			Destination: &useSoftmax,
		},
		&cli.BoolFlag{
			Name:        "non-isotropic",
			Usage:       "use the per-class scaled prototype distance",
			Destination: &nonIsotropic,
		},
		&cli.Int64Flag{
			Name:        "ignore-index",
			Usage:       "target label excluded from metrics (default: dataset void label)",
			Destination: &ignoreIndex,
		},
		&cli.Int64Flag{
			Name:        "n-classes",
			Usage:       "number of classes (default: dataset class count)",
			Destination: &nClasses,
		},
		&cli.Int64Flag{
			Name:        "stride-total",
			Usage:       "total network stride; voc inputs are padded to a multiple",
			Value:       8,
			Destination: &strideTotal,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "stop after the first batch",
			Destination: &debugRun,
		},
		&cli.StringFlag{
			Name:        "experim-name",
			Usage:       "experiment name used in output paths",
			Value:       "default",
			Destination: &experimName,
		},
		&cli.StringFlag{
			Name:        "dir-root",
			Usage:       "root for checkpoints/<experiment>/val/<epoch>.png",
			Value:       ".",
			Destination: &dirRoot,
		},
		&cli.StringFlag{
			Name:        "log-val",
			Usage:       "validation log file (default: <dir-root>/checkpoints/<experiment>/log_val.txt)",
			Destination: &logVal,
		},
		&cli.StringFlag{
			Name:        "log-db",
			Usage:       "sqlite database that also records every pass",
			Destination: &logDB,
		},
		&cli.StringFlag{
			Name:        "onnxruntime-lib",
			Usage:       "path to the onnxruntime shared library",
			Destination: &onnxLib,
		},
	}
}

func validateCmd() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Run one validation pass and report mIoU and pixel accuracy",
		Flags: validateFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyValidateConfig(cmd, loaded)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			cfg, err := buildValidatorConfig(cmd)
			if err != nil {
				return err
			}

			var protos *prototype.Set
			if !cfg.UseSoftmax {
				if prototypesPath == "" {
					return fmt.Errorf("--prototypes is required unless --use-softmax is set")
				}
				protos, err = prototype.Load(prototypesPath)
				if err != nil {
					return fmt.Errorf("load prototypes: %w", err)
				}
				log.Info("loaded prototypes", "path", prototypesPath, "classes", protos.K, "dim", protos.D)
			}

			sinks, closeSinks, err := openLogSinks(cfg.LogPath, logDB, loaded.Influx)
			if err != nil {
				return err
			}
			defer closeSinks()

			v, err := validator.New(cfg,
				validator.WithLogger(log),
				validator.WithLogWriter(sinks),
				validator.WithProgress(func(p validator.Progress) {
					if p.Batch%progressEvery == 0 || p.Batch == p.Total {
						log.Info("progress", "batch", p.Batch, "of", p.Total, "miou", p.MeanIoU, "pixel_acc", p.PixelAcc)
					}
				}),
			)
			if err != nil {
				return err
			}

			outC := cfg.NClasses
			if protos != nil {
				outC = protos.D
			}
			m, err := model.NewONNX(model.ONNXConfig{
				Path:          modelPath,
				SharedLibrary: onnxLib,
				Mode:          model.ModeFor(cfg.UseSoftmax),
				OutChannels:   outC,
				Device:        v.Device(),
			})
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			log.Info("validating", "model", modelPath, "device", v.Device().String(), "epoch", epoch)
			res, err := v.Run(ctx, m, protos, int(epoch), nil)
			if err != nil {
				return err
			}
			if res.Visualization != "" {
				log.Info("wrote visualization", "path", res.Visualization)
			}
			return nil
		},
	}
}

// buildValidatorConfig turns the parsed flags into a validator.Config.
func buildValidatorConfig(cmd *cli.Command) (validator.Config, error) {
	kind, err := dataset.ParseKind(datasetName)
	if err != nil {
		return validator.Config{}, err
	}
	cfg := validator.DefaultConfig(kind)
	cfg.DataDir = dataDir
	cfg.ImageSize = int(imageSize)
	cfg.Workers = int(workers)
	cfg.Device = device
	cfg.DeviceOrdinal = int(gpuID)
	cfg.UseSoftmax = useSoftmax
	cfg.NonIsotropic = nonIsotropic
	cfg.StrideTotal = int(strideTotal)
	cfg.Debug = debugRun
	cfg.ExperimentName = experimName
	cfg.CheckpointDir = dirRoot
	if cmd.IsSet("n-classes") {
		cfg.NClasses = int(nClasses)
	}
	if cmd.IsSet("ignore-index") {
		cfg.IgnoreIndex = ignoreIndex
	}
	cfg.LogPath = logVal
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join(dirRoot, "checkpoints", experimName, "log_val.txt")
	}
	if cfg.DataDir == "" {
		return validator.Config{}, errors.New("--data-dir is required")
	}
	return cfg, nil
}

// openLogSinks builds the validation log fan-out.  The text log comes last
// so its line only appears once the structured sinks accepted the record.
// The returned func closes every sink that holds a connection.
func openLogSinks(logPath, dbPath string, influx vallog.InfluxConfig) (vallog.Multi, func(), error) {
	var sinks vallog.Multi
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	if dbPath != "" {
		db, err := vallog.OpenSQLite(dbPath)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		sinks = append(sinks, db)
	}
	if influx.Enabled() {
		w, err := vallog.NewInfluxWriter(influx)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, w.Close)
		sinks = append(sinks, w)
	}
	sinks = append(sinks, vallog.NewFileWriter(logPath))
	return sinks, closeAll, nil
}
