package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/segeval/internal/vallog"
)

// Config represents the segeval configuration file (~/.config/segeval/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	DirRoot   string `yaml:"dir_root"`
	Dataset   string `yaml:"dataset"`
	DataDir   string `yaml:"data_dir"`
	Workers   *int64 `yaml:"n_workers"`
	Device    string `yaml:"device"`
	GPUID     *int64 `yaml:"gpu_id"`
	LogVal    string `yaml:"log_val"`
	LogDB     string `yaml:"log_db"`
	ONNXLib   string `yaml:"onnxruntime_lib"`
	ImageSize *int64 `yaml:"image_size"`

	// Model
	StrideTotal  *int64 `yaml:"stride_total"`
	UseSoftmax   *bool  `yaml:"use_softmax"`
	NonIsotropic *bool  `yaml:"non_isotropic"`

	Influx vallog.InfluxConfig `yaml:"influx"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "segeval", "config.yaml")
}

// LoadConfig reads path, or the default location when path is empty.  A
// missing default file yields a zero Config; a missing explicit file is an
// error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyValidateConfig applies config file defaults to validate command
// variables when the corresponding CLI flag was not explicitly set.
func applyValidateConfig(c *cli.Command, cfg Config) {
	if cfg.DirRoot != "" && !c.IsSet("dir-root") {
		dirRoot = cfg.DirRoot
	}
	if cfg.Dataset != "" && !c.IsSet("dataset") {
		datasetName = cfg.Dataset
	}
	if cfg.DataDir != "" && !c.IsSet("data-dir") {
		dataDir = cfg.DataDir
	}
	if cfg.Workers != nil && !c.IsSet("n-workers") {
		workers = *cfg.Workers
	}
	if cfg.Device != "" && !c.IsSet("device") {
		device = cfg.Device
	}
	if cfg.GPUID != nil && !c.IsSet("gpu-id") {
		gpuID = *cfg.GPUID
	}
	if cfg.LogVal != "" && !c.IsSet("log-val") {
		logVal = cfg.LogVal
	}
	if cfg.LogDB != "" && !c.IsSet("log-db") {
		logDB = cfg.LogDB
	}
	if cfg.ONNXLib != "" && !c.IsSet("onnxruntime-lib") {
		onnxLib = cfg.ONNXLib
	}
	if cfg.ImageSize != nil && !c.IsSet("image-size") {
		imageSize = *cfg.ImageSize
	}
	if cfg.StrideTotal != nil && !c.IsSet("stride-total") {
		strideTotal = *cfg.StrideTotal
	}
	if cfg.UseSoftmax != nil && !c.IsSet("use-softmax") {
		useSoftmax = *cfg.UseSoftmax
	}
	if cfg.NonIsotropic != nil && !c.IsSet("non-isotropic") {
		nonIsotropic = *cfg.NonIsotropic
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.DirRoot != "" && !c.IsSet("dir-root") {
		dirRoot = cfg.DirRoot
	}
	if cfg.LogDB != "" && !c.IsSet("log-db") {
		logDB = cfg.LogDB
	}
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
