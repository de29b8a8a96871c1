package vallog

import (
	"context"
	"fmt"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

const measurement = "validation"

// InfluxConfig points at an InfluxDB 2 bucket.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

func (c InfluxConfig) Enabled() bool { return c.URL != "" && c.Bucket != "" }

// InfluxWriter writes one point per record with the blocking write API.
type InfluxWriter struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

func NewInfluxWriter(cfg InfluxConfig) (*InfluxWriter, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("influx: url and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxWriter{client: client, write: client.WriteAPIBlocking(cfg.Org, cfg.Bucket)}, nil
}

func (w *InfluxWriter) Write(ctx context.Context, rec Record) error {
	p := influxdb2.NewPoint(measurement,
		map[string]string{
			"experiment": rec.Experiment,
			"epoch":      strconv.Itoa(rec.Epoch),
		},
		map[string]any{
			"miou":      rec.MeanIoU,
			"pixel_acc": rec.PixelAcc,
			"batches":   rec.Batches,
			"run_id":    rec.RunID,
		},
		rec.CreatedAt,
	)
	if err := w.write.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func (w *InfluxWriter) Close() { w.client.Close() }
