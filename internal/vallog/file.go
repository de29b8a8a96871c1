package vallog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileWriter appends one "epoch miou pixel_acc" line per record.
type FileWriter struct {
	Path string

	mu sync.Mutex
}

func NewFileWriter(path string) *FileWriter {
	return &FileWriter{Path: path}
}

func (w *FileWriter) Write(_ context.Context, rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if dir := filepath.Dir(w.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(w.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%d %v %v\n", rec.Epoch, rec.MeanIoU, rec.PixelAcc); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", w.Path, err)
	}
	return f.Close()
}
