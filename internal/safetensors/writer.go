package safetensors

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
)

// Writer accumulates tensors in memory and serialises them as one
// safetensors file.  Names are written in sorted order so output is
// reproducible.
type Writer struct {
	entries  map[string]entry
	metadata map[string]string
}

type entry struct {
	dtype string
	shape []int
	data  []byte
}

func NewWriter() *Writer {
	return &Writer{entries: make(map[string]entry)}
}

// SetMetadata records a free-form string pair under __metadata__.
func (w *Writer) SetMetadata(key, value string) {
	if w.metadata == nil {
		w.metadata = make(map[string]string)
	}
	w.metadata[key] = value
}

// AddF32 stores data as an F32 tensor.
func (w *Writer) AddF32(name string, shape []int, data []float32) error {
	if err := checkCount(name, shape, len(data)); err != nil {
		return err
	}
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	w.entries[name] = entry{dtype: "F32", shape: append([]int(nil), shape...), data: buf}
	return nil
}

// AddI64 stores data as an I64 tensor.
func (w *Writer) AddI64(name string, shape []int, data []int64) error {
	if err := checkCount(name, shape, len(data)); err != nil {
		return err
	}
	buf := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	w.entries[name] = entry{dtype: "I64", shape: append([]int(nil), shape...), data: buf}
	return nil
}

func checkCount(name string, shape []int, got int) error {
	n, err := numElements(shape)
	if err != nil {
		return fmt.Errorf("tensor %s: %w", name, err)
	}
	if n != got {
		return fmt.Errorf("tensor %s: shape %v wants %d values, got %d", name, shape, n, got)
	}
	return nil
}

// Bytes returns the serialised container.
func (w *Writer) Bytes() ([]byte, error) {
	names := make([]string, 0, len(w.entries))
	for name := range w.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(w.metadata) > 0 {
		header["__metadata__"] = w.metadata
	}
	var off int64
	for _, name := range names {
		e := w.entries[name]
		end := off + int64(len(e.data))
		header[name] = tensorHeader{DType: e.dtype, Shape: e.shape, DataOffsets: []int64{off, end}}
		off = end
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	// Pad the header with spaces so the payload starts 8-byte aligned.
	if rem := len(headerBytes) % 8; rem != 0 {
		headerBytes = append(headerBytes, bytes.Repeat([]byte{' '}, 8-rem)...)
	}

	var buf bytes.Buffer
	buf.Grow(8 + len(headerBytes) + int(off))
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	buf.Write(lenBuf[:])
	buf.Write(headerBytes)
	for _, name := range names {
		buf.Write(w.entries[name].data)
	}
	return buf.Bytes(), nil
}

// WriteFile serialises the container to path, creating parent directories.
func (w *Writer) WriteFile(path string) error {
	data, err := w.Bytes()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
