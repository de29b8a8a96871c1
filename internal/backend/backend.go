package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/segeval/internal/tensor"
)

const (
	CPU  = "cpu"
	CUDA = "cuda"
	Auto = "auto"
)

var (
	ErrUnknownDevice   = errors.New("unknown device")
	ErrCUDAUnavailable = errors.New("cuda device not available")
)

// Device is a compute placement resolved once per validator.
type Device struct {
	Name     string
	Ordinal  int
	Features []string
}

func (d Device) String() string {
	if d.Name == CUDA {
		return fmt.Sprintf("%s:%d", d.Name, d.Ordinal)
	}
	return d.Name + ":0"
}

// IsGPU reports whether tensors placed on d live in device memory.
func (d Device) IsGPU() bool { return d.Name == CUDA }

// Place moves a tensor onto the device.  Host and device memory are shared
// in this runtime; inference providers copy inputs themselves, so placement
// only validates the tensor.
func (d Device) Place(t *tensor.Tensor) (*tensor.Tensor, error) {
	if t == nil {
		return nil, fmt.Errorf("place on %s: nil tensor", d)
	}
	return t, nil
}

// PlaceLabels is Place for label maps.
func (d Device) PlaceLabels(l *tensor.Labels) (*tensor.Labels, error) {
	if l == nil {
		return nil, fmt.Errorf("place on %s: nil labels", d)
	}
	return l, nil
}

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case CPU, CUDA, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("%w %q (expected auto, cpu, or cuda)", ErrUnknownDevice, backend)
	}
}

// Resolve picks the concrete device for name.  auto prefers CUDA when this
// build has it and the GPU is present on the host, and falls back to the
// CPU otherwise.  An explicit cuda request fails with ErrCUDAUnavailable.
func Resolve(name string, ordinal int) (Device, error) {
	return resolve(name, ordinal, cudaDevicePresent)
}

func resolve(name string, ordinal int, present func(ordinal int) error) (Device, error) {
	backend, err := Normalize(name)
	if err != nil {
		return Device{}, err
	}
	switch backend {
	case CUDA:
		if err := present(ordinal); err != nil {
			return Device{}, fmt.Errorf("resolve cuda:%d: %w", ordinal, err)
		}
		return Device{Name: CUDA, Ordinal: ordinal}, nil
	case Auto:
		if present(ordinal) == nil {
			return Device{Name: CUDA, Ordinal: ordinal}, nil
		}
	}
	return Device{Name: CPU, Features: cpuFeatures()}, nil
}
