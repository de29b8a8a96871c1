package backend

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"", Auto, false},
		{"  CPU ", CPU, false},
		{"cuda", CUDA, false},
		{"auto", Auto, false},
		{"tpu", "", true},
	}
	for _, tc := range tests {
		got, err := Normalize(tc.input)
		if tc.wantErr {
			if !errors.Is(err, ErrUnknownDevice) {
				t.Errorf("Normalize(%q): expected ErrUnknownDevice, got %v", tc.input, err)
			}
			continue
		}
		if err != nil || got != tc.expected {
			t.Errorf("Normalize(%q): expected %q, got %q (err=%v)", tc.input, tc.expected, got, err)
		}
	}
}

func TestResolveAutoMatchesHost(t *testing.T) {
	t.Parallel()
	dev, err := Resolve("auto", 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := CPU
	if cudaDevicePresent(0) == nil {
		want = CUDA
	}
	if dev.Name != want {
		t.Fatalf("expected %s, got %s", want, dev.Name)
	}
	if !strings.HasPrefix(dev.String(), want+":") {
		t.Fatalf("unexpected device string %q", dev.String())
	}
}

func TestResolveWithDeviceCheck(t *testing.T) {
	t.Parallel()
	missing := func(int) error { return fmt.Errorf("%w: no device node", ErrCUDAUnavailable) }
	present := func(int) error { return nil }

	tests := []struct {
		name    string
		device  string
		check   func(int) error
		want    string
		wantErr bool
	}{
		{"auto without gpu falls back to cpu", "auto", missing, CPU, false},
		{"auto with gpu", "auto", present, CUDA, false},
		{"explicit cuda with gpu", "cuda", present, CUDA, false},
		{"explicit cuda without gpu", "cuda", missing, "", true},
		{"cpu ignores the check", "cpu", present, CPU, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dev, err := resolve(tc.device, 1, tc.check)
			if tc.wantErr {
				if !errors.Is(err, ErrCUDAUnavailable) {
					t.Fatalf("expected ErrCUDAUnavailable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if dev.Name != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, dev.Name)
			}
			if dev.Name == CUDA && dev.String() != "cuda:1" {
				t.Fatalf("expected ordinal to be kept, got %s", dev)
			}
		})
	}
}

func TestResolveCUDAWithoutBuildTag(t *testing.T) {
	t.Parallel()
	if Has(CUDA) {
		t.Skip("built with cuda")
	}
	if _, err := Resolve("cuda", 0); !errors.Is(err, ErrCUDAUnavailable) {
		t.Fatalf("expected ErrCUDAUnavailable, got %v", err)
	}
}

func TestResolveCPU(t *testing.T) {
	t.Parallel()
	dev, err := Resolve("cpu", 3)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dev.IsGPU() || dev.String() != "cpu:0" {
		t.Fatalf("unexpected device %+v", dev)
	}
}

func TestAvailableListsCPU(t *testing.T) {
	t.Parallel()
	if !strings.HasPrefix(Available(), CPU) {
		t.Fatalf("expected cpu first, got %q", Available())
	}
}
