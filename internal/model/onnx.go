package model

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/samcharles93/segeval/internal/backend"
	"github.com/samcharles93/segeval/internal/tensor"
)

var ErrSessionClosed = errors.New("onnx session closed")

var (
	envOnce sync.Once
	envErr  error
)

// ONNXConfig describes an exported segmentation graph.
type ONNXConfig struct {
	Path string
	// SharedLibrary overrides the onnxruntime shared library location.
	SharedLibrary string
	// InputName is the graph input, "x" unless overridden.
	InputName string
	Mode      Mode
	// OutChannels is the channel count of the selected head: the class
	// count for ModeSoftmax, the embedding width for ModePrototype.
	OutChannels int
	Device      backend.Device
}

// ONNX runs a segmentation graph through onnxruntime.  The graph must keep
// the input resolution on its output head.
type ONNX struct {
	mu       sync.Mutex
	session  *ort.DynamicAdvancedSession
	mode     Mode
	outC     int
	evalMode bool
}

func initEnvironment(sharedLib string) error {
	envOnce.Do(func() {
		if sharedLib != "" {
			ort.SetSharedLibraryPath(sharedLib)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	})
	return envErr
}

func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if cfg.OutChannels <= 0 {
		return nil, fmt.Errorf("onnx: output channels must be positive, got %d", cfg.OutChannels)
	}
	if err := initEnvironment(cfg.SharedLibrary); err != nil {
		return nil, err
	}
	inputName := cfg.InputName
	if inputName == "" {
		inputName = "x"
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() { _ = opts.Destroy() }()

	if cfg.Device.IsGPU() {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create CUDA provider options: %w", err)
		}
		defer func() { _ = cudaOpts.Destroy() }()
		if err := cudaOpts.Update(map[string]string{"device_id": strconv.Itoa(cfg.Device.Ordinal)}); err != nil {
			return nil, fmt.Errorf("failed to configure CUDA provider: %w", err)
		}
		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return nil, fmt.Errorf("failed to enable CUDA provider: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.Path,
		[]string{inputName}, []string{cfg.Mode.OutputName()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &ONNX{session: session, mode: cfg.Mode, outC: cfg.OutChannels}, nil
}

// Eval is a no-op for exported graphs beyond recording the switch; they are
// traced in inference mode.
func (m *ONNX) Eval() {
	m.mu.Lock()
	m.evalMode = true
	m.mu.Unlock()
}

func (m *ONNX) Forward(ctx context.Context, x *tensor.Tensor) (Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, ErrSessionClosed
	}

	in, err := ort.NewTensor(ort.NewShape(int64(x.N), int64(x.C), int64(x.H), int64(x.W)), x.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() { _ = in.Destroy() }()

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(x.N), int64(m.outC), int64(x.H), int64(x.W)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer func() { _ = out.Destroy() }()

	if err := m.session.Run([]ort.ArbitraryTensor{in}, []ort.ArbitraryTensor{out}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	data := make([]float32, len(out.GetData()))
	copy(data, out.GetData())
	t, err := tensor.FromData(x.N, m.outC, x.H, x.W, data)
	if err != nil {
		return nil, err
	}
	return NewOutput(m.mode, t), nil
}

func (m *ONNX) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
