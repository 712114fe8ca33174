//go:build silero

package vad

import (
	_ "embed"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// SileroEngine runs Silero VAD v5 inference via ONNX Runtime. It is only
// compiled in with `-tags silero`; the default build uses RMSEngine instead.
//
// BUILD REQUIREMENT: internal/vad/silero_vad.onnx must exist before
// compiling with -tags silero (download it once, as documented by the
// upstream Silero VAD project).
//
//go:embed silero_vad.onnx
var sileroModelData []byte

const sileroStateSize = 128

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

type SileroEngine struct {
	session *ort.AdvancedSession

	inputTensor  *ort.Tensor[float32]
	stateTensor  *ort.Tensor[float32]
	srTensor     *ort.Tensor[int64]
	outputTensor *ort.Tensor[float32]
	stateNTensor *ort.Tensor[float32]
}

// NewSileroEngine initializes ONNX Runtime, loads the embedded model, and
// allocates the input/output tensors Silero VAD v5 expects at 16 kHz /
// 512-sample windows.
func NewSileroEngine() (*SileroEngine, error) {
	if len(sileroModelData) == 0 {
		return nil, fmt.Errorf("silero: model data is empty (build without -tags silero?)")
	}

	ortInitOnce.Do(func() {
		libPath, err := resolveORTLibPath()
		if err != nil {
			ortInitErr = fmt.Errorf("resolve ORT lib: %w", err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("silero: %w", ortInitErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 512))
	if err != nil {
		return nil, fmt.Errorf("silero: create input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("silero: create state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{16000})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("silero: create sr tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("silero: create output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("silero: create stateN tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		sileroModelData,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("silero: create session: %w", err)
	}

	return &SileroEngine{
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		srTensor:     srTensor,
		outputTensor: outputTensor,
		stateNTensor: stateNTensor,
	}, nil
}

// SpeechProbability runs one inference pass over chunk, which must be
// exactly 512 samples at 16000 Hz (the gating state machine's default
// chunk size at that rate).
func (e *SileroEngine) SpeechProbability(chunk []float32, sampleRateHz int) (float64, error) {
	if sampleRateHz != 16000 {
		return 0, fmt.Errorf("silero: only 16000 Hz is supported, got %d", sampleRateHz)
	}
	if len(chunk) != 512 {
		return 0, fmt.Errorf("silero: expected 512-sample chunk, got %d", len(chunk))
	}

	copy(e.inputTensor.GetData(), chunk)
	if err := e.session.Run(); err != nil {
		return 0, fmt.Errorf("silero: inference: %w", err)
	}
	copy(e.stateTensor.GetData(), e.stateNTensor.GetData())

	out := e.outputTensor.GetData()
	return float64(out[0]), nil
}

func (e *SileroEngine) Reset() {
	clearFloat32Slice(e.stateTensor.GetData())
}

func (e *SileroEngine) Name() string {
	return "silero_v5"
}

// Close releases ONNX Runtime resources. Safe to call multiple times.
func (e *SileroEngine) Close() error {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.stateTensor != nil {
		e.stateTensor.Destroy()
		e.stateTensor = nil
	}
	if e.srTensor != nil {
		e.srTensor.Destroy()
		e.srTensor = nil
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	if e.stateNTensor != nil {
		e.stateNTensor.Destroy()
		e.stateNTensor = nil
	}
	return nil
}

func clearFloat32Slice(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
