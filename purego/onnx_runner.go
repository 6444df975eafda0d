package purego

import (
	"context"
	"fmt"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"nano-generate-go/nanogen"
)

const (
	inputIDsName      = "input_ids"
	attentionMaskName = "attention_mask"
	positionIDsName   = "position_ids"
	logitsName        = "logits"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// initORT loads the onnxruntime shared library once per process.
func initORT(libPath string) error {
	ortOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if !ort.IsInitialized() {
			if err := ort.InitializeEnvironment(); err != nil {
				ortErr = fmt.Errorf("%w: failed to initialize ONNX runtime: %v", nanogen.ErrBackendUnavailable, err)
			}
		}
	})
	return ortErr
}

// ONNXModelRunner implements ModelRunner using ONNX Runtime. Each step runs
// the full sequence through the graph and samples from the last position.
type ONNXModelRunner struct {
	session      *ort.DynamicAdvancedSession
	inputNames   []string
	hasMask      bool
	hasPositions bool
	cache        *nanogen.PrefixCache
	log          *zap.Logger

	// forward returns the last-position logits for a token sequence. It is
	// nil once the runner is closed.
	forward func(tokenIDs []int) ([]float32, error)
}

// NewONNXModelRunner creates a session for the causal LM graph at modelPath.
// The graph must take input_ids (and optionally attention_mask and
// position_ids) and produce logits. Graphs that expect past key values are
// rejected.
func NewONNXModelRunner(modelPath string, config *nanogen.Config, log *zap.Logger) (*ONNXModelRunner, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if err := initORT(config.OrtLibPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", modelPath, err)
	}

	runner := &ONNXModelRunner{
		cache: nanogen.NewPrefixCache(4),
		log:   log,
	}

	for _, in := range inputs {
		switch in.Name {
		case inputIDsName:
		case attentionMaskName:
			runner.hasMask = true
		case positionIDsName:
			runner.hasPositions = true
		default:
			return nil, fmt.Errorf("unsupported model input %q (export the model without past key values)", in.Name)
		}
		runner.inputNames = append(runner.inputNames, in.Name)
	}

	if !slices.Contains(runner.inputNames, inputIDsName) {
		return nil, fmt.Errorf("model %s has no %s input", modelPath, inputIDsName)
	}

	if !slices.ContainsFunc(outputs, func(o ort.InputOutputInfo) bool { return o.Name == logitsName }) {
		return nil, fmt.Errorf("model %s has no %s output", modelPath, logitsName)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if config.Threads > 0 {
		if err := options.SetIntraOpNumThreads(config.Threads); err != nil {
			return nil, fmt.Errorf("failed to set threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, runner.inputNames, []string{logitsName}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	runner.session = session
	runner.forward = runner.lastLogits

	log.Debug("onnx session created",
		zap.String("model", modelPath),
		zap.Strings("inputs", runner.inputNames))

	return runner, nil
}

// Run executes one decoding step for each sequence
func (m *ONNXModelRunner) Run(ctx context.Context, seqs []*nanogen.Sequence, isPrefill bool) ([]int, error) {
	if m.forward == nil {
		return nil, fmt.Errorf("model runner is closed")
	}

	tokenIDs := make([]int, len(seqs))

	for i, seq := range seqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(seq.TokenIDs) == 0 {
			return nil, fmt.Errorf("sequence %d has no tokens", seq.SeqID)
		}

		logits, err := m.logits(seq.TokenIDs, isPrefill)
		if err != nil {
			return nil, err
		}

		tok, err := Sample(logits, SamplingParamsFor(seq), seq.Rand)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", seq.SeqID, err)
		}
		tokenIDs[i] = tok
	}

	return tokenIDs, nil
}

// logits returns the next-token logits for tokenIDs. Prompts go through the
// prefix cache so candidates of one prompt share a single forward pass;
// decode steps never repeat, so they skip it.
func (m *ONNXModelRunner) logits(tokenIDs []int, isPrefill bool) ([]float32, error) {
	if !isPrefill {
		return m.forward(tokenIDs)
	}

	if logits, ok := m.cache.Get(tokenIDs); ok {
		return logits, nil
	}

	logits, err := m.forward(tokenIDs)
	if err != nil {
		return nil, err
	}
	m.cache.Put(tokenIDs, logits)
	return logits, nil
}

// lastLogits runs the graph over tokenIDs and returns the logits of the
// final position.
func (m *ONNXModelRunner) lastLogits(tokenIDs []int) ([]float32, error) {
	n := int64(len(tokenIDs))
	shape := ort.NewShape(1, n)

	ids := make([]int64, n)
	mask := make([]int64, n)
	positions := make([]int64, n)
	for j, id := range tokenIDs {
		ids[j] = int64(id)
		mask[j] = 1
		positions[j] = int64(j)
	}

	data := map[string][]int64{
		inputIDsName:      ids,
		attentionMaskName: mask,
		positionIDsName:   positions,
	}

	inputs := make([]ort.Value, 0, len(m.inputNames))
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()

	for _, name := range m.inputNames {
		t, err := ort.NewTensor(shape, data[name])
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		inputs = append(inputs, t)
	}

	outputs := []ort.Value{nil}
	if err := m.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("logits are not float32")
	}

	dims := out.GetShape()
	if len(dims) != 3 || dims[1] != n {
		return nil, fmt.Errorf("unexpected logits shape %v", dims)
	}

	vocabSize := int(dims[2])
	all := out.GetData()
	start := (int(n) - 1) * vocabSize

	return slices.Clone(all[start : start+vocabSize]), nil
}

// Close cleans up resources
func (m *ONNXModelRunner) Close() error {
	if m.forward == nil {
		return nil
	}
	m.forward = nil

	hits, misses := m.cache.Stats()
	m.log.Debug("onnx prefix cache", zap.Int("hits", hits), zap.Int("misses", misses))

	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
