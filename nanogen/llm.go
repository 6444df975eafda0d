package nanogen

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// BackendFactory resolves cfg.Model into a runner and tokenizer pair. ctx
// is the caller's context for the whole session, so components may keep it
// for calls that cannot take one.
type BackendFactory func(ctx context.Context, cfg *Config, log *zap.Logger) (ModelRunner, Tokenizer, error)

// stderrProgress receives the progress bar when Config.Progress is set.
var stderrProgress io.Writer = os.Stderr

var (
	backendsMu sync.RWMutex
	backends   = map[string]BackendFactory{}
)

// RegisterBackend makes a backend available under name. Registering the
// same name twice replaces the earlier factory.
func RegisterBackend(name string, factory BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = factory
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterBackend(BackendMock, func(_ context.Context, cfg *Config, _ *zap.Logger) (ModelRunner, Tokenizer, error) {
		tok := NewMockTokenizer()
		return NewMockModelRunner(tok.EOSTokenID()), tok, nil
	})
}

// LLM is the user-facing API: a loaded tokenizer and model bound together.
// An LLM only exists once both have loaded.
type LLM struct {
	*Engine
	config    *Config
	tokenizer Tokenizer
}

// Load resolves config.Model with the configured backend and returns a
// ready LLM. Failures are reported as StageLoad errors.
func Load(ctx context.Context, config *Config, log *zap.Logger) (*LLM, error) {
	if log == nil {
		log = zap.NewNop()
	}

	backendsMu.RLock()
	factory, ok := backends[config.Backend]
	backendsMu.RUnlock()

	if !ok {
		return nil, stageErr(StageLoad, fmt.Errorf("%w: %q is not registered", ErrBackendUnavailable, config.Backend))
	}

	start := time.Now()

	modelRunner, tokenizer, err := factory(ctx, config, log)
	if err != nil {
		return nil, stageErr(StageLoad, err)
	}

	log.Debug("model loaded",
		zap.String("model", config.Model),
		zap.String("backend", config.Backend),
		zap.Duration("elapsed", time.Since(start)))

	opts := []EngineOption{WithLogger(log)}
	if config.Progress {
		opts = append(opts, WithProgressWriter(stderrProgress))
	}

	return NewLLMWithComponents(config, modelRunner, tokenizer, opts...), nil
}

// NewLLMWithComponents creates a new LLM with custom components
func NewLLMWithComponents(config *Config, modelRunner ModelRunner, tokenizer Tokenizer, opts ...EngineOption) *LLM {
	return &LLM{
		Engine:    NewEngine(modelRunner, tokenizer, config.EOS, opts...),
		config:    config,
		tokenizer: tokenizer,
	}
}

// Config returns the configuration the LLM was loaded with.
func (llm *LLM) Config() *Config {
	return llm.config
}

// GenerateResponse generates a single continuation of prompt. When params
// asks for several candidates only the first is returned.
func (llm *LLM) GenerateResponse(ctx context.Context, prompt string, params *SamplingParams) (Response, error) {
	responses, err := llm.Generate(ctx, prompt, params)
	if err != nil {
		return Response{}, err
	}
	return responses[0], nil
}

// Close releases the model runner and, when it holds native resources,
// the tokenizer.
func (llm *LLM) Close() error {
	err := llm.Engine.Close()
	if c, ok := llm.tokenizer.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}
