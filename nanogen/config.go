package nanogen

import (
	"fmt"
	"slices"
)

// DefaultModel is the checkpoint loaded when no identifier is configured.
const DefaultModel = "microsoft/DialoGPT-medium"

// Backend names accepted by Config.Backend.
const (
	BackendAuto  = "auto"
	BackendONNX  = "onnx"
	BackendLlama = "llama"
	BackendHTTP  = "http"
	BackendMock  = "mock"
)

var knownBackends = []string{BackendAuto, BackendONNX, BackendLlama, BackendHTTP, BackendMock}

// Config holds the configuration for loading a model
type Config struct {
	Model        string
	Backend      string
	CacheDir     string
	Revision     string
	HubToken     string
	OrtLibPath   string
	LlamaLibPath string
	Threads      int
	ContextSize  int
	EOS          int
	Progress     bool
}

// ConfigOption is a functional option for Config
type ConfigOption func(*Config)

// NewConfig creates a new Config with default values
func NewConfig(model string, opts ...ConfigOption) (*Config, error) {
	if model == "" {
		model = DefaultModel
	}

	c := &Config{
		Model:   model,
		Backend: BackendAuto,
		EOS:     -1,
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if !slices.Contains(knownBackends, c.Backend) {
		return fmt.Errorf("%w: unknown backend %q", ErrBackendUnavailable, c.Backend)
	}

	if c.Threads < 0 {
		return fmt.Errorf("threads must be >= 0")
	}

	if c.ContextSize < 0 {
		return fmt.Errorf("context_size must be >= 0")
	}

	return nil
}

// WithBackend selects the inference backend
func WithBackend(name string) ConfigOption {
	return func(c *Config) {
		if name != "" {
			c.Backend = name
		}
	}
}

// WithCacheDir sets the directory hub downloads are cached in
func WithCacheDir(dir string) ConfigOption {
	return func(c *Config) {
		c.CacheDir = dir
	}
}

// WithRevision pins the hub revision (branch, tag or commit)
func WithRevision(rev string) ConfigOption {
	return func(c *Config) {
		c.Revision = rev
	}
}

// WithHubToken sets the hub access token
func WithHubToken(token string) ConfigOption {
	return func(c *Config) {
		c.HubToken = token
	}
}

// WithOrtLibPath sets the onnxruntime shared library path
func WithOrtLibPath(path string) ConfigOption {
	return func(c *Config) {
		c.OrtLibPath = path
	}
}

// WithLlamaLibPath sets the directory holding the llama.cpp libraries
func WithLlamaLibPath(path string) ConfigOption {
	return func(c *Config) {
		c.LlamaLibPath = path
	}
}

// WithThreads sets the number of inference threads (0 = backend default)
func WithThreads(n int) ConfigOption {
	return func(c *Config) {
		c.Threads = n
	}
}

// WithContextSize sets the llama context window (0 = model default)
func WithContextSize(n int) ConfigOption {
	return func(c *Config) {
		c.ContextSize = n
	}
}

// WithEOS overrides the EOS token ID
func WithEOS(id int) ConfigOption {
	return func(c *Config) {
		c.EOS = id
	}
}

// WithProgress enables the generation progress bar on stderr
func WithProgress(b bool) ConfigOption {
	return func(c *Config) {
		c.Progress = b
	}
}
