package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the config file ($XDG_CONFIG_HOME/nanogen/config.yaml).
// Numeric and boolean fields are pointers so we can distinguish "not set"
// from zero values.
type Config struct {
	Model   string `yaml:"model"`
	Backend string `yaml:"backend"`

	// Sampling defaults
	MaxLength          *int64   `yaml:"max_length"`
	Temperature        *float64 `yaml:"temperature"`
	TopK               *int64   `yaml:"top_k"`
	TopP               *float64 `yaml:"top_p"`
	Seed               *int64   `yaml:"seed"`
	DoSample           *bool    `yaml:"do_sample"`
	NumReturnSequences *int64   `yaml:"num_return_sequences"`

	// Hub
	CacheDir string `yaml:"cache_dir"`
	Revision string `yaml:"revision"`
	HFToken  string `yaml:"hf_token"`

	// Runtimes
	OrtLib   string `yaml:"ort_lib"`
	LlamaLib string `yaml:"llama_lib"`
	Threads  *int64 `yaml:"threads"`

	// Output
	Progress *bool  `yaml:"progress"`
	LogLevel string `yaml:"log_level"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "nanogen", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config unless required is set; a malformed file is always an error.
func LoadConfig(path string, required bool) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// applyConfig copies config file values into o for every flag that was not
// set on the command line or through the environment.
func applyConfig(c *cli.Command, cfg Config, o *options) {
	setString := func(flag, v string, dst *string) {
		if v != "" && !c.IsSet(flag) {
			*dst = v
		}
	}
	setInt := func(flag string, v *int64, dst *int64) {
		if v != nil && !c.IsSet(flag) {
			*dst = *v
		}
	}
	setFloat := func(flag string, v *float64, dst *float64) {
		if v != nil && !c.IsSet(flag) {
			*dst = *v
		}
	}

	setString("model", cfg.Model, &o.model)
	setString("backend", cfg.Backend, &o.backend)
	setString("cache-dir", cfg.CacheDir, &o.cacheDir)
	setString("revision", cfg.Revision, &o.revision)
	setString("hf-token", cfg.HFToken, &o.hfToken)
	setString("ort-lib", cfg.OrtLib, &o.ortLib)
	setString("llama-lib", cfg.LlamaLib, &o.llamaLib)
	setString("log-level", cfg.LogLevel, &o.logLevel)

	setInt("max-length", cfg.MaxLength, &o.maxLength)
	setInt("top-k", cfg.TopK, &o.topK)
	setInt("seed", cfg.Seed, &o.seed)
	setInt("num-return-sequences", cfg.NumReturnSequences, &o.numReturnSequences)
	setInt("threads", cfg.Threads, &o.threads)

	setFloat("temperature", cfg.Temperature, &o.temperature)
	setFloat("top-p", cfg.TopP, &o.topP)

	if cfg.DoSample != nil && !c.IsSet("no-sample") {
		o.noSample = !*cfg.DoSample
	}
	if cfg.Progress != nil && !c.IsSet("progress") {
		o.progress = *cfg.Progress
	}
}
