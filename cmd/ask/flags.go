package main

import (
	"github.com/urfave/cli/v3"

	"nano-generate-go/nanogen"
)

// options holds every flag value of the ask command.
type options struct {
	model              string
	backend            string
	maxLength          int64
	temperature        float64
	topK               int64
	topP               float64
	seed               int64
	noSample           bool
	numReturnSequences int64
	cacheDir           string
	revision           string
	hfToken            string
	ortLib             string
	llamaLib           string
	threads            int64
	progress           bool
	json               bool
	logLevel           string
	configPath         string
}

func (o *options) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "hub repo id, hub .gguf file, local directory or .gguf file, server URL, or \"mock\"",
			Value:       nanogen.DefaultModel,
			Sources:     cli.EnvVars("NANOGEN_MODEL"),
			Destination: &o.model,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "inference backend (auto, onnx, llama, http, mock)",
			Value:       nanogen.BackendAuto,
			Sources:     cli.EnvVars("NANOGEN_BACKEND"),
			Destination: &o.backend,
		},
		&cli.Int64Flag{
			Name:        "max-length",
			Usage:       "maximum total tokens, prompt included",
			Value:       100,
			Sources:     cli.EnvVars("NANOGEN_MAX_LENGTH"),
			Destination: &o.maxLength,
		},
		&cli.FloatFlag{
			Name:        "temperature",
			Aliases:     []string{"temp", "t"},
			Usage:       "sampling temperature",
			Value:       0.7,
			Sources:     cli.EnvVars("NANOGEN_TEMPERATURE"),
			Destination: &o.temperature,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Usage:       "keep only the k most likely tokens (0 disables)",
			Value:       50,
			Sources:     cli.EnvVars("NANOGEN_TOP_K"),
			Destination: &o.topK,
		},
		&cli.FloatFlag{
			Name:        "top-p",
			Usage:       "nucleus sampling mass (1.0 disables)",
			Value:       1.0,
			Sources:     cli.EnvVars("NANOGEN_TOP_P"),
			Destination: &o.topP,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "random seed (0 = unseeded)",
			Sources:     cli.EnvVars("NANOGEN_SEED"),
			Destination: &o.seed,
		},
		&cli.BoolFlag{
			Name:        "no-sample",
			Usage:       "greedy decoding",
			Sources:     cli.EnvVars("NANOGEN_NO_SAMPLE"),
			Destination: &o.noSample,
		},
		&cli.Int64Flag{
			Name:        "num-return-sequences",
			Aliases:     []string{"n"},
			Usage:       "number of candidates to generate",
			Value:       1,
			Sources:     cli.EnvVars("NANOGEN_NUM_RETURN_SEQUENCES"),
			Destination: &o.numReturnSequences,
		},
		&cli.StringFlag{
			Name:        "cache-dir",
			Usage:       "hub download cache directory",
			Sources:     cli.EnvVars("NANOGEN_CACHE_DIR"),
			Destination: &o.cacheDir,
		},
		&cli.StringFlag{
			Name:        "revision",
			Usage:       "hub revision (branch, tag or commit)",
			Sources:     cli.EnvVars("NANOGEN_REVISION"),
			Destination: &o.revision,
		},
		&cli.StringFlag{
			Name:        "hf-token",
			Usage:       "hub access token",
			Sources:     cli.EnvVars("NANOGEN_HF_TOKEN", "HF_TOKEN"),
			Destination: &o.hfToken,
		},
		&cli.StringFlag{
			Name:        "ort-lib",
			Usage:       "path to the onnxruntime shared library",
			Sources:     cli.EnvVars("NANOGEN_ORT_LIB", "ONNXRUNTIME_LIB"),
			Destination: &o.ortLib,
		},
		&cli.StringFlag{
			Name:        "llama-lib",
			Usage:       "directory holding the llama.cpp libraries",
			Sources:     cli.EnvVars("NANOGEN_LLAMA_LIB", "YZMA_LIB"),
			Destination: &o.llamaLib,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "inference threads (0 = backend default)",
			Sources:     cli.EnvVars("NANOGEN_THREADS"),
			Destination: &o.threads,
		},
		&cli.BoolFlag{
			Name:        "progress",
			Usage:       "show download and generation progress on stderr",
			Sources:     cli.EnvVars("NANOGEN_PROGRESS"),
			Destination: &o.progress,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print responses as JSON",
			Sources:     cli.EnvVars("NANOGEN_JSON"),
			Destination: &o.json,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "warn",
			Sources:     cli.EnvVars("NANOGEN_LOG_LEVEL"),
			Destination: &o.logLevel,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "config file (default $XDG_CONFIG_HOME/nanogen/config.yaml)",
			Sources:     cli.EnvVars("NANOGEN_CONFIG"),
			Destination: &o.configPath,
		},
	}
}
