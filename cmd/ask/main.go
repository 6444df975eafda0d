// Command ask reads one line from stdin, generates a continuation with a
// pretrained causal language model and prints it.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"nano-generate-go/logging"
	"nano-generate-go/nanogen"
	_ "nano-generate-go/purego"
)

// errNoInput is returned when stdin closes before a prompt line arrives.
var errNoInput = errors.New("no prompt on stdin")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand(os.Stdin, os.Stdout).Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newCommand(in io.Reader, out io.Writer) *cli.Command {
	o := &options{}

	return &cli.Command{
		Name:  "ask",
		Usage: "Generate a reply to one line of input with a causal language model",
		Flags: o.flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			path, required := o.configPath, c.IsSet("config")
			if path == "" {
				path = configPath()
			}

			cfg, err := LoadConfig(path, required)
			if err != nil {
				return err
			}
			applyConfig(c, cfg, o)

			return ask(ctx, o, in, out)
		},
	}
}

func ask(ctx context.Context, o *options, in io.Reader, out io.Writer) error {
	log, err := logging.NewErr("nanogen", o.logLevel)
	if err != nil {
		return err
	}

	if o.seed < 0 {
		return fmt.Errorf("seed must be >= 0")
	}

	config, err := nanogen.NewConfig(o.model,
		nanogen.WithBackend(o.backend),
		nanogen.WithCacheDir(o.cacheDir),
		nanogen.WithRevision(o.revision),
		nanogen.WithHubToken(o.hfToken),
		nanogen.WithOrtLibPath(o.ortLib),
		nanogen.WithLlamaLibPath(o.llamaLib),
		nanogen.WithThreads(int(o.threads)),
		nanogen.WithProgress(o.progress),
	)
	if err != nil {
		return err
	}

	params, err := nanogen.NewSamplingParams(
		nanogen.WithMaxLength(int(o.maxLength)),
		nanogen.WithTemperature(o.temperature),
		nanogen.WithTopK(int(o.topK)),
		nanogen.WithTopP(o.topP),
		nanogen.WithSeed(uint64(o.seed)),
		nanogen.WithDoSample(!o.noSample),
		nanogen.WithNumReturnSequences(int(o.numReturnSequences)),
	)
	if err != nil {
		return err
	}

	llm, err := nanogen.Load(ctx, config, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := llm.Close(); err != nil {
			log.Warn("close failed", zap.Error(err))
		}
	}()

	if _, err := fmt.Fprint(out, "> "); err != nil {
		return err
	}

	prompt, err := readPrompt(in)
	if err != nil {
		return err
	}

	responses, err := llm.Generate(ctx, prompt, params)
	if err != nil {
		return err
	}

	log.Info("generated",
		zap.Int("candidates", len(responses)),
		zap.Int("prompt_tokens", responses[0].PromptTokens),
		zap.Int("completion_tokens", responses[0].CompletionTokens),
		zap.Duration("elapsed", responses[0].Elapsed))

	if o.json {
		return writeJSON(out, responses)
	}

	for _, r := range responses {
		if _, err := fmt.Fprintln(out, r.Text); err != nil {
			return err
		}
	}

	return nil
}

// readPrompt reads one line, dropping the line terminator.
func readPrompt(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", errNoInput
		}
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

type jsonResponse struct {
	ID               string `json:"id"`
	Index            int    `json:"index"`
	Text             string `json:"text"`
	FullText         string `json:"full_text"`
	TokenIDs         []int  `json:"token_ids"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	FinishReason     string `json:"finish_reason"`
	ElapsedMS        int64  `json:"elapsed_ms"`
}

func writeJSON(out io.Writer, responses []nanogen.Response) error {
	items := make([]jsonResponse, len(responses))
	for i, r := range responses {
		items[i] = jsonResponse{
			ID:               r.ID,
			Index:            r.Index,
			Text:             r.Text,
			FullText:         r.FullText,
			TokenIDs:         r.TokenIDs,
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			FinishReason:     string(r.FinishReason),
			ElapsedMS:        r.Elapsed.Milliseconds(),
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}
