package nanogen

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// Response is one generated candidate for a prompt.
type Response struct {
	ID               string
	Index            int
	Prompt           string
	FullText         string
	Text             string
	TokenIDs         []int
	PromptTokens     int
	CompletionTokens int
	FinishReason     FinishReason
	Elapsed          time.Duration
}

// Engine runs the encode, generate, decode pipeline over a tokenizer and a
// model runner.
type Engine struct {
	modelRunner ModelRunner
	tokenizer   Tokenizer
	eos         int
	log         *zap.Logger
	progress    io.Writer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithProgressWriter renders a token progress bar to w while generating.
// A nil writer disables it.
func WithProgressWriter(w io.Writer) EngineOption {
	return func(e *Engine) {
		e.progress = w
	}
}

// NewEngine creates a new engine. eos < 0 takes the EOS token from the
// tokenizer.
func NewEngine(modelRunner ModelRunner, tokenizer Tokenizer, eos int, opts ...EngineOption) *Engine {
	if eos < 0 {
		eos = tokenizer.EOSTokenID()
	}

	e := &Engine{
		modelRunner: modelRunner,
		tokenizer:   tokenizer,
		eos:         eos,
		log:         zap.NewNop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// EOSTokenID returns the token that ends a sequence.
func (e *Engine) EOSTokenID() int {
	return e.eos
}

// Encode converts a prompt to token IDs.
func (e *Engine) Encode(prompt string) ([]int, error) {
	tokenIDs, err := e.tokenizer.Encode(prompt)
	if err != nil {
		return nil, stageErr(StageEncode, fmt.Errorf("failed to encode prompt: %w", err))
	}
	return tokenIDs, nil
}

// Decode converts token IDs back to text, skipping special tokens.
func (e *Engine) Decode(tokenIDs []int) (string, error) {
	text, err := e.tokenizer.Decode(tokenIDs, true)
	if err != nil {
		return "", stageErr(StageDecode, fmt.Errorf("failed to decode tokens: %w", err))
	}
	return text, nil
}

// Generate samples params.NumReturnSequences continuations of prompt. Each
// response holds the full decoded text and the continuation with the
// prompt's characters removed from the front and whitespace trimmed.
func (e *Engine) Generate(ctx context.Context, prompt string, params *SamplingParams) ([]Response, error) {
	if params == nil {
		params = DefaultSamplingParams()
	}

	start := time.Now()

	promptIDs, err := e.Encode(prompt)
	if err != nil {
		return nil, err
	}

	if len(promptIDs) == 0 {
		return nil, stageErr(StageEncode, ErrEmptyPrompt)
	}

	if len(promptIDs) > params.MaxLength {
		return nil, stageErr(StageEncode, fmt.Errorf("%w: %d tokens, max_length %d", ErrPromptTooLong, len(promptIDs), params.MaxLength))
	}

	e.log.Debug("prompt encoded",
		zap.Int("prompt_tokens", len(promptIDs)),
		zap.Int("max_length", params.MaxLength),
		zap.Int("num_return_sequences", params.NumReturnSequences))

	scheduler := NewScheduler(e.eos)
	seqs := make([]*Sequence, params.NumReturnSequences)
	for i := range seqs {
		seqs[i] = NewSequence(promptIDs, params, i)
		scheduler.Add(seqs[i])
	}

	defer e.release(seqs)

	bar := e.newProgressBar(params.NumReturnSequences * (params.MaxLength - len(promptIDs)))

	steps := 0
	for !scheduler.IsFinished() {
		if err := ctx.Err(); err != nil {
			return nil, stageErr(StageGenerate, err)
		}

		scheduled, isPrefill := scheduler.Schedule()
		if len(scheduled) == 0 {
			break
		}

		tokenIDs, err := e.modelRunner.Run(ctx, scheduled, isPrefill)
		if err != nil {
			return nil, stageErr(StageGenerate, fmt.Errorf("model inference failed: %w", err))
		}

		if len(tokenIDs) != len(scheduled) {
			return nil, stageErr(StageGenerate, fmt.Errorf("model returned %d tokens for %d sequences", len(tokenIDs), len(scheduled)))
		}

		scheduler.Postprocess(scheduled, tokenIDs)
		steps++

		if bar != nil {
			_ = bar.Add(len(scheduled))
		}

		for _, seq := range scheduled {
			if seq.IsFinished() {
				e.releaseOne(seq)
			}
		}
	}

	if bar != nil {
		_ = bar.Finish()
	}

	responses := make([]Response, 0, len(seqs))
	for _, seq := range seqs {
		full, err := e.Decode(seq.TokenIDs)
		if err != nil {
			return nil, err
		}

		responses = append(responses, Response{
			ID:               uuid.NewString(),
			Index:            seq.Index,
			Prompt:           prompt,
			FullText:         full,
			Text:             StripPrompt(full, prompt),
			TokenIDs:         slices.Clone(seq.TokenIDs),
			PromptTokens:     seq.NumPromptTokens,
			CompletionTokens: seq.NumCompletionTokens(),
			FinishReason:     seq.Finish,
			Elapsed:          time.Since(start),
		})
	}

	padResponses(responses, e.padToken(params))

	e.log.Debug("generation finished",
		zap.Int("steps", steps),
		zap.Duration("elapsed", time.Since(start)))

	return responses, nil
}

// StripPrompt removes the first len(prompt) characters from text and trims
// surrounding whitespace. A text shorter than the prompt yields "".
func StripPrompt(text, prompt string) string {
	n := utf8.RuneCountInString(prompt)
	runes := []rune(text)
	if n >= len(runes) {
		return ""
	}
	return strings.TrimSpace(string(runes[n:]))
}

func (e *Engine) padToken(params *SamplingParams) int {
	if params.PadTokenID >= 0 {
		return params.PadTokenID
	}
	return e.eos
}

// padResponses right-pads every TokenIDs slice to the longest one, the way
// a batch of candidates comes back from a single generate call.
func padResponses(responses []Response, pad int) {
	longest := 0
	for _, r := range responses {
		longest = max(longest, len(r.TokenIDs))
	}
	for i := range responses {
		for len(responses[i].TokenIDs) < longest {
			responses[i].TokenIDs = append(responses[i].TokenIDs, pad)
		}
	}
}

func (e *Engine) newProgressBar(total int) *progressbar.ProgressBar {
	if e.progress == nil || total <= 0 {
		return nil
	}

	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(e.progress),
		progressbar.OptionSetDescription("Generating"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (e *Engine) releaseOne(seq *Sequence) {
	if r, ok := e.modelRunner.(SequenceReleaser); ok {
		r.Release(seq)
	}
}

func (e *Engine) release(seqs []*Sequence) {
	for _, seq := range seqs {
		e.releaseOne(seq)
	}
}

// Close cleans up resources
func (e *Engine) Close() error {
	return e.modelRunner.Close()
}
