package nanogen

import (
	"context"
	"strings"
)

// ModelRunner is an interface for running model inference.
// Implementations live in the purego package:
// - ONNX Runtime sessions over an exported causal LM
// - llama.cpp over a GGUF checkpoint
// - HTTP calls to a token-level inference server
type ModelRunner interface {
	// Run executes one decoding step for the given sequences and returns
	// the next token ID for each. isPrefill is true on the first step,
	// when every sequence still holds only its prompt.
	Run(ctx context.Context, seqs []*Sequence, isPrefill bool) ([]int, error)

	// Close cleans up resources
	Close() error
}

// SequenceReleaser is implemented by runners that hold per-sequence state
// (a KV cache, a sampler) which can be dropped once a sequence finishes.
type SequenceReleaser interface {
	Release(seq *Sequence)
}

// Tokenizer converts between text and token IDs.
type Tokenizer interface {
	// Encode converts text to token IDs
	Encode(text string) ([]int, error)

	// Decode converts token IDs to text. With skipSpecial, control tokens
	// such as EOS and padding are left out of the result.
	Decode(tokenIDs []int, skipSpecial bool) (string, error)

	// EOSTokenID returns the EOS token ID
	EOSTokenID() int
}

const (
	mockEOSToken   = 0
	mockEOSText    = "<|endoftext|>"
	mockVocabSize  = 257
	mockMaxNewToks = 12
)

// MockModelRunner produces deterministic filler text without a model. It
// backs the "mock" backend and the engine tests.
type MockModelRunner struct {
	eos int
}

// NewMockModelRunner creates a new mock model runner
func NewMockModelRunner(eos int) *MockModelRunner {
	return &MockModelRunner{eos: eos}
}

// Run generates mock output tokens: a leading space, then lowercase words,
// then EOS once the continuation is long enough.
func (m *MockModelRunner) Run(ctx context.Context, seqs []*Sequence, isPrefill bool) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	const letters = "abcdefghijklmnopqrstuvwxyz"

	tokenIDs := make([]int, len(seqs))
	for i, seq := range seqs {
		n := seq.NumCompletionTokens()

		var b byte
		switch {
		case n >= mockMaxNewToks:
			tokenIDs[i] = m.eos
			continue
		case n%6 == 0:
			b = ' '
		default:
			b = letters[seq.Rand.IntN(len(letters))]
		}

		tokenIDs[i] = int(b) + 1
	}

	return tokenIDs, nil
}

// Close cleans up resources
func (m *MockModelRunner) Close() error {
	return nil
}

// MockTokenizer is a byte-level tokenizer: byte b is token b+1 and token 0
// is EOS. Every string round-trips exactly.
type MockTokenizer struct{}

// NewMockTokenizer creates a new mock tokenizer
func NewMockTokenizer() *MockTokenizer {
	return &MockTokenizer{}
}

// Encode performs mock tokenization
func (t *MockTokenizer) Encode(text string) ([]int, error) {
	tokens := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		tokens[i] = int(text[i]) + 1
	}
	return tokens, nil
}

// Decode performs mock detokenization
func (t *MockTokenizer) Decode(tokenIDs []int, skipSpecial bool) (string, error) {
	var sb strings.Builder
	for _, id := range tokenIDs {
		switch {
		case id == mockEOSToken:
			if !skipSpecial {
				sb.WriteString(mockEOSText)
			}
		case id > 0 && id < mockVocabSize:
			sb.WriteByte(byte(id - 1))
		}
	}
	return sb.String(), nil
}

// EOSTokenID returns the EOS token ID
func (t *MockTokenizer) EOSTokenID() int {
	return mockEOSToken
}
