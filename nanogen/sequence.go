package nanogen

import (
	"math/rand/v2"
	"sync/atomic"
)

// SequenceStatus represents the status of a sequence
type SequenceStatus int

const (
	StatusWaiting SequenceStatus = iota
	StatusRunning
	StatusFinished
)

// FinishReason records why a sequence stopped growing.
type FinishReason string

const (
	FinishReasonNone   FinishReason = ""
	FinishReasonEOS    FinishReason = "eos"
	FinishReasonLength FinishReason = "length"
)

// Sequence represents a single candidate continuation of a prompt
type Sequence struct {
	SeqID           int64
	Index           int
	Status          SequenceStatus
	Finish          FinishReason
	TokenIDs        []int
	LastToken       int
	NumTokens       int
	NumPromptTokens int
	Temperature     float64
	TopK            int
	TopP            float64
	DoSample        bool
	MaxLength       int
	Seed            uint64

	// Rand is the sequence's private random source. Runners that sample in
	// Go draw from it so a fixed seed reproduces the same continuation.
	Rand *rand.Rand
}

var seqCounter int64 = 0

// NewSequence creates a new sequence from prompt token IDs and sampling
// parameters. index distinguishes candidates of the same prompt.
func NewSequence(tokenIDs []int, samplingParams *SamplingParams, index int) *Sequence {
	seqID := atomic.AddInt64(&seqCounter, 1) - 1

	tokens := make([]int, len(tokenIDs))
	copy(tokens, tokenIDs)

	var last int
	if len(tokens) > 0 {
		last = tokens[len(tokens)-1]
	}

	var src *rand.PCG
	if samplingParams.Seed != 0 {
		src = rand.NewPCG(samplingParams.Seed, uint64(index))
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}

	return &Sequence{
		SeqID:           seqID,
		Index:           index,
		Status:          StatusWaiting,
		TokenIDs:        tokens,
		LastToken:       last,
		NumTokens:       len(tokens),
		NumPromptTokens: len(tokens),
		Temperature:     samplingParams.Temperature,
		TopK:            samplingParams.TopK,
		TopP:            samplingParams.TopP,
		DoSample:        samplingParams.DoSample,
		MaxLength:       samplingParams.MaxLength,
		Seed:            samplingParams.Seed,
		Rand:            rand.New(src),
	}
}

// Len returns the number of tokens in the sequence
func (s *Sequence) Len() int {
	return s.NumTokens
}

// IsFinished returns true if the sequence has finished generating
func (s *Sequence) IsFinished() bool {
	return s.Status == StatusFinished
}

// IsPrefill reports whether no token has been generated yet.
func (s *Sequence) IsPrefill() bool {
	return s.NumTokens == s.NumPromptTokens
}

// NumCompletionTokens returns the number of completion tokens
func (s *Sequence) NumCompletionTokens() int {
	return s.NumTokens - s.NumPromptTokens
}

// PromptTokenIDs returns the prompt token IDs
func (s *Sequence) PromptTokenIDs() []int {
	return s.TokenIDs[:s.NumPromptTokens]
}

// CompletionTokenIDs returns the completion token IDs
func (s *Sequence) CompletionTokenIDs() []int {
	return s.TokenIDs[s.NumPromptTokens:]
}

// AppendToken appends a token to the sequence
func (s *Sequence) AppendToken(tokenID int) {
	s.TokenIDs = append(s.TokenIDs, tokenID)
	s.LastToken = tokenID
	s.NumTokens++
}

func (s *Sequence) finish(reason FinishReason) {
	s.Status = StatusFinished
	s.Finish = reason
}
