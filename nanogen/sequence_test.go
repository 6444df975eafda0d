package nanogen

import (
	"testing"
)

func TestSequenceCreation(t *testing.T) {
	samplingParams, err := NewSamplingParams(
		WithTemperature(0.8),
		WithMaxLength(100),
	)
	if err != nil {
		t.Fatalf("NewSamplingParams: %v", err)
	}

	tokenIDs := []int{1, 2, 3, 4, 5}
	seq := NewSequence(tokenIDs, samplingParams, 0)

	if seq.Len() != 5 {
		t.Errorf("Expected length 5, got %d", seq.Len())
	}

	if seq.NumPromptTokens != 5 {
		t.Errorf("Expected 5 prompt tokens, got %d", seq.NumPromptTokens)
	}

	if seq.NumCompletionTokens() != 0 {
		t.Errorf("Expected 0 completion tokens, got %d", seq.NumCompletionTokens())
	}

	if seq.Status != StatusWaiting {
		t.Errorf("Expected status WAITING, got %v", seq.Status)
	}

	if !seq.IsPrefill() {
		t.Errorf("Expected a fresh sequence to be in prefill")
	}

	if seq.LastToken != 5 {
		t.Errorf("Expected last token 5, got %d", seq.LastToken)
	}
}

func TestSequenceCopiesPrompt(t *testing.T) {
	tokenIDs := []int{1, 2, 3}
	seq := NewSequence(tokenIDs, DefaultSamplingParams(), 0)

	tokenIDs[0] = 99
	if seq.TokenIDs[0] != 1 {
		t.Errorf("Sequence shares the caller's prompt slice")
	}
}

func TestSequenceAppendToken(t *testing.T) {
	tokenIDs := []int{1, 2, 3}
	seq := NewSequence(tokenIDs, DefaultSamplingParams(), 0)

	seq.AppendToken(4)

	if seq.Len() != 4 {
		t.Errorf("Expected length 4, got %d", seq.Len())
	}

	if seq.LastToken != 4 {
		t.Errorf("Expected last token 4, got %d", seq.LastToken)
	}

	if seq.NumCompletionTokens() != 1 {
		t.Errorf("Expected 1 completion token, got %d", seq.NumCompletionTokens())
	}

	if got := seq.PromptTokenIDs(); len(got) != 3 {
		t.Errorf("Expected 3 prompt tokens, got %v", got)
	}

	if got := seq.CompletionTokenIDs(); len(got) != 1 || got[0] != 4 {
		t.Errorf("Expected completion [4], got %v", got)
	}

	if seq.IsPrefill() {
		t.Errorf("Expected sequence to leave prefill after a generated token")
	}
}

func TestSequenceSeededRand(t *testing.T) {
	sp, err := NewSamplingParams(WithSeed(42))
	if err != nil {
		t.Fatalf("NewSamplingParams: %v", err)
	}

	a := NewSequence([]int{1}, sp, 0)
	b := NewSequence([]int{1}, sp, 0)
	c := NewSequence([]int{1}, sp, 1)

	same, differs := true, false
	for i := 0; i < 16; i++ {
		x, y, z := a.Rand.Uint64(), b.Rand.Uint64(), c.Rand.Uint64()
		if x != y {
			same = false
		}
		if x != z {
			differs = true
		}
	}

	if !same {
		t.Errorf("Expected equal seeds and index to give the same stream")
	}
	if !differs {
		t.Errorf("Expected candidates with different indexes to diverge")
	}
}

func TestSamplingParams(t *testing.T) {
	sp := DefaultSamplingParams()

	if sp.Temperature != 0.7 {
		t.Errorf("Expected temperature 0.7, got %f", sp.Temperature)
	}
	if sp.MaxLength != 100 {
		t.Errorf("Expected max length 100, got %d", sp.MaxLength)
	}
	if !sp.DoSample {
		t.Errorf("Expected sampling to be on by default")
	}
	if sp.NumReturnSequences != 1 {
		t.Errorf("Expected 1 return sequence, got %d", sp.NumReturnSequences)
	}
	if sp.PadTokenID != -1 {
		t.Errorf("Expected pad token -1 (EOS), got %d", sp.PadTokenID)
	}
}

func TestSamplingParamsValidation(t *testing.T) {
	tests := []struct {
		name string
		opts []SamplingOption
	}{
		{"zero temperature", []SamplingOption{WithTemperature(0)}},
		{"zero max length", []SamplingOption{WithMaxLength(0)}},
		{"no sequences", []SamplingOption{WithNumReturnSequences(0)}},
		{"negative top k", []SamplingOption{WithTopK(-1)}},
		{"top p zero", []SamplingOption{WithTopP(0)}},
		{"top p above one", []SamplingOption{WithTopP(1.5)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSamplingParams(tt.opts...); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}

	if _, err := NewSamplingParams(WithDoSample(false), WithTemperature(0)); err != nil {
		t.Errorf("Greedy decoding should accept temperature 0: %v", err)
	}
}

func TestConfig(t *testing.T) {
	cfg, err := NewConfig("")
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}

	if cfg.Model != DefaultModel {
		t.Errorf("Expected model %s, got %s", DefaultModel, cfg.Model)
	}
	if cfg.Backend != BackendAuto {
		t.Errorf("Expected backend auto, got %s", cfg.Backend)
	}
	if cfg.EOS != -1 {
		t.Errorf("Expected EOS -1, got %d", cfg.EOS)
	}

	cfg, err = NewConfig("gpt2", WithBackend(""), WithThreads(4))
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.Backend != BackendAuto || cfg.Threads != 4 {
		t.Errorf("Unexpected config %+v", cfg)
	}

	if _, err := NewConfig("gpt2", WithBackend("tpu")); err == nil {
		t.Errorf("Expected unknown backend to fail")
	}

	if _, err := NewConfig("gpt2", WithThreads(-1)); err == nil {
		t.Errorf("Expected negative threads to fail")
	}
}
