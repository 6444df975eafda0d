package nanogen

import "fmt"

// SamplingParams holds the decoding parameters for generation.
//
// The defaults match a sampled generate call with temperature 0.7, one
// returned sequence, a total length of 100 tokens and EOS used as padding.
// TopK 50 and TopP 1.0 are the usual library defaults when sampling.
type SamplingParams struct {
	Temperature        float64
	TopK               int
	TopP               float64
	MaxLength          int
	DoSample           bool
	NumReturnSequences int
	PadTokenID         int
	Seed               uint64
}

// SamplingOption is a functional option for SamplingParams
type SamplingOption func(*SamplingParams)

// NewSamplingParams creates a new SamplingParams with default values
func NewSamplingParams(opts ...SamplingOption) (*SamplingParams, error) {
	sp := &SamplingParams{
		Temperature:        0.7,
		TopK:               50,
		TopP:               1.0,
		MaxLength:          100,
		DoSample:           true,
		NumReturnSequences: 1,
		PadTokenID:         -1,
	}

	for _, opt := range opts {
		opt(sp)
	}

	if err := sp.validate(); err != nil {
		return nil, err
	}

	return sp, nil
}

// DefaultSamplingParams returns the defaults. It cannot fail.
func DefaultSamplingParams() *SamplingParams {
	sp, _ := NewSamplingParams()
	return sp
}

// validate checks if the sampling parameters are valid
func (sp *SamplingParams) validate() error {
	if sp.DoSample && sp.Temperature <= 1e-10 {
		return fmt.Errorf("temperature must be > 0 when sampling")
	}
	if sp.MaxLength < 1 {
		return fmt.Errorf("max_length must be >= 1")
	}
	if sp.NumReturnSequences < 1 {
		return fmt.Errorf("num_return_sequences must be >= 1")
	}
	if sp.TopK < 0 {
		return fmt.Errorf("top_k must be >= 0")
	}
	if sp.TopP <= 0 || sp.TopP > 1 {
		return fmt.Errorf("top_p must be in (0, 1]")
	}
	return nil
}

// WithTemperature sets the sampling temperature
func WithTemperature(t float64) SamplingOption {
	return func(sp *SamplingParams) {
		sp.Temperature = t
	}
}

// WithTopK sets top-k filtering (0 disables it)
func WithTopK(k int) SamplingOption {
	return func(sp *SamplingParams) {
		sp.TopK = k
	}
}

// WithTopP sets nucleus filtering (1.0 disables it)
func WithTopP(p float64) SamplingOption {
	return func(sp *SamplingParams) {
		sp.TopP = p
	}
}

// WithMaxLength caps the total sequence length (prompt + continuation)
func WithMaxLength(n int) SamplingOption {
	return func(sp *SamplingParams) {
		sp.MaxLength = n
	}
}

// WithDoSample switches between sampling and greedy decoding
func WithDoSample(b bool) SamplingOption {
	return func(sp *SamplingParams) {
		sp.DoSample = b
	}
}

// WithNumReturnSequences sets how many candidates are generated
func WithNumReturnSequences(n int) SamplingOption {
	return func(sp *SamplingParams) {
		sp.NumReturnSequences = n
	}
}

// WithPadTokenID sets the padding token (-1 uses EOS)
func WithPadTokenID(id int) SamplingOption {
	return func(sp *SamplingParams) {
		sp.PadTokenID = id
	}
}

// WithSeed fixes the random seed (0 leaves generation unseeded)
func WithSeed(seed uint64) SamplingOption {
	return func(sp *SamplingParams) {
		sp.Seed = seed
	}
}
