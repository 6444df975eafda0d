package purego

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"

	"nano-generate-go/nanogen"
)

// ErrEmptyLogits is returned when a runner produced no logits to sample from.
var ErrEmptyLogits = errors.New("empty logits")

// SamplingParams holds parameters for token sampling
type SamplingParams struct {
	Temperature float32
	TopP        float32 // Nucleus sampling
	TopK        int     // Top-k sampling
	DoSample    bool
}

// SamplingParamsFor returns the sampling parameters carried by seq.
func SamplingParamsFor(seq *nanogen.Sequence) *SamplingParams {
	return &SamplingParams{
		Temperature: float32(seq.Temperature),
		TopP:        float32(seq.TopP),
		TopK:        seq.TopK,
		DoSample:    seq.DoSample,
	}
}

// Sample picks the next token from logits. Without DoSample it returns the
// argmax; otherwise it applies temperature, top-k and top-p and draws from
// rng. logits is modified in place.
func Sample(logits []float32, params *SamplingParams, rng *rand.Rand) (int, error) {
	if len(logits) == 0 {
		return 0, ErrEmptyLogits
	}

	if !params.DoSample {
		return argmax(logits), nil
	}

	if params.Temperature > 0 && params.Temperature != 1.0 {
		for i := range logits {
			logits[i] /= params.Temperature
		}
	}

	probs := softmax(logits)

	if params.TopK > 0 && params.TopK < len(probs) {
		probs = topKFiltering(probs, params.TopK)
	}

	if params.TopP < 1.0 {
		probs = topPFiltering(probs, params.TopP)
	}

	sum := float32(0)
	for _, p := range probs {
		sum += p
	}
	if sum > 0 {
		for i := range probs {
			probs[i] /= sum
		}
	}

	return sampleMultinomial(probs, rng), nil
}

func argmax(logits []float32) int {
	best := 0
	for i, l := range logits {
		if l > logits[best] {
			best = i
		}
	}
	return best
}

// softmax converts logits to probabilities
func softmax(logits []float32) []float32 {
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}

	probs := make([]float32, len(logits))
	sum := float32(0)
	for i, l := range logits {
		probs[i] = float32(math.Exp(float64(l - maxLogit)))
		sum += probs[i]
	}

	for i := range probs {
		probs[i] /= sum
	}

	return probs
}

type indexedProb struct {
	idx  int
	prob float32
}

// sortedByProb returns probs paired with their indexes, highest first. Ties
// keep index order so a seeded draw is reproducible.
func sortedByProb(probs []float32) []indexedProb {
	indexed := make([]indexedProb, len(probs))
	for i, p := range probs {
		indexed[i] = indexedProb{i, p}
	}
	sort.SliceStable(indexed, func(i, j int) bool {
		return indexed[i].prob > indexed[j].prob
	})
	return indexed
}

// topKFiltering keeps only top-k probabilities, zeros out the rest
func topKFiltering(probs []float32, k int) []float32 {
	indexed := sortedByProb(probs)

	result := make([]float32, len(probs))
	for i := 0; i < k && i < len(indexed); i++ {
		result[indexed[i].idx] = indexed[i].prob
	}

	return result
}

// topPFiltering keeps the smallest set of tokens whose mass reaches p
func topPFiltering(probs []float32, p float32) []float32 {
	indexed := sortedByProb(probs)

	cumProb := float32(0)
	cutoff := len(indexed)
	for i, item := range indexed {
		cumProb += item.prob
		if cumProb >= p {
			cutoff = i + 1
			break
		}
	}

	result := make([]float32, len(probs))
	for i := 0; i < cutoff; i++ {
		result[indexed[i].idx] = indexed[i].prob
	}

	return result
}

// sampleMultinomial samples from a probability distribution. When rounding
// leaves the draw past the last bucket it falls back to the most likely
// token, which filtering never removes.
func sampleMultinomial(probs []float32, rng *rand.Rand) int {
	cumProbs := make([]float32, len(probs))
	cumProbs[0] = probs[0]
	for i := 1; i < len(probs); i++ {
		cumProbs[i] = cumProbs[i-1] + probs[i]
	}

	r := rng.Float32() * cumProbs[len(cumProbs)-1]

	idx := sort.Search(len(cumProbs), func(i int) bool {
		return cumProbs[i] > r
	})

	if idx >= len(probs) || probs[idx] == 0 {
		return argmax(probs)
	}

	return idx
}
