package purego

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nano-generate-go/nanogen"
)

// newCountingRunner returns a runner without a session whose forward pass
// records its inputs and always favours token len(ids) % vocab.
func newCountingRunner(vocab int) (*ONNXModelRunner, *[][]int) {
	var calls [][]int

	r := &ONNXModelRunner{
		cache: nanogen.NewPrefixCache(4),
		log:   zap.NewNop(),
	}
	r.forward = func(ids []int) ([]float32, error) {
		calls = append(calls, slices.Clone(ids))
		logits := make([]float32, vocab)
		logits[len(ids)%vocab] = 10
		return logits, nil
	}

	return r, &calls
}

func TestONNXRunnerSharesPromptForward(t *testing.T) {
	r, calls := newCountingRunner(8)

	sp, err := nanogen.NewSamplingParams(nanogen.WithDoSample(false))
	require.NoError(t, err)

	prompt := []int{5, 6, 7}
	seqs := make([]*nanogen.Sequence, 3)
	for i := range seqs {
		seqs[i] = nanogen.NewSequence(prompt, sp, i)
	}

	toks, err := r.Run(context.Background(), seqs, true)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 3}, toks)
	assert.Len(t, *calls, 1, "one forward pass over the prompt")

	hits, misses := r.cache.Stats()
	assert.Equal(t, 2, hits)
	assert.Equal(t, 1, misses)

	for i, seq := range seqs {
		seq.AppendToken(toks[i])
	}

	toks, err = r.Run(context.Background(), seqs, false)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 4}, toks)
	assert.Len(t, *calls, 4, "decode steps run one pass per sequence")
	assert.Equal(t, []int{5, 6, 7, 3}, (*calls)[3])

	hits, misses = r.cache.Stats()
	assert.Equal(t, 2, hits, "decode steps bypass the cache")
	assert.Equal(t, 1, misses)
	assert.Equal(t, 1, r.cache.Len())
}

func TestONNXRunnerErrors(t *testing.T) {
	r, _ := newCountingRunner(8)
	sp := nanogen.DefaultSamplingParams()

	boom := errors.New("boom")
	r.forward = func([]int) ([]float32, error) { return nil, boom }
	_, err := r.Run(context.Background(), []*nanogen.Sequence{nanogen.NewSequence([]int{1}, sp, 0)}, true)
	assert.ErrorIs(t, err, boom)

	r.forward = func([]int) ([]float32, error) { return nil, nil }
	_, err = r.Run(context.Background(), []*nanogen.Sequence{nanogen.NewSequence([]int{1}, sp, 0)}, false)
	assert.ErrorIs(t, err, ErrEmptyLogits)

	_, err = r.Run(context.Background(), []*nanogen.Sequence{nanogen.NewSequence(nil, sp, 0)}, true)
	assert.Error(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	_, err = r.Run(context.Background(), []*nanogen.Sequence{nanogen.NewSequence([]int{1}, sp, 0)}, true)
	assert.Error(t, err)
}
