package nanogen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSequence(t *testing.T, prompt []int, maxLength int) *Sequence {
	t.Helper()
	sp, err := NewSamplingParams(WithMaxLength(maxLength))
	require.NoError(t, err)
	return NewSequence(prompt, sp, 0)
}

func TestSchedulerPrefillThenDecode(t *testing.T) {
	s := NewScheduler(0)
	a := newTestSequence(t, []int{1, 2}, 10)
	b := newTestSequence(t, []int{1, 2}, 10)
	s.Add(a)
	s.Add(b)

	seqs, isPrefill := s.Schedule()
	assert.True(t, isPrefill)
	assert.Len(t, seqs, 2)
	assert.Equal(t, StatusRunning, a.Status)

	s.Postprocess(seqs, []int{5, 6})

	seqs, isPrefill = s.Schedule()
	assert.False(t, isPrefill)
	assert.Len(t, seqs, 2)
	assert.False(t, s.IsFinished())
}

func TestSchedulerFinishesOnEOS(t *testing.T) {
	s := NewScheduler(0)
	a := newTestSequence(t, []int{1, 2}, 10)
	b := newTestSequence(t, []int{1, 2}, 10)
	s.Add(a)
	s.Add(b)

	seqs, _ := s.Schedule()
	s.Postprocess(seqs, []int{0, 7})

	assert.True(t, a.IsFinished())
	assert.Equal(t, FinishReasonEOS, a.Finish)
	assert.False(t, b.IsFinished())

	seqs, _ = s.Schedule()
	require.Len(t, seqs, 1)
	assert.Equal(t, b.SeqID, seqs[0].SeqID)
}

func TestSchedulerFinishesAtMaxLength(t *testing.T) {
	s := NewScheduler(0)
	seq := newTestSequence(t, []int{1, 2}, 4)
	s.Add(seq)

	for !s.IsFinished() {
		seqs, _ := s.Schedule()
		s.Postprocess(seqs, []int{9})
	}

	assert.Equal(t, 4, seq.Len())
	assert.Equal(t, FinishReasonLength, seq.Finish)
	assert.Equal(t, []*Sequence{seq}, s.Finished())
}

func TestSchedulerPromptAtMaxLength(t *testing.T) {
	s := NewScheduler(0)
	seq := newTestSequence(t, []int{1, 2, 3}, 3)
	s.Add(seq)

	assert.True(t, s.IsFinished())
	assert.True(t, seq.IsFinished())
	assert.Equal(t, FinishReasonLength, seq.Finish)
	assert.Equal(t, 0, seq.NumCompletionTokens())
}
