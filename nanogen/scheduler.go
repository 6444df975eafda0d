package nanogen

import "container/list"

// Scheduler moves candidate sequences from prefill to decode and retires
// them on EOS or when they reach their maximum total length.
type Scheduler struct {
	eos      int
	waiting  *list.List
	running  *list.List
	finished []*Sequence
}

// NewScheduler creates a new scheduler stopping sequences on eos
func NewScheduler(eos int) *Scheduler {
	return &Scheduler{
		eos:     eos,
		waiting: list.New(),
		running: list.New(),
	}
}

// IsFinished returns true if there are no more sequences to process
func (s *Scheduler) IsFinished() bool {
	return s.waiting.Len() == 0 && s.running.Len() == 0
}

// Add adds a sequence to the waiting queue. A sequence that is already at
// its maximum length finishes without being scheduled.
func (s *Scheduler) Add(seq *Sequence) {
	if seq.Len() >= seq.MaxLength {
		seq.finish(FinishReasonLength)
		s.finished = append(s.finished, seq)
		return
	}
	s.waiting.PushBack(seq)
}

// Schedule schedules sequences for the next step
// Returns the scheduled sequences and whether this is a prefill step
func (s *Scheduler) Schedule() ([]*Sequence, bool) {
	scheduledSeqs := make([]*Sequence, 0, s.waiting.Len()+s.running.Len())

	for s.waiting.Len() > 0 {
		elem := s.waiting.Front()
		seq := elem.Value.(*Sequence)
		seq.Status = StatusRunning

		s.waiting.Remove(elem)
		s.running.PushBack(seq)
		scheduledSeqs = append(scheduledSeqs, seq)
	}

	if len(scheduledSeqs) > 0 {
		return scheduledSeqs, true
	}

	// Decode phase
	for elem := s.running.Front(); elem != nil; elem = elem.Next() {
		scheduledSeqs = append(scheduledSeqs, elem.Value.(*Sequence))
	}

	return scheduledSeqs, false
}

// Postprocess processes the output tokens from model execution
func (s *Scheduler) Postprocess(seqs []*Sequence, tokenIDs []int) {
	for i, seq := range seqs {
		tokenID := tokenIDs[i]
		seq.AppendToken(tokenID)

		switch {
		case tokenID == s.eos:
			seq.finish(FinishReasonEOS)
		case seq.Len() >= seq.MaxLength:
			seq.finish(FinishReasonLength)
		default:
			continue
		}

		s.finished = append(s.finished, seq)
		for elem := s.running.Front(); elem != nil; elem = elem.Next() {
			if elem.Value.(*Sequence).SeqID == seq.SeqID {
				s.running.Remove(elem)
				break
			}
		}
	}
}

// Finished returns the retired sequences in completion order.
func (s *Scheduler) Finished() []*Sequence {
	return s.finished
}
