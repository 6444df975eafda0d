package purego

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"
	"go.uber.org/zap"

	"nano-generate-go/nanogen"
)

var (
	llamaOnce sync.Once
	llamaErr  error
)

// initLlama loads the llama.cpp shared libraries once per process. An empty
// libPath falls back to $YZMA_LIB.
func initLlama(libPath string) error {
	llamaOnce.Do(func() {
		if libPath == "" {
			libPath = os.Getenv("YZMA_LIB")
		}
		if libPath == "" {
			llamaErr = fmt.Errorf("%w: llama.cpp library path not set (--llama-lib or YZMA_LIB)", nanogen.ErrBackendUnavailable)
			return
		}

		if err := llama.Load(libPath); err != nil {
			llamaErr = fmt.Errorf("%w: unable to load llama.cpp from %s: %v", nanogen.ErrBackendUnavailable, libPath, err)
			return
		}

		llama.Init()
		llama.LogSet(llama.LogSilent())
	})
	return llamaErr
}

// LlamaTokenizer uses the vocabulary embedded in a GGUF checkpoint.
type LlamaTokenizer struct {
	vocab llama.Vocab
	eos   int
}

// Encode converts text to token IDs
func (t *LlamaTokenizer) Encode(text string) ([]int, error) {
	toks := llama.Tokenize(t.vocab, text, true, true)

	ids := make([]int, len(toks))
	for i, tok := range toks {
		ids[i] = int(tok)
	}
	return ids, nil
}

// Decode converts token IDs to text. Control tokens render as nothing when
// skipSpecial is set.
func (t *LlamaTokenizer) Decode(tokenIDs []int, skipSpecial bool) (string, error) {
	var out []byte
	buf := make([]byte, 256)

	for _, id := range tokenIDs {
		if id < 0 {
			return "", fmt.Errorf("invalid token id %d", id)
		}

		l := llama.TokenToPiece(t.vocab, llama.Token(id), buf, 0, !skipSpecial)
		if l < 0 {
			buf = make([]byte, -l)
			l = llama.TokenToPiece(t.vocab, llama.Token(id), buf, 0, !skipSpecial)
		}
		if l > 0 {
			out = append(out, buf[:l]...)
		}
	}

	return string(out), nil
}

// EOSTokenID returns the EOS token ID
func (t *LlamaTokenizer) EOSTokenID() int {
	return t.eos
}

type llamaSeqState struct {
	lctx    llama.Context
	sampler llama.Sampler
}

// LlamaModelRunner runs a GGUF checkpoint through llama.cpp. Every sequence
// gets its own context and sampler chain so candidates keep separate KV
// caches and random streams.
type LlamaModelRunner struct {
	mu          sync.Mutex
	closed      bool
	model       llama.Model
	vocab       llama.Vocab
	eos         int
	threads     int
	contextSize int
	states      map[int64]*llamaSeqState
	log         *zap.Logger
}

// LoadLlama loads the GGUF file at modelPath and returns its runner and
// tokenizer.
func LoadLlama(modelPath string, config *nanogen.Config, log *zap.Logger) (*LlamaModelRunner, *LlamaTokenizer, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if err := initLlama(config.LlamaLibPath); err != nil {
		return nil, nil, err
	}

	mdl, err := llama.ModelLoadFromFile(modelPath, llama.ModelDefaultParams())
	if err != nil {
		return nil, nil, fmt.Errorf("unable to load model %s: %w", modelPath, err)
	}

	vocab := llama.ModelGetVocab(mdl)

	eos := config.EOS
	if eos < 0 {
		eos = int(llama.VocabEOS(vocab))
	}

	log.Debug("gguf model loaded",
		zap.String("model", modelPath),
		zap.String("desc", llama.ModelDesc(mdl)),
		zap.Int("eos", eos))

	runner := &LlamaModelRunner{
		model:       mdl,
		vocab:       vocab,
		eos:         eos,
		threads:     config.Threads,
		contextSize: config.ContextSize,
		states:      make(map[int64]*llamaSeqState),
		log:         log,
	}

	return runner, &LlamaTokenizer{vocab: vocab, eos: eos}, nil
}

// Run executes one decoding step for each sequence. Prompts are decoded in
// one batch on the first step; later steps feed only the last token.
func (r *LlamaModelRunner) Run(ctx context.Context, seqs []*nanogen.Sequence, isPrefill bool) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("model runner is closed")
	}

	tokenIDs := make([]int, len(seqs))

	for i, seq := range seqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		st, ok := r.states[seq.SeqID]
		if !ok {
			var err error
			st, err = r.newState(seq)
			if err != nil {
				return nil, err
			}
			r.states[seq.SeqID] = st
		}

		if err := decodeStep(st.lctx, seq, !ok); err != nil {
			return nil, fmt.Errorf("sequence %d: %w", seq.SeqID, err)
		}

		tok := llama.SamplerSample(st.sampler, st.lctx, -1)
		if llama.VocabIsEOG(r.vocab, tok) {
			tokenIDs[i] = r.eos
			continue
		}
		tokenIDs[i] = int(tok)
	}

	return tokenIDs, nil
}

// decodeStep feeds the whole prompt on the first step and only the last
// token afterwards.
func decodeStep(lctx llama.Context, seq *nanogen.Sequence, first bool) error {
	toks := []llama.Token{llama.Token(seq.LastToken)}
	if first {
		toks = toLlamaTokens(seq.TokenIDs)
	}

	if _, err := llama.Decode(lctx, llama.BatchGetOne(toks)); err != nil {
		return fmt.Errorf("llama decode: %w", err)
	}
	return nil
}

func (r *LlamaModelRunner) newState(seq *nanogen.Sequence) (*llamaSeqState, error) {
	n := uint32(max(r.contextSize, seq.MaxLength))

	ctxParams := llama.ContextDefaultParams()
	ctxParams.NCtx = n
	ctxParams.NBatch = n
	ctxParams.NUbatch = n
	if r.threads > 0 {
		ctxParams.NThreads = int32(r.threads)
		ctxParams.NThreadsBatch = int32(r.threads)
	}

	lctx, err := llama.InitFromModel(r.model, ctxParams)
	if err != nil {
		return nil, fmt.Errorf("unable to init context: %w", err)
	}

	return &llamaSeqState{lctx: lctx, sampler: newSampler(seq)}, nil
}

// newSampler builds temperature, top-k, top-p then a seeded draw. Greedy
// decoding keeps only the most likely token before the draw.
func newSampler(seq *nanogen.Sequence) llama.Sampler {
	sampler := llama.SamplerChainInit(llama.SamplerChainDefaultParams())

	if !seq.DoSample {
		llama.SamplerChainAdd(sampler, llama.SamplerInitTopK(1))
	} else {
		llama.SamplerChainAdd(sampler, llama.SamplerInitTempExt(float32(seq.Temperature), 0, 1.0))
		if seq.TopK > 0 {
			llama.SamplerChainAdd(sampler, llama.SamplerInitTopK(int32(seq.TopK)))
		}
		if seq.TopP < 1.0 {
			llama.SamplerChainAdd(sampler, llama.SamplerInitTopP(float32(seq.TopP), 1))
		}
	}

	llama.SamplerChainAdd(sampler, llama.SamplerInitDist(seq.Rand.Uint32()))

	return sampler
}

func toLlamaTokens(ids []int) []llama.Token {
	toks := make([]llama.Token, len(ids))
	for i, id := range ids {
		toks[i] = llama.Token(id)
	}
	return toks
}

// Release frees the context and sampler held for seq. Releasing twice is a
// no-op.
func (r *LlamaModelRunner) Release(seq *nanogen.Sequence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.release(seq.SeqID)
}

func (r *LlamaModelRunner) release(id int64) {
	st, ok := r.states[id]
	if !ok {
		return
	}
	llama.SamplerFree(st.sampler)
	llama.Free(st.lctx)
	delete(r.states, id)
}

// Close cleans up resources
func (r *LlamaModelRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.states {
		r.release(id)
	}

	if !r.closed {
		llama.ModelFree(r.model)
		r.closed = true
	}

	return nil
}
