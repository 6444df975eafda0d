package purego

import (
	"fmt"

	"github.com/daulet/tokenizers"

	"nano-generate-go/nanogen"
)

// HFTokenizer wraps a HuggingFace tokenizer.json through the tokenizers
// Rust bindings.
type HFTokenizer struct {
	tk    *tokenizers.Tokenizer
	eosID int
}

// NewHFTokenizer loads tokenizer.json from path. eosID comes from the
// checkpoint config; the JSON file alone does not say which token ends a
// sequence.
func NewHFTokenizer(path string, eosID int) (*HFTokenizer, error) {
	if eosID < 0 {
		return nil, fmt.Errorf("%w: no EOS token id for %s", nanogen.ErrCheckpointNotFound, path)
	}

	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", path, err)
	}

	return &HFTokenizer{tk: tk, eosID: eosID}, nil
}

// Encode converts text to token IDs. No special tokens are added, matching
// a plain encode of a GPT-2 style tokenizer.
func (t *HFTokenizer) Encode(text string) ([]int, error) {
	ids, _ := t.tk.Encode(text, false)

	tokens := make([]int, len(ids))
	for i, id := range ids {
		tokens[i] = int(id)
	}
	return tokens, nil
}

// Decode converts token IDs to text
func (t *HFTokenizer) Decode(tokenIDs []int, skipSpecial bool) (string, error) {
	ids := make([]uint32, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if id < 0 {
			return "", fmt.Errorf("invalid token id %d", id)
		}
		ids = append(ids, uint32(id))
	}
	return t.tk.Decode(ids, skipSpecial), nil
}

// EOSTokenID returns the EOS token ID
func (t *HFTokenizer) EOSTokenID() int {
	return t.eosID
}

// Close frees the native tokenizer.
func (t *HFTokenizer) Close() error {
	t.tk.Close()
	return nil
}
