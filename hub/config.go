package hub

import (
	"bytes"
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// ModelConfig is the subset of config.json and generation_config.json the
// backends need. Token IDs that a checkpoint leaves unset are -1.
type ModelConfig struct {
	ModelType    string
	VocabSize    int
	EOSTokenID   int
	BOSTokenID   int
	PadTokenID   int
	MaxPositions int
}

func emptyModelConfig() ModelConfig {
	return ModelConfig{EOSTokenID: -1, BOSTokenID: -1, PadTokenID: -1}
}

// tokenID decodes a token id that may be null, a number or a list of
// numbers. Lists keep their first element.
type tokenID struct {
	id  int
	set bool
}

func (t *tokenID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '[' {
		var ids []int
		if err := json.Unmarshal(data, &ids); err != nil {
			return err
		}
		if len(ids) > 0 {
			t.id, t.set = ids[0], true
		}
		return nil
	}

	if err := json.Unmarshal(data, &t.id); err != nil {
		return err
	}
	t.set = true
	return nil
}

type rawConfig struct {
	ModelType             string  `json:"model_type"`
	VocabSize             int     `json:"vocab_size"`
	EOSTokenID            tokenID `json:"eos_token_id"`
	BOSTokenID            tokenID `json:"bos_token_id"`
	PadTokenID            tokenID `json:"pad_token_id"`
	NPositions            int     `json:"n_positions"`
	MaxPositionEmbeddings int     `json:"max_position_embeddings"`
}

// apply copies the fields set in data over c.
func (c *ModelConfig) apply(data []byte) error {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.ModelType != "" {
		c.ModelType = raw.ModelType
	}
	if raw.VocabSize > 0 {
		c.VocabSize = raw.VocabSize
	}
	if raw.EOSTokenID.set {
		c.EOSTokenID = raw.EOSTokenID.id
	}
	if raw.BOSTokenID.set {
		c.BOSTokenID = raw.BOSTokenID.id
	}
	if raw.PadTokenID.set {
		c.PadTokenID = raw.PadTokenID.id
	}

	switch {
	case raw.NPositions > 0:
		c.MaxPositions = raw.NPositions
	case raw.MaxPositionEmbeddings > 0:
		c.MaxPositions = raw.MaxPositionEmbeddings
	}

	return nil
}

// LoadModelConfig reads config.json and then generation_config.json, the
// latter overriding token ids. Empty paths are skipped.
func LoadModelConfig(configPath, generationConfigPath string) (ModelConfig, error) {
	cfg := emptyModelConfig()

	for _, path := range []string{configPath, generationConfigPath} {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read %s: %w", path, err)
		}

		if err := cfg.apply(data); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	return cfg, nil
}
