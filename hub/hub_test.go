package hub

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nano-generate-go/nanogen"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSplitRepoID(t *testing.T) {
	tests := []struct {
		id, repo, file string
		ok             bool
	}{
		{"microsoft/DialoGPT-medium", "microsoft/DialoGPT-medium", "", true},
		{"TheBloke/gpt2-GGUF/gpt2.Q4_K_M.gguf", "TheBloke/gpt2-GGUF", "gpt2.Q4_K_M.gguf", true},
		{"owner/name/sub/dir/model.gguf", "owner/name", "sub/dir/model.gguf", true},
		{"gpt2", "", "", false},
		{"/abs/path", "", "", false},
		{"./rel/path", "", "", false},
		{"http://localhost:8000", "", "", false},
		{"owner/", "", "", false},
	}

	for _, tt := range tests {
		repo, file, ok := splitRepoID(tt.id)
		assert.Equal(t, tt.ok, ok, tt.id)
		assert.Equal(t, tt.repo, repo, tt.id)
		assert.Equal(t, tt.file, file, tt.id)
	}
}

func TestLoadModelConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	genPath := filepath.Join(dir, "generation_config.json")

	writeFile(t, configPath, `{
		"model_type": "gpt2",
		"vocab_size": 50257,
		"n_positions": 1024,
		"bos_token_id": 50256,
		"eos_token_id": 50256,
		"pad_token_id": null
	}`)
	writeFile(t, genPath, `{"eos_token_id": [50256, 50257]}`)

	cfg, err := LoadModelConfig(configPath, "")
	require.NoError(t, err)
	assert.Equal(t, "gpt2", cfg.ModelType)
	assert.Equal(t, 50257, cfg.VocabSize)
	assert.Equal(t, 1024, cfg.MaxPositions)
	assert.Equal(t, 50256, cfg.EOSTokenID)
	assert.Equal(t, 50256, cfg.BOSTokenID)
	assert.Equal(t, -1, cfg.PadTokenID)

	writeFile(t, genPath, `{"eos_token_id": [7, 8], "pad_token_id": 3}`)
	cfg, err = LoadModelConfig(configPath, genPath)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.EOSTokenID)
	assert.Equal(t, 3, cfg.PadTokenID)

	writeFile(t, genPath, `{"eos_token_id": "x"}`)
	_, err = LoadModelConfig(configPath, genPath)
	assert.Error(t, err)

	cfg, err = LoadModelConfig("", "")
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.EOSTokenID)
}

func TestResolveLocalDirONNX(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tokenizer.json"), `{}`)
	writeFile(t, filepath.Join(dir, "onnx", "model.onnx"), "graph")
	writeFile(t, filepath.Join(dir, "model.onnx"), "other")
	writeFile(t, filepath.Join(dir, "config.json"), `{"model_type":"gpt2","eos_token_id":50256}`)

	ckpt, err := Resolve(context.Background(), dir, Options{})
	require.NoError(t, err)

	assert.Equal(t, FormatONNX, ckpt.Format)
	assert.Equal(t, filepath.Join(dir, "onnx", "model.onnx"), ckpt.ModelPath)
	assert.Equal(t, filepath.Join(dir, "tokenizer.json"), ckpt.TokenizerPath)
	assert.Equal(t, 50256, ckpt.Config.EOSTokenID)
}

func TestResolveLocalGGUF(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.gguf"), "b")
	writeFile(t, filepath.Join(dir, "a.gguf"), "a")

	ckpt, err := Resolve(context.Background(), dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, FormatGGUF, ckpt.Format)
	assert.Equal(t, filepath.Join(dir, "a.gguf"), ckpt.ModelPath)

	ckpt, err = Resolve(context.Background(), filepath.Join(dir, "b.gguf"), Options{})
	require.NoError(t, err)
	assert.Equal(t, FormatGGUF, ckpt.Format)
	assert.Equal(t, filepath.Join(dir, "b.gguf"), ckpt.ModelPath)
	assert.Equal(t, -1, ckpt.Config.EOSTokenID)
}

func TestResolveNotFound(t *testing.T) {
	dir := t.TempDir()

	_, err := Resolve(context.Background(), dir, Options{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, nanogen.ErrCheckpointNotFound)

	writeFile(t, filepath.Join(dir, "model.onnx"), "graph")
	_, err = Resolve(context.Background(), dir, Options{})
	assert.ErrorIs(t, err, ErrNotFound, "ONNX without tokenizer")

	plain := filepath.Join(dir, "weights.bin")
	writeFile(t, plain, "x")
	_, err = Resolve(context.Background(), plain, Options{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Resolve(context.Background(), "no-such-model", Options{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Resolve(ctx, "microsoft/DialoGPT-medium", Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChecksum(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.onnx")
	tok := filepath.Join(dir, "tokenizer.json")
	writeFile(t, model, "weights")
	writeFile(t, tok, "vocab")

	ckpt := &Checkpoint{ModelPath: model, TokenizerPath: tok}
	first, err := ckpt.Checksum()
	require.NoError(t, err)
	second, err := ckpt.Checksum()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	writeFile(t, tok, "vocab2")
	third, err := ckpt.Checksum()
	require.NoError(t, err)
	assert.NotEqual(t, first, third)

	_, err = (&Checkpoint{ModelPath: filepath.Join(dir, "missing")}).Checksum()
	assert.Error(t, err)
}

func TestExportFor(t *testing.T) {
	assert.Equal(t, "Xenova/DialoGPT-medium", ExportFor(nanogen.DefaultModel))
	assert.Equal(t, "onnx-community/gpt2", ExportFor("onnx-community/gpt2"))

	for repo, export := range ONNXExports {
		assert.NotEqual(t, repo, export)
		_, _, ok := splitRepoID(export)
		assert.True(t, ok, export)
	}
}

func TestResolveDefaultModel(t *testing.T) {
	if os.Getenv("NANOGEN_TEST_MODEL") == "" {
		t.Skip("NANOGEN_TEST_MODEL not set")
	}

	ckpt, err := Resolve(context.Background(), nanogen.DefaultModel, Options{})
	require.NoError(t, err)
	assert.Equal(t, nanogen.DefaultModel, ckpt.ID)
	assert.Equal(t, FormatONNX, ckpt.Format)
	assert.FileExists(t, ckpt.ModelPath)
	assert.FileExists(t, ckpt.TokenizerPath)
	assert.Equal(t, 50256, ckpt.Config.EOSTokenID)
}

func TestResolveHubIntegration(t *testing.T) {
	id := os.Getenv("NANOGEN_TEST_MODEL")
	if id == "" {
		t.Skip("NANOGEN_TEST_MODEL not set")
	}

	ckpt, err := Resolve(context.Background(), id, Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, ckpt.ModelPath)
}
