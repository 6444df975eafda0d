package purego

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"nano-generate-go/hub"
	"nano-generate-go/nanogen"
)

func TestBackendsRegistered(t *testing.T) {
	names := nanogen.Backends()
	for _, name := range []string{nanogen.BackendAuto, nanogen.BackendONNX, nanogen.BackendLlama, nanogen.BackendHTTP, nanogen.BackendMock} {
		assert.Contains(t, names, name)
	}
}

func TestAutoMock(t *testing.T) {
	cfg, err := nanogen.NewConfig("mock")
	require.NoError(t, err)

	llm, err := nanogen.Load(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer llm.Close()

	r, err := llm.GenerateResponse(context.Background(), "Hello, how are you?", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, r.Text)
}

func TestAutoMissingCheckpoint(t *testing.T) {
	cfg, err := nanogen.NewConfig(t.TempDir())
	require.NoError(t, err)

	_, err = nanogen.Load(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, nanogen.ErrCheckpointNotFound)
	assert.Equal(t, nanogen.StageLoad, nanogen.StageOf(err))
}

func TestBackendFormatMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.gguf"), []byte("gguf"), 0o644))

	cfg, err := nanogen.NewConfig(dir, nanogen.WithBackend(nanogen.BackendONNX))
	require.NoError(t, err)

	_, err = nanogen.Load(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, nanogen.ErrCheckpointNotFound)

	onnxDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(onnxDir, "model.onnx"), []byte("graph"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(onnxDir, "tokenizer.json"), []byte("{}"), 0o644))

	cfg, err = nanogen.NewConfig(onnxDir, nanogen.WithBackend(nanogen.BackendLlama))
	require.NoError(t, err)

	_, err = nanogen.Load(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, nanogen.ErrCheckpointNotFound)
}

func modelFromEnv(t *testing.T, env string) string {
	t.Helper()
	model := os.Getenv(env)
	if model == "" {
		t.Skipf("%s not set", env)
	}
	return model
}

// realModelTest runs the full pipeline against model.
func realModelTest(t *testing.T, model string, opts ...nanogen.ConfigOption) {
	cfg, err := nanogen.NewConfig(model, opts...)
	require.NoError(t, err)

	llm, err := nanogen.Load(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer llm.Close()

	prompt := "Hello, how are you?"
	ids, err := llm.Encode(prompt)
	require.NoError(t, err)
	text, err := llm.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, prompt, strings.TrimSpace(text))

	sp, err := nanogen.NewSamplingParams(nanogen.WithSeed(1))
	require.NoError(t, err)

	first, err := llm.GenerateResponse(context.Background(), prompt, sp)
	require.NoError(t, err)
	second, err := llm.GenerateResponse(context.Background(), prompt, sp)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(first.TokenIDs), sp.MaxLength)
	assert.GreaterOrEqual(t, len(first.TokenIDs), len(ids))
	assert.NotEqual(t, prompt, first.Text)
	assert.Equal(t, first.TokenIDs, second.TokenIDs)
}

func TestONNXModel(t *testing.T) {
	realModelTest(t, modelFromEnv(t, "NANOGEN_TEST_MODEL"), nanogen.WithOrtLibPath(os.Getenv("ONNXRUNTIME_LIB")))
}

// TestDefaultModel loads the checkpoint used when no model is configured.
func TestDefaultModel(t *testing.T) {
	modelFromEnv(t, "NANOGEN_TEST_MODEL")
	realModelTest(t, nanogen.DefaultModel, nanogen.WithOrtLibPath(os.Getenv("ONNXRUNTIME_LIB")))
}

func TestGGUFModel(t *testing.T) {
	realModelTest(t, modelFromEnv(t, "NANOGEN_TEST_GGUF"), nanogen.WithBackend(nanogen.BackendLlama))
}

func TestGGUFDecodeError(t *testing.T) {
	path := modelFromEnv(t, "NANOGEN_TEST_GGUF")

	cfg, err := nanogen.NewConfig(path, nanogen.WithBackend(nanogen.BackendLlama))
	require.NoError(t, err)

	ckpt, err := hub.Resolve(context.Background(), path, hub.Options{})
	require.NoError(t, err)

	runner, _, err := LoadLlama(ckpt.ModelPath, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer runner.Close()

	seq := nanogen.NewSequence([]int{1 << 30}, nanogen.DefaultSamplingParams(), 0)
	_, err = runner.Run(context.Background(), []*nanogen.Sequence{seq}, true)
	assert.ErrorContains(t, err, "llama decode")
}
