// Package hub resolves a model identifier to checkpoint files on local disk,
// downloading them from the Hugging Face hub when needed.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	hfhub "github.com/gomlx/go-huggingface/hub"
	"go.uber.org/zap"

	"nano-generate-go/nanogen"
)

var (
	// ErrNotFound is returned when an identifier names no usable checkpoint.
	ErrNotFound = fmt.Errorf("hub: %w", nanogen.ErrCheckpointNotFound)

	// ErrUnavailable is returned when the hub cannot be reached or refuses
	// the repository.
	ErrUnavailable = fmt.Errorf("hub unavailable: %w", nanogen.ErrCheckpointNotFound)
)

// Format is the kind of model file a checkpoint carries.
type Format string

const (
	FormatONNX Format = "onnx"
	FormatGGUF Format = "gguf"
)

// ONNXCandidates are the model files tried, in order, inside a checkpoint.
var ONNXCandidates = []string{"onnx/model.onnx", "model.onnx", "decoder_model.onnx", "onnx/decoder_model.onnx"}

// ONNXExports maps hub repositories that publish only framework weights and
// a slow tokenizer to an ONNX export of the same model that ships
// tokenizer.json. Resolve loads the export in their place.
var ONNXExports = map[string]string{
	nanogen.DefaultModel: "Xenova/DialoGPT-medium",
}

// ExportFor returns the repository Resolve downloads for repoID.
func ExportFor(repoID string) string {
	if export, ok := ONNXExports[repoID]; ok {
		return export
	}
	return repoID
}

const (
	tokenizerFile        = "tokenizer.json"
	configFile           = "config.json"
	generationConfigFile = "generation_config.json"
)

// Options controls hub downloads.
type Options struct {
	CacheDir string
	Revision string
	Token    string
	Progress bool
	Log      *zap.Logger
}

// Checkpoint is a resolved set of local model files.
type Checkpoint struct {
	ID            string
	Dir           string
	Format        Format
	ModelPath     string
	TokenizerPath string
	Config        ModelConfig
}

// Resolve turns id into a Checkpoint. id may be a local .gguf file, a local
// directory, a hub repository ("owner/name") or a single hub file
// ("owner/name/path/to/file.gguf").
func Resolve(ctx context.Context, id string, opts Options) (*Checkpoint, error) {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if info, err := os.Stat(id); err == nil {
		if info.IsDir() {
			return resolveDir(id)
		}
		if isGGUF(id) {
			return &Checkpoint{
				ID:        id,
				Dir:       filepath.Dir(id),
				Format:    FormatGGUF,
				ModelPath: id,
				Config:    emptyModelConfig(),
			}, nil
		}
		return nil, fmt.Errorf("%w: %s is not a .gguf file or a directory", ErrNotFound, id)
	}

	repoID, file, ok := splitRepoID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q is neither a local path nor a hub repository", ErrNotFound, id)
	}

	if file != "" {
		return resolveHubFile(ctx, id, repoID, file, opts)
	}

	return resolveHubRepo(ctx, repoID, opts)
}

func isGGUF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".gguf")
}

// splitRepoID splits "owner/name[/file...]" into the repository and the
// file path inside it.
func splitRepoID(id string) (repoID, file string, ok bool) {
	if id == "" || filepath.IsAbs(id) || strings.HasPrefix(id, ".") || strings.Contains(id, "://") {
		return "", "", false
	}

	parts := strings.Split(id, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}

	repoID = parts[0] + "/" + parts[1]
	if len(parts) > 2 {
		file = strings.Join(parts[2:], "/")
	}
	return repoID, file, true
}

func resolveDir(dir string) (*Checkpoint, error) {
	ckpt := &Checkpoint{ID: dir, Dir: dir}

	if p := filepath.Join(dir, tokenizerFile); fileExists(p) {
		ckpt.TokenizerPath = p
	}

	for _, name := range ONNXCandidates {
		if p := filepath.Join(dir, filepath.FromSlash(name)); fileExists(p) {
			ckpt.Format, ckpt.ModelPath = FormatONNX, p
			break
		}
	}

	if ckpt.ModelPath == "" {
		matches, _ := filepath.Glob(filepath.Join(dir, "*.gguf"))
		sort.Strings(matches)
		if len(matches) > 0 {
			ckpt.Format, ckpt.ModelPath = FormatGGUF, matches[0]
		}
	}

	if ckpt.ModelPath == "" {
		return nil, fmt.Errorf("%w: no ONNX or GGUF model in %s", ErrNotFound, dir)
	}

	if ckpt.Format == FormatONNX && ckpt.TokenizerPath == "" {
		return nil, fmt.Errorf("%w: %s has an ONNX model but no %s", ErrNotFound, dir, tokenizerFile)
	}

	var configPath, genPath string
	if p := filepath.Join(dir, configFile); fileExists(p) {
		configPath = p
	}
	if p := filepath.Join(dir, generationConfigFile); fileExists(p) {
		genPath = p
	}

	cfg, err := LoadModelConfig(configPath, genPath)
	if err != nil {
		return nil, err
	}
	ckpt.Config = cfg

	return ckpt, nil
}

func newRepo(repoID string, opts Options) *hfhub.Repo {
	repo := hfhub.New(repoID).WithProgressBar(opts.Progress)
	if opts.Token != "" {
		repo = repo.WithAuth(opts.Token)
	}
	if opts.Revision != "" {
		repo = repo.WithRevision(opts.Revision)
	}
	if opts.CacheDir != "" {
		repo = repo.WithCacheDir(opts.CacheDir)
	}
	return repo
}

func resolveHubFile(ctx context.Context, id, repoID, file string, opts Options) (*Checkpoint, error) {
	if !isGGUF(file) {
		return nil, fmt.Errorf("%w: only .gguf files can be loaded on their own, got %s", ErrNotFound, file)
	}

	repo := newRepo(repoID, opts)
	if err := repo.DownloadInfo(false); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, repoID, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := repo.DownloadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s in %s: %v", ErrNotFound, file, repoID, err)
	}

	opts.Log.Debug("checkpoint file downloaded", zap.String("repo", repoID), zap.String("path", path))

	return &Checkpoint{
		ID:        id,
		Dir:       filepath.Dir(path),
		Format:    FormatGGUF,
		ModelPath: path,
		Config:    emptyModelConfig(),
	}, nil
}

func resolveHubRepo(ctx context.Context, id string, opts Options) (*Checkpoint, error) {
	repoID := ExportFor(id)
	if repoID != id {
		opts.Log.Debug("loading ONNX export", zap.String("model", id), zap.String("repo", repoID))
	}

	repo := newRepo(repoID, opts)
	if err := repo.DownloadInfo(false); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, repoID, err)
	}

	download := func(file string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		path, err := repo.DownloadFile(file)
		if err != nil {
			return "", fmt.Errorf("%w: %s in %s: %v", ErrNotFound, file, repoID, err)
		}
		return path, nil
	}

	tokenizerPath, err := download(tokenizerFile)
	if err != nil {
		return nil, err
	}

	configPath, err := download(configFile)
	if err != nil {
		return nil, err
	}

	genPath, err := download(generationConfigFile)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if err != nil {
		genPath = ""
	}

	var modelPath string
	for _, name := range ONNXCandidates {
		path, err := download(name)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if err != nil {
			continue
		}
		modelPath = path

		// Large exports keep their weights next to the graph.
		if _, err := download(name + "_data"); err == nil {
			opts.Log.Debug("external weights downloaded", zap.String("file", name+"_data"))
		}
		break
	}

	if modelPath == "" {
		return nil, fmt.Errorf("%w: %s has no ONNX export (tried %s)", ErrNotFound, repoID, strings.Join(ONNXCandidates, ", "))
	}

	cfg, err := LoadModelConfig(configPath, genPath)
	if err != nil {
		return nil, err
	}

	opts.Log.Debug("checkpoint resolved",
		zap.String("repo", repoID),
		zap.String("model", modelPath),
		zap.String("model_type", cfg.ModelType))

	return &Checkpoint{
		ID:            id,
		Dir:           filepath.Dir(tokenizerPath),
		Format:        FormatONNX,
		ModelPath:     modelPath,
		TokenizerPath: tokenizerPath,
		Config:        cfg,
	}, nil
}

// Checksum hashes the model file followed by the tokenizer file with
// xxhash64, streaming both from disk.
func (c *Checkpoint) Checksum() (uint64, error) {
	h := xxhash.New()

	for _, path := range []string{c.ModelPath, c.TokenizerPath} {
		if path == "" {
			continue
		}

		f, err := os.Open(path)
		if err != nil {
			return 0, fmt.Errorf("failed to open %s: %w", path, err)
		}

		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return 0, fmt.Errorf("failed to hash %s: %w", path, err)
		}
	}

	return h.Sum64(), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
