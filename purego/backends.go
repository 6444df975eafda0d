package purego

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"nano-generate-go/hub"
	"nano-generate-go/nanogen"
)

func init() {
	nanogen.RegisterBackend(nanogen.BackendONNX, loadONNX)
	nanogen.RegisterBackend(nanogen.BackendLlama, loadLlama)
	nanogen.RegisterBackend(nanogen.BackendHTTP, loadHTTP)
	nanogen.RegisterBackend(nanogen.BackendAuto, loadAuto)
}

func hubOptions(cfg *nanogen.Config, log *zap.Logger) hub.Options {
	return hub.Options{
		CacheDir: cfg.CacheDir,
		Revision: cfg.Revision,
		Token:    cfg.HubToken,
		Progress: cfg.Progress,
		Log:      log,
	}
}

func isServerURL(model string) bool {
	return strings.HasPrefix(model, "http://") || strings.HasPrefix(model, "https://")
}

// loadAuto picks a backend from the shape of cfg.Model.
func loadAuto(ctx context.Context, cfg *nanogen.Config, log *zap.Logger) (nanogen.ModelRunner, nanogen.Tokenizer, error) {
	switch {
	case isServerURL(cfg.Model):
		return loadHTTP(ctx, cfg, log)
	case cfg.Model == nanogen.BackendMock:
		tok := nanogen.NewMockTokenizer()
		return nanogen.NewMockModelRunner(tok.EOSTokenID()), tok, nil
	}

	ckpt, err := hub.Resolve(ctx, cfg.Model, hubOptions(cfg, log))
	if err != nil {
		return nil, nil, err
	}

	switch ckpt.Format {
	case hub.FormatGGUF:
		return fromGGUF(ckpt, cfg, log)
	default:
		return fromONNX(ckpt, cfg, log)
	}
}

func loadONNX(ctx context.Context, cfg *nanogen.Config, log *zap.Logger) (nanogen.ModelRunner, nanogen.Tokenizer, error) {
	ckpt, err := hub.Resolve(ctx, cfg.Model, hubOptions(cfg, log))
	if err != nil {
		return nil, nil, err
	}
	if ckpt.Format != hub.FormatONNX {
		return nil, nil, fmt.Errorf("%w: %s holds a %s model, not ONNX", nanogen.ErrCheckpointNotFound, cfg.Model, ckpt.Format)
	}
	return fromONNX(ckpt, cfg, log)
}

func loadLlama(ctx context.Context, cfg *nanogen.Config, log *zap.Logger) (nanogen.ModelRunner, nanogen.Tokenizer, error) {
	ckpt, err := hub.Resolve(ctx, cfg.Model, hubOptions(cfg, log))
	if err != nil {
		return nil, nil, err
	}
	if ckpt.Format != hub.FormatGGUF {
		return nil, nil, fmt.Errorf("%w: %s holds a %s model, not GGUF", nanogen.ErrCheckpointNotFound, cfg.Model, ckpt.Format)
	}
	return fromGGUF(ckpt, cfg, log)
}

func loadHTTP(ctx context.Context, cfg *nanogen.Config, log *zap.Logger) (nanogen.ModelRunner, nanogen.Tokenizer, error) {
	if !isServerURL(cfg.Model) {
		return nil, nil, fmt.Errorf("%w: http backend needs a server URL, got %q", nanogen.ErrCheckpointNotFound, cfg.Model)
	}

	runner, err := NewHTTPModelRunner(ctx, cfg.Model, log)
	if err != nil {
		return nil, nil, err
	}

	eos := cfg.EOS
	if eos < 0 {
		eos = runner.Info().EOSTokenID
	}

	return runner, NewHTTPTokenizer(ctx, cfg.Model, eos), nil
}

func fromONNX(ckpt *hub.Checkpoint, cfg *nanogen.Config, log *zap.Logger) (nanogen.ModelRunner, nanogen.Tokenizer, error) {
	logChecksum(ckpt, log)

	eos := cfg.EOS
	if eos < 0 {
		eos = ckpt.Config.EOSTokenID
	}

	tok, err := NewHFTokenizer(ckpt.TokenizerPath, eos)
	if err != nil {
		return nil, nil, err
	}

	runner, err := NewONNXModelRunner(ckpt.ModelPath, cfg, log)
	if err != nil {
		tok.Close()
		return nil, nil, err
	}

	return runner, tok, nil
}

func fromGGUF(ckpt *hub.Checkpoint, cfg *nanogen.Config, log *zap.Logger) (nanogen.ModelRunner, nanogen.Tokenizer, error) {
	logChecksum(ckpt, log)

	runner, tok, err := LoadLlama(ckpt.ModelPath, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return runner, tok, nil
}

// logChecksum hashes the checkpoint files only when debug logging is on.
func logChecksum(ckpt *hub.Checkpoint, log *zap.Logger) {
	if log == nil || !log.Core().Enabled(zap.DebugLevel) {
		return
	}

	sum, err := ckpt.Checksum()
	if err != nil {
		log.Debug("checkpoint checksum failed", zap.Error(err))
		return
	}

	log.Debug("checkpoint",
		zap.String("id", ckpt.ID),
		zap.String("format", string(ckpt.Format)),
		zap.String("xxhash", fmt.Sprintf("%016x", sum)))
}
