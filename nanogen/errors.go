package nanogen

import (
	"errors"
	"fmt"
)

var (
	// ErrCheckpointNotFound is returned when a model identifier cannot be
	// resolved to a loadable tokenizer and model.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrBackendUnavailable is returned when the selected backend cannot be
	// initialized (missing shared library, unknown backend name).
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrEmptyPrompt is returned when the prompt encodes to zero tokens.
	ErrEmptyPrompt = errors.New("prompt encodes to no tokens")

	// ErrPromptTooLong is returned when the prompt alone is longer than the
	// maximum total length.
	ErrPromptTooLong = errors.New("prompt exceeds maximum length")
)

// Stage identifies the pipeline stage that produced an error.
type Stage string

const (
	StageLoad     Stage = "load"
	StageEncode   Stage = "encode"
	StageGenerate Stage = "generate"
	StageDecode   Stage = "decode"
)

// StageError wraps an error with the stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf reports the stage recorded in err, or "" if err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
