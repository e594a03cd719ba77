package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by the pipeline matches exactly one of
// these with errors.Is.
var (
	ErrConfiguration       = errors.New("configuration error")
	ErrInvalidInput        = errors.New("invalid input")
	ErrIO                  = errors.New("i/o error")
	ErrToolExecutionFailed = errors.New("tool execution failed")
	ErrMalformedToolOutput = errors.New("malformed tool output")
	ErrArchiveWrite        = errors.New("archive write error")
	ErrCanceled            = errors.New("build canceled")
)

// StageError is a classified failure of one filesystem or archive operation.
type StageError struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newStageError(kind error, op, path string, err error) error {
	return &StageError{Kind: kind, Op: op, Path: path, Err: err}
}

func ioError(op, path string, err error) error {
	return newStageError(ErrIO, op, path, err)
}

// checkCanceled classifies a done context as ErrCanceled.
func checkCanceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return newStageError(ErrCanceled, "build interrupted", "", err)
	}
	return nil
}

// ToolError reports a failed external converter invocation.
type ToolError struct {
	Command  string
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Command, strings.Join(e.Args, " "))
	// A killed process reports -1; its cause is in Err.
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *ToolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrToolExecutionFailed}
	}
	return []error{ErrToolExecutionFailed, e.Err}
}

// PipelineError records the stage a build was in when it failed.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage.Action(), e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
