package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/BadgerOps/kpz/internal/config"
	"github.com/BadgerOps/kpz/internal/safety"
)

// CatalogConverter turns one translation catalog into a JSON object.
type CatalogConverter interface {
	Convert(ctx context.Context, catalogPath string) (map[string]any, error)
}

// Bounds on how much converter output is held in memory.
const (
	maxConverterOutput = 64 << 20
	maxConverterStderr = 64 << 10

	converterWaitDelay = 5 * time.Second
)

// Po2JSON runs an external po2json style converter once per catalog.
type Po2JSON struct {
	command string
	args    []string
	flags   []string
	timeout time.Duration
	// maxOutput bounds the bytes read from the converter's stdout.
	maxOutput int64
	logger    *slog.Logger
}

// NewPo2JSON builds a converter from the translations config.
func NewPo2JSON(cfg config.ConverterConfig, timeout time.Duration, logger *slog.Logger) *Po2JSON {
	if logger == nil {
		logger = slog.Default()
	}
	return &Po2JSON{
		command:   cfg.Command,
		args:      append([]string(nil), cfg.Args...),
		flags:     append([]string(nil), cfg.Flags...),
		timeout:   timeout,
		maxOutput: maxConverterOutput,
		logger:    logger,
	}
}

// commandLine returns the argument vector for catalogPath.
func (c *Po2JSON) commandLine(catalogPath string) []string {
	argv := make([]string, 0, len(c.args)+len(c.flags)+1)
	argv = append(argv, c.args...)
	argv = append(argv, catalogPath)
	argv = append(argv, c.flags...)
	return argv
}

// Convert runs the converter and parses its stdout. The converter is killed
// as soon as its stdout exceeds the output limit.
func (c *Po2JSON) Convert(ctx context.Context, catalogPath string) (map[string]any, error) {
	path, err := exec.LookPath(c.command)
	if err != nil {
		return nil, &ToolError{Command: c.command, Err: err}
	}

	parent := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ctx, kill := context.WithCancel(ctx)
	defer kill()

	argv := c.commandLine(catalogPath)
	cmd := exec.CommandContext(ctx, path, argv...)
	stdout := &safety.LimitedBuffer{Limit: c.maxOutput, OnExceed: kill}
	stderr := &safety.LimitedBuffer{Limit: maxConverterStderr, Discard: true}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Children that inherit the pipes must not keep Wait blocked after a kill.
	cmd.WaitDelay = converterWaitDelay

	c.logger.Debug("running catalog converter", "command", c.command, "args", argv)
	runErr := cmd.Run()

	if stdout.Exceeded() {
		return nil, newStageError(ErrMalformedToolOutput, "reading converter output", catalogPath,
			fmt.Errorf("%w: more than %d bytes", safety.ErrOutputTooLarge, c.maxOutput))
	}
	if runErr != nil {
		if err := checkCanceled(parent); err != nil {
			return nil, err
		}
		toolErr := &ToolError{
			Command: c.command,
			Args:    argv,
			Output:  stderr.String() + stdout.String(),
			Err:     runErr,
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			toolErr.ExitCode = exitErr.ExitCode()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			toolErr.Err = fmt.Errorf("converter timed out after %s: %w", c.timeout, ctx.Err())
		}
		return nil, toolErr
	}

	return decodeCatalog(catalogPath, stdout.Bytes())
}

// decodeCatalog parses converter output, which must be a JSON object.
func decodeCatalog(catalogPath string, data []byte) (map[string]any, error) {
	var catalog map[string]any
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, newStageError(ErrMalformedToolOutput, "parsing converter output", catalogPath, err)
	}
	if catalog == nil {
		return nil, newStageError(ErrMalformedToolOutput, "parsing converter output", catalogPath, fmt.Errorf("expected a JSON object, got null"))
	}
	return catalog, nil
}
