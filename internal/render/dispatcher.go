// Package render runs the external rendering engine as a child process.
//
// One Dispatch call is one process: the composition id, the output path, the
// JSON property bag and an optional frame count are passed as positional
// arguments, and exit code zero is the only success signal.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrRenderProcess matches every ProcessError.
	ErrRenderProcess = errors.New("render: process failed")
	// ErrInvalidTask is returned when a task is missing its template or output path.
	ErrInvalidTask = errors.New("render: invalid task")
)

const (
	// DefaultTimeout bounds a single render process.
	DefaultTimeout = 10 * time.Minute
	// waitDelay bounds how long output is drained after the process exits or is killed.
	waitDelay = 5 * time.Second
)

// Task describes one render.
type Task struct {
	TemplateID     string
	Properties     Properties
	DurationFrames int
	OutputPath     string
}

// Result is the outcome of a successful render.
type Result struct {
	OutputPath string
	Stdout     string
	Stderr     string
	Duration   time.Duration
}

// ProcessError reports a render process that did not exit cleanly.
// ExitCode is -1 when the process could not be started or was killed
// because its context ended.
type ProcessError struct {
	TemplateID string
	ExitCode   int
	Stderr     string
	Err        error
}

func (e *ProcessError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "render process failed"
	}
	if e.ExitCode < 0 && e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrRenderProcess) match any ProcessError.
func (e *ProcessError) Is(target error) bool {
	return target == ErrRenderProcess
}

// Dispatcher launches render processes.
type Dispatcher struct {
	command  string
	baseArgs []string
	env      []string
	dir      string
	timeout  time.Duration
	tailSize int
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithArgs sets arguments placed before the per-task arguments,
// e.g. the render script path.
func WithArgs(args ...string) Option {
	return func(d *Dispatcher) { d.baseArgs = slices.Clone(args) }
}

// WithEnv adds KEY=value pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(d *Dispatcher) { d.env = append(d.env, env...) }
}

// WithWorkDir sets the working directory of the process.
func WithWorkDir(dir string) Option {
	return func(d *Dispatcher) { d.dir = dir }
}

// WithTimeout bounds each dispatch. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithTailSize sets how many bytes of each stream are kept.
// Non-positive values keep DefaultTailSize.
func WithTailSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.tailSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a Dispatcher running command.
func NewDispatcher(command string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		command:  command,
		timeout:  DefaultTimeout,
		tailSize: DefaultTailSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Args returns the full argument list for task, excluding the command.
func (d *Dispatcher) Args(task Task) ([]string, error) {
	props, err := task.Properties.JSON()
	if err != nil {
		return nil, err
	}
	args := slices.Clone(d.baseArgs)
	args = append(args, task.TemplateID, task.OutputPath, props)
	if task.DurationFrames > 0 {
		args = append(args, strconv.Itoa(task.DurationFrames))
	}
	return args, nil
}

// Dispatch runs one render and waits for it to exit.
func (d *Dispatcher) Dispatch(ctx context.Context, task Task) (*Result, error) {
	if task.TemplateID == "" || task.OutputPath == "" {
		return nil, fmt.Errorf("%w: template id and output path are required", ErrInvalidTask)
	}
	if err := task.Properties.Validate(); err != nil {
		return nil, err
	}

	args, err := d.Args(task)
	if err != nil {
		return nil, err
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	logger := d.logger.With(slog.String("template_id", task.TemplateID))
	stdout := newLineWriter(logger, "stdout", d.tailSize)
	stderr := newLineWriter(logger, "stderr", d.tailSize)

	// #nosec G204 - command is set by configuration, not user input
	cmd := exec.CommandContext(ctx, d.command, args...)
	cmd.Dir = d.dir
	if len(d.env) > 0 {
		cmd.Env = append(os.Environ(), d.env...)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	logger.Info("starting render",
		slog.String("output", task.OutputPath),
		slog.Int("frames", task.DurationFrames),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &ProcessError{TemplateID: task.TemplateID, ExitCode: -1, Err: err}
	}

	err = cmd.Wait()
	stdout.Flush()
	stderr.Flush()
	elapsed := time.Since(start)

	if err != nil {
		perr := &ProcessError{
			TemplateID: task.TemplateID,
			ExitCode:   -1,
			Stderr:     stderr.String(),
			Err:        err,
		}
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			perr.Err = fmt.Errorf("render aborted after %s: %w", elapsed.Round(time.Millisecond), ctx.Err())
		case errors.As(err, &exitErr):
			perr.ExitCode = exitErr.ExitCode()
		}
		logger.Warn("render failed",
			slog.Int("exit_code", perr.ExitCode),
			slog.Duration("duration", elapsed),
			slog.String("error", perr.Error()),
		)
		return nil, perr
	}

	logger.Info("render finished", slog.Duration("duration", elapsed))

	return &Result{
		OutputPath: task.OutputPath,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Duration:   elapsed,
	}, nil
}

// lineWriter logs complete lines and keeps a bounded tail of the raw stream.
type lineWriter struct {
	logger  *slog.Logger
	stream  string
	tail    *tailBuffer
	partial []byte
}

func newLineWriter(logger *slog.Logger, stream string, tailSize int) *lineWriter {
	return &lineWriter{logger: logger, stream: stream, tail: newTailBuffer(tailSize)}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	_, _ = w.tail.Write(p)

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(w.partial[:i])
		w.partial = w.partial[i+1:]
	}
	// Guard against output with no newlines at all.
	if len(w.partial) > w.tail.max {
		w.emit(w.partial)
		w.partial = nil
	}
	return len(p), nil
}

// Flush logs any trailing unterminated line.
func (w *lineWriter) Flush() {
	if len(w.partial) > 0 {
		w.emit(w.partial)
		w.partial = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	text := strings.TrimRight(string(line), "\r")
	if text == "" {
		return
	}
	w.logger.Debug("render output", slog.String("stream", w.stream), slog.String("line", text))
}

func (w *lineWriter) String() string {
	return w.tail.String()
}
