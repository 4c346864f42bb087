// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package executor runs the external tools the agent orchestrates.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	utilexec "k8s.io/utils/exec"
)

// ErrNotFound is returned when the executable of a command does not exist.
var ErrNotFound = utilexec.ErrExecutableNotFound

// Command describes a single tool invocation.
type Command struct {
	Name           string
	Args           []string
	ExitCodes      []int
	StandardLocale bool
	Attempts       int
	Delay          time.Duration
}

// Cmd returns a Command accepting only exit code 0 and running once.
func Cmd(name string, args ...string) *Command {
	return &Command{Name: name, Args: args, ExitCodes: []int{0}, Attempts: 1}
}

// AcceptExitCodes replaces the set of exit codes treated as success.
func (c *Command) AcceptExitCodes(codes ...int) *Command {
	c.ExitCodes = codes
	return c
}

// WithStandardLocale runs the command with LC_ALL=C so its output can be parsed.
func (c *Command) WithStandardLocale() *Command {
	c.StandardLocale = true
	return c
}

// WithAttempts retries a failing command up to attempts times, sleeping delay
// between tries.
func (c *Command) WithAttempts(attempts int, delay time.Duration) *Command {
	c.Attempts = attempts
	c.Delay = delay
	return c
}

func (c *Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// ProcessExecutionError carries the outcome of a failed invocation.
type ProcessExecutionError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ProcessExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Unexpected error while running command.\nCommand: %s\nExit code: %d\nStdout: %q\nStderr: %q\nError: %v",
			e.Command, e.ExitCode, e.Stdout, e.Stderr, e.Err)
	}
	return fmt.Sprintf("Unexpected error while running command.\nCommand: %s\nExit code: %d\nStdout: %q\nStderr: %q",
		e.Command, e.ExitCode, e.Stdout, e.Stderr)
}

func (e *ProcessExecutionError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err was caused by a missing executable.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Interface is implemented by everything able to run a Command.
type Interface interface {
	Run(ctx context.Context, cmd *Command) (stdout, stderr string, err error)
}

// Runner starts a process once and reports its raw outcome. A non-zero exit
// code is not an error at this level.
type Runner interface {
	RunOnce(ctx context.Context, cmd *Command) (stdout, stderr string, exitCode int, err error)
}

// Executor applies exit code checks and retries on top of a Runner.
type Executor struct {
	runner Runner
	log    logr.Logger
}

// New returns an Executor running commands on the host.
func New(log logr.Logger) *Executor {
	return NewWithRunner(log, &systemRunner{exec: utilexec.New()})
}

// NewWithRunner returns an Executor backed by runner.
func NewWithRunner(log logr.Logger, runner Runner) *Executor {
	return &Executor{runner: runner, log: log}
}

func (e *Executor) Run(ctx context.Context, cmd *Command) (string, string, error) {
	attempts := max(cmd.Attempts, 1)
	var (
		stdout, stderr string
		lastErr        error
		attempt        int
	)
	backoff := wait.Backoff{Duration: cmd.Delay, Factor: 1, Steps: attempts}
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempt++
		e.log.V(1).Info("Running command", "command", cmd.String(), "attempt", attempt)
		var code int
		var runErr error
		stdout, stderr, code, runErr = e.runner.RunOnce(ctx, cmd)
		if runErr == nil && slices.Contains(acceptedExitCodes(cmd), code) {
			lastErr = nil
			return true, nil
		}
		if runErr != nil {
			code = -1
		}
		lastErr = &ProcessExecutionError{Command: cmd.String(), ExitCode: code, Stdout: stdout, Stderr: stderr, Err: runErr}
		if IsNotFound(runErr) {
			return false, lastErr
		}
		if attempt < attempts {
			e.log.V(1).Info("Command failed, retrying", "command", cmd.String(), "exitCode", code)
		}
		return false, nil
	})
	switch {
	case err == nil:
		return stdout, stderr, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return stdout, stderr, err
	case lastErr != nil:
		return stdout, stderr, lastErr
	default:
		return stdout, stderr, err
	}
}

func acceptedExitCodes(cmd *Command) []int {
	if len(cmd.ExitCodes) == 0 {
		return []int{0}
	}
	return cmd.ExitCodes
}

type systemRunner struct {
	exec utilexec.Interface
}

func (r *systemRunner) RunOnce(ctx context.Context, cmd *Command) (string, string, int, error) {
	var stdout, stderr bytes.Buffer
	c := r.exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.SetStdout(&stdout)
	c.SetStderr(&stderr)
	if cmd.StandardLocale {
		c.SetEnv(append(os.Environ(), "LC_ALL=C"))
	}
	err := c.Run()
	if err == nil {
		return stdout.String(), stderr.String(), 0, nil
	}
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), stderr.String(), exitErr.ExitStatus(), nil
	}
	return stdout.String(), stderr.String(), -1, err
}
