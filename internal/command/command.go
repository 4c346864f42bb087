// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package command tracks the outcome of the commands the agent executes on
// behalf of its callers.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/metrics"
)

// Status is the lifecycle state of a Result.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Func is the work behind an asynchronous command.
type Func func(ctx context.Context) (any, error)

// Result is a command that moves from RUNNING to SUCCEEDED or FAILED exactly
// once.
type Result struct {
	id      string
	name    string
	params  map[string]any
	started time.Time

	mu       sync.Mutex
	status   Status
	result   any
	err      *errdefs.Error
	done     chan struct{}
	onFinish []func(*Result)
}

// Option customizes a Result before its work starts.
type Option func(*Result)

// WithCompletionHook runs hook after the Result reached its terminal status.
func WithCompletionHook(hook func(*Result)) Option {
	return func(r *Result) {
		if hook != nil {
			r.onFinish = append(r.onFinish, hook)
		}
	}
}

func newResult(name string, params map[string]any, opts ...Option) *Result {
	r := &Result{
		id:      uuid.NewString(),
		name:    name,
		params:  params,
		started: time.Now(),
		status:  StatusRunning,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs fn on its own goroutine and returns the RUNNING Result right
// away. ctx is handed to fn; cancelling it does not change the Result by
// itself.
func Start(ctx context.Context, log logr.Logger, name string, params map[string]any, fn Func, opts ...Option) *Result {
	r := newResult(name, params, opts...)
	log = log.WithValues("command", name, "id", r.id)
	go func() {
		log.Info("Executing asynchronous command")
		res, err := runSafely(ctx, fn)
		r.finish(res, err)
		if err != nil {
			log.Error(err, "Asynchronous command failed")
			return
		}
		log.Info("Asynchronous command completed")
	}()
	return r
}

// Sync returns the Result of a command that already completed.
func Sync(name string, params map[string]any, result any, err error, opts ...Option) *Result {
	r := newResult(name, params, opts...)
	r.finish(result, err)
	return r
}

func runSafely(ctx context.Context, fn Func) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

func (r *Result) finish(res any, err error) {
	r.mu.Lock()
	if r.status != StatusRunning {
		r.mu.Unlock()
		return
	}
	if err != nil {
		r.status = StatusFailed
		r.err = toAgentError(err)
	} else {
		r.status = StatusSucceeded
		r.result = r.normalize(res)
	}
	hooks := r.onFinish
	close(r.done)
	r.mu.Unlock()

	metrics.CommandDuration.WithLabelValues(r.name, string(r.status)).Observe(time.Since(r.started).Seconds())
	for _, hook := range hooks {
		hook(r)
	}
}

func (r *Result) normalize(res any) any {
	if s, ok := res.(string); ok {
		return map[string]any{"result": fmt.Sprintf("%s: %s", r.name, s)}
	}
	return res
}

func toAgentError(err error) *errdefs.Error {
	var agentErr *errdefs.Error
	if errors.As(err, &agentErr) {
		return agentErr
	}
	return errdefs.NewCommandExecutionError("%v", err).Wrap(err)
}

func (r *Result) ID() string {
	return r.id
}

func (r *Result) Name() string {
	return r.name
}

func (r *Result) Params() map[string]any {
	return r.params
}

func (r *Result) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Value returns the command result, or nil while running or after a failure.
func (r *Result) Value() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Err returns the failure of the command, or nil.
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		return nil
	}
	return r.err
}

// Done is closed once the Result reached its terminal status.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

func (r *Result) IsDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the command completed or ctx is done.
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Error is the serialized form of a command failure.
type Error struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// Serialized is the wire representation of a Result.
type Serialized struct {
	ID            string         `json:"id"`
	CommandName   string         `json:"command_name"`
	CommandParams map[string]any `json:"command_params"`
	CommandStatus Status         `json:"command_status"`
	CommandError  *Error         `json:"command_error"`
	CommandResult any            `json:"command_result"`
}

func (r *Result) Serialize() Serialized {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Serialized{
		ID:            r.id,
		CommandName:   r.name,
		CommandParams: r.params,
		CommandStatus: r.status,
		CommandResult: r.result,
	}
	if r.err != nil {
		s.CommandError = &Error{
			Type:    string(r.err.Reason),
			Code:    r.err.Code,
			Message: r.err.Message,
			Details: r.err.Details,
		}
	}
	return s
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Serialize())
}
