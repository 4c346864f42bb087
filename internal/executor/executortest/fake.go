// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package executortest provides a scripted executor.Runner for tests.
package executortest

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/ironcore-dev/metal-agent/internal/executor"
)

// Response is the canned outcome of one invocation.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Handler answers commands that have no scripted responses. It returns false
// when it does not know the command either.
type Handler func(cmd *executor.Command) (Response, bool)

// Fake replays scripted responses keyed by the full command line. Responses
// for a command line are consumed in order and the last one repeats.
// Unscripted commands behave like missing executables.
type Fake struct {
	mu        sync.Mutex
	responses map[string][]Response
	handlers  []Handler
	calls     []string
}

func New() *Fake {
	return &Fake{responses: map[string][]Response{}}
}

// On scripts the responses for a command line such as "mdadm --detail /dev/md0".
func (f *Fake) On(cmdline string, responses ...Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[cmdline] = append(f.responses[cmdline], responses...)
	return f
}

// Handle registers a fallback handler.
func (f *Fake) Handle(h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
	return f
}

// Executor wraps the fake into an executor.Executor.
func (f *Fake) Executor() *executor.Executor {
	return executor.NewWithRunner(logr.Discard(), f)
}

// Calls returns every command line run so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns how often cmdline has been run.
func (f *Fake) CallCount(cmdline string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == cmdline {
			n++
		}
	}
	return n
}

func (f *Fake) RunOnce(_ context.Context, cmd *executor.Command) (string, string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	line := cmd.String()
	f.calls = append(f.calls, line)

	if queue, ok := f.responses[line]; ok && len(queue) > 0 {
		r := queue[0]
		if len(queue) > 1 {
			f.responses[line] = queue[1:]
		}
		return r.Stdout, r.Stderr, r.ExitCode, r.Err
	}
	for _, h := range f.handlers {
		if r, ok := h(cmd); ok {
			return r.Stdout, r.Stderr, r.ExitCode, r.Err
		}
	}
	return "", "", -1, executor.ErrNotFound
}
