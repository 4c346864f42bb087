// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package hardware

import (
	"context"
	"slices"
	"sync"

	"github.com/go-logr/logr"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/metrics"
)

type rankedManager struct {
	manager Manager
	support Support
}

// Registry holds the loaded managers. Support is evaluated on first use and
// kept for the lifetime of the registry.
type Registry struct {
	log    logr.Logger
	loaded []Manager

	mu     sync.Mutex
	ranked []rankedManager
}

// NewRegistry loads managers in the given order. Managers with equal support
// keep that order.
func NewRegistry(log logr.Logger, managers ...Manager) *Registry {
	r := &Registry{log: log, loaded: managers}
	for _, m := range managers {
		if u, ok := m.(RegistryUser); ok {
			u.UseRegistry(r)
		}
	}
	return r
}

// Managers returns the managers supporting this machine, best first.
func (r *Registry) Managers(ctx context.Context) ([]Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ranked == nil {
		ranked := make([]rankedManager, 0, len(r.loaded))
		for _, m := range r.loaded {
			support := m.EvaluateHardwareSupport(ctx)
			r.log.Info("Evaluated hardware manager", "manager", m.Name(), "support", support.String())
			if support <= SupportNone {
				continue
			}
			ranked = append(ranked, rankedManager{manager: m, support: support})
		}
		slices.SortStableFunc(ranked, func(a, b rankedManager) int {
			return int(b.support) - int(a.support)
		})
		r.ranked = ranked
	}
	if len(r.ranked) == 0 {
		return nil, errdefs.NewHardwareManagerNotFoundError()
	}

	managers := make([]Manager, 0, len(r.ranked))
	for _, rm := range r.ranked {
		managers = append(managers, rm.manager)
	}
	return managers, nil
}

// Reset forgets the evaluated support so that the next call evaluates again.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ranked = nil
}

// Dispatch calls the best manager implementing capability C. A manager
// answering with an IncompatibleHardwareMethod error hands the call on to the
// next one; any other error is returned right away.
func Dispatch[C any, R any](ctx context.Context, r *Registry, op string, call func(C) (R, error)) (R, error) {
	var zero R
	managers, err := r.Managers(ctx)
	if err != nil {
		return zero, err
	}

	for _, m := range managers {
		c, ok := m.(C)
		if !ok {
			continue
		}
		result, err := call(c)
		if err == nil {
			return result, nil
		}
		if errdefs.IsIncompatibleHardwareMethod(err) {
			r.log.V(1).Info("Hardware manager is incompatible, trying the next one",
				"manager", m.Name(), "operation", op, "error", err.Error())
			metrics.DispatchFallbacksTotal.WithLabelValues(op).Inc()
			continue
		}
		return zero, err
	}
	return zero, errdefs.NewHardwareManagerMethodNotFoundError(op)
}

// DispatchAll calls every manager implementing capability C and collects the
// results by manager name. Incompatible managers are left out.
func DispatchAll[C any, R any](ctx context.Context, r *Registry, op string, call func(C) (R, error)) (map[string]R, error) {
	managers, err := r.Managers(ctx)
	if err != nil {
		return nil, err
	}

	results := map[string]R{}
	for _, m := range managers {
		c, ok := m.(C)
		if !ok {
			continue
		}
		result, err := call(c)
		if err != nil {
			if errdefs.IsIncompatibleHardwareMethod(err) {
				r.log.V(1).Info("Hardware manager is incompatible", "manager", m.Name(), "operation", op)
				metrics.DispatchFallbacksTotal.WithLabelValues(op).Inc()
				continue
			}
			r.log.Error(err, "Hardware manager failed", "manager", m.Name(), "operation", op)
			return nil, err
		}
		results[m.Name()] = result
	}
	if len(results) == 0 {
		return nil, errdefs.NewHardwareManagerMethodNotFoundError(op)
	}
	return results, nil
}
