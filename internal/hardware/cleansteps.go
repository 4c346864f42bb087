// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package hardware

import (
	"context"
	"sort"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
)

// Interfaces clean steps belong to.
const (
	InterfaceDeploy = "deploy"
	InterfaceRAID   = "raid"
)

// CleanStep is a cleaning operation a manager offers. Steps with priority 0
// only run when requested explicitly.
type CleanStep struct {
	Step            string `json:"step"`
	Priority        int    `json:"priority"`
	Interface       string `json:"interface"`
	RebootRequested bool   `json:"reboot_requested"`
	Abortable       bool   `json:"abortable"`
}

// GenericCleanSteps are the steps offered by the GenericManager.
func GenericCleanSteps() []CleanStep {
	return []CleanStep{
		{Step: OpEraseDevices, Priority: 10, Interface: InterfaceDeploy, Abortable: true},
		{Step: OpEraseDevicesMetadata, Priority: 99, Interface: InterfaceDeploy, Abortable: true},
		{Step: OpDeleteConfiguration, Priority: 0, Interface: InterfaceRAID, Abortable: true},
		{Step: OpCreateConfiguration, Priority: 0, Interface: InterfaceRAID, Abortable: true},
	}
}

// CleanSteps returns the clean steps of all managers by manager name.
func CleanSteps(ctx context.Context, r *Registry, node *registry.Node) (map[string][]CleanStep, error) {
	return DispatchAll(ctx, r, OpGetCleanSteps, func(p CleanStepProvider) ([]CleanStep, error) {
		return p.GetCleanSteps(ctx, node)
	})
}

// SortCleanSteps orders steps by descending priority, then by name.
func SortCleanSteps(steps []CleanStep) {
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Priority != steps[j].Priority {
			return steps[i].Priority > steps[j].Priority
		}
		return steps[i].Step < steps[j].Step
	})
}

// ExecuteCleanStep dispatches the operation behind a clean step and returns
// its result.
func ExecuteCleanStep(ctx context.Context, r *Registry, node *registry.Node, step string) (any, error) {
	switch step {
	case OpEraseDevices:
		return Dispatch(ctx, r, step, func(m DevicesEraser) (any, error) {
			return m.EraseDevices(ctx, node)
		})
	case OpEraseDevicesMetadata:
		return Dispatch(ctx, r, step, func(m MetadataEraser) (any, error) {
			return nil, m.EraseDevicesMetadata(ctx, node)
		})
	case OpDeleteConfiguration:
		return Dispatch(ctx, r, step, func(m RAIDConfigurator) (any, error) {
			return m.DeleteConfiguration(ctx, node)
		})
	case OpCreateConfiguration:
		return Dispatch(ctx, r, step, func(m RAIDConfigurator) (any, error) {
			return m.CreateConfiguration(ctx, node)
		})
	}
	return nil, errdefs.NewInvalidCommandParamsError("unknown clean step %q", step)
}
