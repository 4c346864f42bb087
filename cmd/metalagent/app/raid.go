// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/command"
	"github.com/ironcore-dev/metal-agent/internal/hardware"
)

func NewRAIDCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "raid",
		Short: "Manage the software RAID configuration",
	}
	cmd.AddCommand(
		newRAIDStepCommand("create", "Create the target RAID configuration of the node", hardware.OpCreateConfiguration),
		newRAIDStepCommand("delete", "Delete all software RAID devices", hardware.OpDeleteConfiguration),
		newRAIDValidateCommand(),
	)
	return cmd
}

func newRAIDStepCommand(use, short, step string) *cobra.Command {
	var raidFile string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			node, err := nodeWithRAIDConfig(env, raidFile)
			if err != nil {
				return err
			}
			res, err := hardware.ExecuteCleanStep(cmd.Context(), env.registry, node, step)
			return printResult(cmd, command.Sync(step, map[string]any{"step": step}, res, err))
		},
	}
	cmd.Flags().StringVar(&raidFile, "raid-config", "", "Path to a YAML or JSON target RAID configuration.")
	return cmd
}

func newRAIDValidateCommand() *cobra.Command {
	var raidFile string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a target RAID configuration against this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			node, err := nodeWithRAIDConfig(env, raidFile)
			if err != nil {
				return err
			}
			if node.TargetRAIDConfig == nil {
				return errors.New("no target RAID configuration given")
			}
			ctx := cmd.Context()
			_, err = hardware.Dispatch(ctx, env.registry, hardware.OpValidateConfiguration, func(m hardware.RAIDValidator) (any, error) {
				return nil, m.ValidateConfiguration(ctx, node, node.TargetRAIDConfig)
			})
			return printResult(cmd, command.Sync(hardware.OpValidateConfiguration, nil, node.TargetRAIDConfig, err))
		},
	}
	cmd.Flags().StringVar(&raidFile, "raid-config", "", "Path to a YAML or JSON target RAID configuration.")
	return cmd
}

// nodeWithRAIDConfig returns the node context, with the target RAID
// configuration replaced by the one in path when given.
func nodeWithRAIDConfig(env *environment, path string) (*registry.Node, error) {
	node := &registry.Node{}
	if cached := env.nodes.Get(); cached != nil {
		*node = *cached
	}
	if path != "" {
		config := &registry.RAIDConfig{}
		if err := readDocument(path, config); err != nil {
			return nil, fmt.Errorf("failed to read RAID configuration: %w", err)
		}
		node.TargetRAIDConfig = config
		env.nodes.Set(node)
	}
	return node, nil
}
