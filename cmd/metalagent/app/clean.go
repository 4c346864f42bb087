// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"github.com/spf13/cobra"

	"github.com/ironcore-dev/metal-agent/internal/command"
	"github.com/ironcore-dev/metal-agent/internal/hardware"
)

func NewEraseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "erase",
		Short: "Erase all block devices of this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanStep(cmd, hardware.OpEraseDevices)
		},
	}
}

func NewEraseMetadataCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "erase-metadata",
		Short: "Remove partition tables and filesystem signatures from all block devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanStep(cmd, hardware.OpEraseDevicesMetadata)
		},
	}
}

func NewCleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [step]",
		Short: "List the clean steps or execute one of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runCleanStep(cmd, args[0])
			}
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			steps, err := hardware.CleanSteps(cmd.Context(), env.registry, env.nodes.Get())
			if err != nil {
				return err
			}
			for _, s := range steps {
				hardware.SortCleanSteps(s)
			}
			return printJSON(cmd.OutOrStdout(), steps)
		},
	}
}

func runCleanStep(cmd *cobra.Command, step string) error {
	env, err := newEnvironment()
	if err != nil {
		return err
	}
	res, err := hardware.ExecuteCleanStep(cmd.Context(), env.registry, env.nodes.Get(), step)
	return printResult(cmd, command.Sync(step, map[string]any{"step": step}, res, err))
}
