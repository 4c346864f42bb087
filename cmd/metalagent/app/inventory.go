// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/ironcore-dev/metal-agent/internal/hardware"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

func NewInventoryCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Print the hardware inventory of this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			inventory, err := env.inventory.Get(cmd.Context(), true)
			if err != nil {
				return err
			}
			switch output {
			case outputJSON:
				return printJSON(cmd.OutOrStdout(), inventory)
			case outputYAML:
				data, err := yaml.Marshal(inventory)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return fmt.Errorf("unsupported output format %q", output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputYAML, "Output format, one of json or yaml.")
	return cmd
}

func NewBlockDevicesCommand() *cobra.Command {
	var partitions bool
	cmd := &cobra.Command{
		Use:   "block-devices",
		Short: "List the block devices of this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			devices, err := hardware.Dispatch(ctx, env.registry, hardware.OpListBlockDevices, func(m hardware.BlockDeviceLister) (any, error) {
				return m.ListBlockDevices(ctx, partitions)
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), devices)
		},
	}
	cmd.Flags().BoolVar(&partitions, "partitions", false, "Include partitions.")
	return cmd
}

func NewInstallDeviceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install-device",
		Short: "Print the device the operating system is installed onto",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			device, err := hardware.Dispatch(ctx, env.registry, hardware.OpGetOSInstallDevice, func(m hardware.InstallDeviceGetter) (string, error) {
				return m.GetOSInstallDevice(ctx, env.nodes.Get())
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), device)
			return err
		},
	}
}
