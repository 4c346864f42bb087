// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"github.com/spf13/cobra"
)

func NewRebootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reboot",
		Short: "Reboot into the deployed image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			standby, err := env.standby()
			if err != nil {
				return err
			}
			return printResult(cmd, standby.RunImage(cmd.Context()))
		},
	}
}

func NewPowerOffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "poweroff",
		Short: "Power the machine off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			standby, err := env.standby()
			if err != nil {
				return err
			}
			return printResult(cmd, standby.PowerOff(cmd.Context()))
		},
	}
}

func NewSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Flush the file system buffers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			standby, err := env.standby()
			if err != nil {
				return err
			}
			res, err := standby.Sync(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
}
