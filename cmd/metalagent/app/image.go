// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ironcore-dev/metal-agent/internal/image"
)

func NewImageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Write images onto the install device",
	}
	cmd.AddCommand(newImageCacheCommand(), newImagePrepareCommand())
	return cmd
}

func newImageCacheCommand() *cobra.Command {
	var (
		imageFile string
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Write an image onto the install device unless it is already there",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, info, err := imageEnvironment(imageFile)
			if err != nil {
				return err
			}
			standby, err := env.standby()
			if err != nil {
				return err
			}
			res, err := standby.CacheImage(cmd.Context(), info, force)
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
	cmd.Flags().StringVar(&imageFile, "image-info", "", "Path to a YAML or JSON image description.")
	cmd.Flags().BoolVar(&force, "force", false, "Write the image even when it is already cached.")
	return cmd
}

func newImagePrepareCommand() *cobra.Command {
	var (
		imageFile   string
		configdrive string
	)
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Write an image and its config drive onto the install device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, info, err := imageEnvironment(imageFile)
			if err != nil {
				return err
			}
			data, err := configDrive(configdrive)
			if err != nil {
				return err
			}
			standby, err := env.standby()
			if err != nil {
				return err
			}
			res, err := standby.PrepareImage(cmd.Context(), info, data)
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
	cmd.Flags().StringVar(&imageFile, "image-info", "", "Path to a YAML or JSON image description.")
	cmd.Flags().StringVar(&configdrive, "configdrive", "",
		"Config drive as URL, as gzipped base64 or as path to a file holding either.")
	return cmd
}

func imageEnvironment(path string) (*environment, *image.Info, error) {
	if path == "" {
		return nil, nil, errors.New("--image-info is required")
	}
	info := &image.Info{}
	if err := readDocument(path, info); err != nil {
		return nil, nil, fmt.Errorf("failed to read image info: %w", err)
	}
	env, err := newEnvironment()
	if err != nil {
		return nil, nil, err
	}
	if info.NodeUUID == "" {
		if node := env.nodes.Get(); node != nil {
			info.NodeUUID = node.UUID
		}
	}
	return env, info, nil
}

// configDrive reads value from a file when one exists at that path.
func configDrive(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if _, err := os.Stat(value); err != nil {
		return value, nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
