// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/yaml"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/command"
	"github.com/ironcore-dev/metal-agent/internal/config"
	"github.com/ironcore-dev/metal-agent/internal/executor"
	"github.com/ironcore-dev/metal-agent/internal/hardware"
	"github.com/ironcore-dev/metal-agent/internal/image"
)

const Name string = "metalagent"

var (
	configFile string
	nodeFile   string
	zapOpts    = zap.Options{Development: true}
)

// newExecutor is replaced in tests.
var newExecutor = func(log logr.Logger) executor.Interface {
	return executor.New(log)
}

func NewCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           Name,
		Short:         "Node agent preparing bare metal machines for deployment",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	goFlags := flag.NewFlagSet(Name, flag.ContinueOnError)
	zapOpts.BindFlags(goFlags)
	root.PersistentFlags().AddGoFlagSet(goFlags)
	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to the agent configuration file.")
	root.PersistentFlags().StringVar(&nodeFile, "node-file", "", "Path to a YAML or JSON node context used instead of a registry lookup.")
	root.PersistentPreRun = func(*cobra.Command, []string) {
		ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zapOpts)))
	}

	root.AddCommand(
		NewRunCommand(),
		NewInventoryCommand(),
		NewBlockDevicesCommand(),
		NewInstallDeviceCommand(),
		NewEraseCommand(),
		NewEraseMetadataCommand(),
		NewCleanCommand(),
		NewRAIDCommand(),
		NewImageCommand(),
		NewRebootCommand(),
		NewPowerOffCommand(),
		NewSyncCommand(),
	)
	return root
}

// environment is everything a subcommand works with.
type environment struct {
	log       logr.Logger
	cfg       *config.Config
	exec      executor.Interface
	nodes     *hardware.NodeCache
	generic   *hardware.GenericManager
	registry  *hardware.Registry
	inventory *hardware.InfoCache
}

func newEnvironment() (*environment, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	log := ctrl.Log.WithName(Name)
	exec := newExecutor(log.WithName("executor"))

	nodes := &hardware.NodeCache{}
	if nodeFile != "" {
		node := &registry.Node{}
		if err := readDocument(nodeFile, node); err != nil {
			return nil, fmt.Errorf("failed to read node context: %w", err)
		}
		nodes.Set(node)
	}

	generic := hardware.NewGenericManager(log, exec, nodes, cfg.GenericOptions())
	r := hardware.NewRegistry(log.WithName("hardware"), generic)
	return &environment{
		log:       log,
		cfg:       cfg,
		exec:      exec,
		nodes:     nodes,
		generic:   generic,
		registry:  r,
		inventory: hardware.NewInfoCache(r),
	}, nil
}

// standby wires the image pipeline. opts are applied to every asynchronous
// command.
func (e *environment) standby(opts ...command.Option) (*image.Standby, error) {
	downloader, err := image.NewDownloader(e.log.WithName("download"), e.cfg.ImageOptions())
	if err != nil {
		return nil, err
	}
	writer := image.NewWriter(e.log.WithName("image"), e.exec, e.generic.Collector(), downloader)
	return image.NewStandby(e.log.WithName("standby"), e.exec, e.registry, writer, opts...), nil
}

// readDocument decodes a YAML or JSON file into v.
func readDocument(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult prints a finished command and fails when the command did.
func printResult(cmd *cobra.Command, r *command.Result) error {
	if err := r.Wait(cmd.Context()); err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), r); err != nil {
		return err
	}
	return r.Err()
}
