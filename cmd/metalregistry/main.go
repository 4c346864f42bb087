// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"os"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/yaml"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	registryserver "github.com/ironcore-dev/metal-agent/internal/registry"
)

var (
	setupLog = ctrl.Log.WithName("setup")
)

func main() {
	var registryAddr string
	var nodesFile string

	flag.StringVar(&registryAddr, "registry-bind-address", ":10000", "The address the registry binds to.")
	flag.StringVar(&nodesFile, "nodes-file", "", "YAML or JSON list of nodes and their MAC addresses agents may look up.")

	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	server := registryserver.NewServer(ctrl.Log.WithName("registry"), registryAddr)
	if nodesFile != "" {
		data, err := os.ReadFile(nodesFile)
		if err != nil {
			setupLog.Error(err, "unable to read nodes file")
			os.Exit(1)
		}
		var nodes []registry.NodeRegistration
		if err := yaml.Unmarshal(data, &nodes); err != nil {
			setupLog.Error(err, "unable to parse nodes file")
			os.Exit(1)
		}
		for _, n := range nodes {
			if n.Node.UUID == "" {
				setupLog.Error(nil, "node uuid is missing", "macAddresses", n.MACAddresses)
				os.Exit(1)
			}
			server.SeedNode(n.Node, n.MACAddresses...)
		}
		setupLog.Info("Seeded nodes", "count", len(nodes))
	}

	ctx := ctrl.SetupSignalHandler()

	setupLog.Info("starting registry server", "address", registryAddr)
	if err := server.Start(ctx); err != nil {
		setupLog.Error(err, "problem running registry server")
		os.Exit(1)
	}
}
