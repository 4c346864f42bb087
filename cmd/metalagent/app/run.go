// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ironcore-dev/metal-agent/internal/agent"
	"github.com/ironcore-dev/metal-agent/internal/metrics"
)

func NewRunCommand() *cobra.Command {
	var (
		apiURL      string
		callbackURL string
		nodeUUID    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Look the node up at the registry and keep heartbeating",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			opts := env.cfg.AgentOptions()
			if apiURL != "" {
				opts.APIURL = apiURL
			}
			if callbackURL != "" {
				opts.CallbackURL = callbackURL
			}
			if nodeUUID != "" {
				opts.NodeUUID = nodeUUID
			} else if node := env.nodes.Get(); node != nil {
				opts.NodeUUID = node.UUID
			}
			if opts.APIURL == "" {
				return errors.New("the registry URL must be set with --api-url or agent.api_url")
			}

			a := agent.NewAgent(env.log.WithName("agent"), opts, env.nodes, env.inventory)
			g, ctx := errgroup.WithContext(cmd.Context())
			if addr := env.cfg.Metrics.BindAddress; addr != "" {
				g.Go(func() error {
					return metrics.NewServer(env.log.WithName("metrics"), addr).Start(ctx)
				})
			}
			g.Go(func() error {
				return a.Start(ctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", "", "URL of the registry. Overrides agent.api_url.")
	cmd.Flags().StringVar(&callbackURL, "callback-url", "", "URL the registry reaches the agent at. Overrides agent.callback_url.")
	cmd.Flags().StringVar(&nodeUUID, "node-uuid", "", "UUID of the node when it is known upfront.")
	return cmd
}
