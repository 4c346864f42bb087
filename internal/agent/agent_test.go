// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package agent_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ironcore-dev/metal-agent/internal/agent"
	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/command"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/hardware"
	registryserver "github.com/ironcore-dev/metal-agent/internal/registry"
)

const (
	nodeUUID   = "1be26c0b-03f2-4d2e-ae87-c02d7f33c123"
	systemUUID = "4c4c4544-0042-3510-8052-b4c04f4e4d32"
)

type staticInventory struct {
	inventory *registry.Inventory
}

func (s staticInventory) Get(context.Context, bool) (*registry.Inventory, error) {
	return s.inventory, nil
}

var _ = Describe("Agent", func() {
	var (
		ctx        context.Context
		registrySv *registryserver.Server
		server     *httptest.Server
		opts       agent.Options
		nodes      *hardware.NodeCache
		inventory  *registry.Inventory
		lookups    atomic.Int32
		heartbeats atomic.Int32
		status     atomic.Int32
	)

	newAgent := func() *agent.Agent {
		opts.APIURL = server.URL
		return agent.NewAgent(logr.Discard(), opts, nodes, staticInventory{inventory: inventory})
	}

	BeforeEach(func() {
		ctx = context.Background()
		lookups.Store(0)
		heartbeats.Store(0)
		status.Store(0)

		registrySv = registryserver.NewServer(logr.Discard(), "")
		handler := registrySv.Handler()
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/v1/lookup":
				lookups.Add(1)
			case strings.HasPrefix(r.URL.Path, "/v1/heartbeat/"):
				heartbeats.Add(1)
				if code := status.Load(); code != 0 {
					w.WriteHeader(int(code))
					return
				}
			}
			handler.ServeHTTP(w, r)
		}))
		DeferCleanup(server.Close)

		opts = agent.DefaultOptions()
		opts.CallbackURL = "http://10.0.0.1:9999"
		opts.RetryInterval = 10 * time.Millisecond
		opts.LookupTimeout = 5 * time.Second
		nodes = &hardware.NodeCache{}
		inventory = &registry.Inventory{
			Hostname: "node-1",
			DMI:      &registry.DMI{System: registry.SystemInformation{UUID: systemUUID}},
			Interfaces: []registry.NetworkInterface{
				{Name: "lo"},
				{Name: "eth0", MACAddress: "aa:bb:cc:dd:ee:ff"},
			},
		}
	})

	It("looks up the node, registers the inventory and heartbeats", func() {
		registrySv.SeedNode(registry.Node{UUID: nodeUUID}, "AA:BB:CC:DD:EE:FF")
		a := newAgent()

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			done <- a.Start(runCtx)
		}()

		Eventually(func() bool {
			_, ok := registrySv.LastHeartbeat(nodeUUID)
			return ok
		}).Should(BeTrue())
		heartbeat, _ := registrySv.LastHeartbeat(nodeUUID)
		Expect(heartbeat.CallbackURL).To(Equal("http://10.0.0.1:9999"))
		Expect(heartbeat.AgentVersion).To(Equal(registry.AgentVersion))

		Expect(nodes.Get()).NotTo(BeNil())
		Expect(nodes.Get().UUID).To(Equal(nodeUUID))
		registered, ok := registrySv.Inventory(systemUUID)
		Expect(ok).To(BeTrue())
		Expect(registered.Hostname).To(Equal("node-1"))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("retries the lookup until the node is known", func() {
		a := newAgent()
		go func() {
			defer GinkgoRecover()
			Eventually(lookups.Load).Should(BeNumerically(">=", 2))
			registrySv.SeedNode(registry.Node{UUID: nodeUUID}, "aa:bb:cc:dd:ee:ff")
		}()

		lookup, err := a.Lookup(ctx, inventory)
		Expect(err).NotTo(HaveOccurred())
		Expect(lookup.Node.UUID).To(Equal(nodeUUID))
		Expect(lookup.Config.HeartbeatTimeout).To(Equal(registryserver.DefaultHeartbeatTimeout))
	})

	It("looks the node up by UUID", func() {
		registrySv.SeedNode(registry.Node{UUID: nodeUUID})
		opts.NodeUUID = nodeUUID
		lookup, err := newAgent().Lookup(ctx, inventory)
		Expect(err).NotTo(HaveOccurred())
		Expect(lookup.Node.UUID).To(Equal(nodeUUID))
	})

	It("gives up the lookup after the timeout", func() {
		opts.LookupTimeout = 100 * time.Millisecond
		_, err := newAgent().Lookup(ctx, inventory)
		Expect(errdefs.ReasonForError(err)).To(Equal(errdefs.ReasonLookupNode))
		Expect(err).To(MatchError(ContainSubstring("unexpected status code 404")))
	})

	DescribeTable("heartbeat results",
		func(code int, reason errdefs.Reason) {
			registrySv.SeedNode(registry.Node{UUID: nodeUUID})
			status.Store(int32(code))
			err := newAgent().Heartbeat(ctx, nodeUUID)
			if reason == "" {
				Expect(err).NotTo(HaveOccurred())
				return
			}
			Expect(errdefs.ReasonForError(err)).To(Equal(reason))
		},
		Entry("accepted", 0, errdefs.Reason("")),
		Entry("conflict", http.StatusConflict, errdefs.ReasonHeartbeatConflict),
		Entry("server error", http.StatusInternalServerError, errdefs.ReasonHeartbeat),
	)

	It("reports heartbeats for unknown nodes", func() {
		err := newAgent().Heartbeat(ctx, "unknown")
		Expect(errdefs.ReasonForError(err)).To(Equal(errdefs.ReasonHeartbeat))
		Expect(err).To(MatchError(ContainSubstring("Invalid status code: 404")))
	})

	It("heartbeats early when a command completes", func() {
		registrySv.SeedNode(registry.Node{UUID: nodeUUID}, "aa:bb:cc:dd:ee:ff")
		opts.HeartbeatInterval = time.Hour
		a := newAgent()

		runCtx, cancel := context.WithCancel(ctx)
		DeferCleanup(cancel)
		go func() {
			defer GinkgoRecover()
			_ = a.Start(runCtx)
		}()
		Eventually(heartbeats.Load).Should(BeEquivalentTo(1))

		command.Sync("sync", nil, nil, nil, a.CompletionHook())
		Eventually(heartbeats.Load).Should(BeEquivalentTo(2))
		Consistently(heartbeats.Load, 200*time.Millisecond).Should(BeEquivalentTo(2))
	})

	It("keeps heartbeating after failures", func() {
		registrySv.SeedNode(registry.Node{UUID: nodeUUID}, "aa:bb:cc:dd:ee:ff")
		status.Store(http.StatusServiceUnavailable)
		opts.HeartbeatInterval = time.Hour
		a := newAgent()

		runCtx, cancel := context.WithCancel(ctx)
		DeferCleanup(cancel)
		go func() {
			defer GinkgoRecover()
			_ = a.Start(runCtx)
		}()
		Eventually(heartbeats.Load).Should(BeNumerically(">=", 3))
		status.Store(0)
		Eventually(func() bool {
			_, ok := registrySv.LastHeartbeat(nodeUUID)
			return ok
		}).Should(BeTrue())
	})
})
