// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ironcore-dev/metal-agent/internal/executor/executortest"
	"github.com/ironcore-dev/metal-agent/internal/hardware"
)

const nodeContext = `
uuid: 1be26c0b-03f2-4d2e-ae87-c02d7f33c123
driver_internal_info:
  agent_erase_devices_iterations: 1
properties:
  root_device:
    name: /dev/sda
`

var _ = Describe("metalagent", func() {
	env := SetupTest()

	It("registers all subcommands", func(ctx SpecContext) {
		out, err := execute(ctx, "--help")
		Expect(err).NotTo(HaveOccurred())
		for _, name := range []string{"run", "inventory", "block-devices", "install-device", "erase",
			"erase-metadata", "clean", "raid", "image", "reboot", "poweroff", "sync"} {
			Expect(out).To(ContainSubstring(name))
		}
	})

	It("lists the clean steps by manager", func(ctx SpecContext) {
		out, err := execute(ctx, "clean", "--node-file", writeFile("node.yaml", nodeContext))
		Expect(err).NotTo(HaveOccurred())

		steps := map[string][]hardware.CleanStep{}
		Expect(json.Unmarshal([]byte(out), &steps)).To(Succeed())
		Expect(steps).To(HaveKey("generic_hardware_manager"))
		Expect(steps["generic_hardware_manager"]).To(HaveLen(len(hardware.GenericCleanSteps())))
		Expect(steps["generic_hardware_manager"][0].Step).To(Equal(hardware.OpEraseDevicesMetadata))
	})

	It("reports unknown clean steps as failed commands", func(ctx SpecContext) {
		out, err := execute(ctx, "clean", "defragment")
		Expect(err).To(MatchError(ContainSubstring(`unknown clean step "defragment"`)))
		Expect(out).To(ContainSubstring(`"command_status": "FAILED"`))
		Expect(out).To(ContainSubstring(`"type": "InvalidCommandParamsError"`))
	})

	It("reports RAID creation without a node context as a failed command", func(ctx SpecContext) {
		out, err := execute(ctx, "clean", "create_configuration")
		Expect(err).To(MatchError(ContainSubstring("a node is required to create a RAID configuration")))
		Expect(out).To(ContainSubstring(`"command_status": "FAILED"`))
	})

	It("rejects invalid RAID configurations", func(ctx SpecContext) {
		raidConfig := writeFile("raid.yaml", `
logical_disks:
- size_gb: MAX
  raid_level: "5"
  controller: software
`)
		out, err := execute(ctx, "raid", "validate",
			"--node-file", writeFile("node.yaml", nodeContext), "--raid-config", raidConfig)
		Expect(err).To(MatchError(ContainSubstring(`Unsupported RAID level "5"`)))
		Expect(out).To(ContainSubstring(`"command_name": "validate_configuration"`))
	})

	It("accepts valid RAID configurations", func(ctx SpecContext) {
		raidConfig := writeFile("raid.yaml", `
logical_disks:
- size_gb: 100
  raid_level: "1"
  controller: software
- size_gb: MAX
  raid_level: "0"
  controller: software
`)
		out, err := execute(ctx, "raid", "validate",
			"--node-file", writeFile("node.yaml", nodeContext), "--raid-config", raidConfig)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring(`"command_status": "SUCCEEDED"`))
	})

	It("flushes the file system buffers", func(ctx SpecContext) {
		env.fake.On("sync", executortest.Response{})

		out, err := execute(ctx, "sync")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring(`"command_name": "sync"`))
		Expect(out).To(ContainSubstring(`"command_status": "SUCCEEDED"`))
		Expect(env.fake.CallCount("sync")).To(Equal(1))
	})

	It("requires image info for image commands", func(ctx SpecContext) {
		_, err := execute(ctx, "image", "cache")
		Expect(err).To(MatchError("--image-info is required"))
	})

	It("requires the registry URL to run", func(ctx SpecContext) {
		_, err := execute(ctx, "run", "--config", writeFile("agent.yaml", "agent:\n  heartbeat_interval: 10s\n"))
		Expect(err).To(MatchError(ContainSubstring("--api-url or agent.api_url")))
	})

	It("fails on invalid configuration files", func(ctx SpecContext) {
		_, err := execute(ctx, "clean", "--config", writeFile("agent.yaml", "image:\n  download_connection_retries: -1\n"))
		Expect(err).To(MatchError(ContainSubstring("invalid configuration")))
	})
})
