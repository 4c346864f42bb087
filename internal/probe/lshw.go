// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"regexp"

	"github.com/ironcore-dev/metal-agent/internal/executor"
)

type lshwNode struct {
	ID       string     `json:"id"`
	Class    string     `json:"class"`
	Product  string     `json:"product"`
	Vendor   string     `json:"vendor"`
	Serial   string     `json:"serial"`
	Size     int64      `json:"size"`
	Units    string     `json:"units"`
	Children []lshwNode `json:"children"`
}

var memoryNodeIDRe = regexp.MustCompile(`^memory(:\d+)?$`)

// parseLshw accepts both the object report of older lshw releases and the
// single element list newer releases print.
func parseLshw(data []byte) (*lshwNode, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var nodes []lshwNode
		if err := json.Unmarshal(data, &nodes); err != nil {
			return nil, err
		}
		if len(nodes) == 0 {
			return nil, errors.New("lshw returned an empty report")
		}
		return &nodes[0], nil
	}
	node := &lshwNode{}
	if err := json.Unmarshal(data, node); err != nil {
		return nil, err
	}
	return node, nil
}

// physicalMemoryMB sums the memory nodes below "core". A memory node without
// a size of its own is accounted by its banks.
func (n *lshwNode) physicalMemoryMB() int64 {
	var total int64
	for _, child := range n.Children {
		if child.ID != "core" {
			continue
		}
		for _, mem := range child.Children {
			if !memoryNodeIDRe.MatchString(mem.ID) {
				continue
			}
			if mem.Size > 0 {
				total += mem.bytes()
				continue
			}
			for _, bank := range mem.Children {
				total += bank.bytes()
			}
		}
	}
	return total / (1 << 20)
}

func (n *lshwNode) bytes() int64 {
	switch n.Units {
	case "", "bytes", "B":
		return n.Size
	case "KiB", "kB":
		return n.Size << 10
	case "MiB", "MB":
		return n.Size << 20
	case "GiB", "GB":
		return n.Size << 30
	}
	return 0
}

// lshwReport runs lshw once and memoizes the parsed report.
func (c *Collector) lshwReport(ctx context.Context) (*lshwNode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lshw != nil {
		return c.lshw, nil
	}
	stdout, _, err := c.exec.Run(ctx, executor.Cmd("lshw", "-quiet", "-json"))
	if err != nil {
		return nil, err
	}
	node, err := parseLshw([]byte(stdout))
	if err != nil {
		return nil, err
	}
	c.lshw = node
	return node, nil
}
