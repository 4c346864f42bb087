// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package hardware

import (
	"context"
	"sync"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
)

// NodeCache keeps the node context last handed to the agent.
type NodeCache struct {
	mu   sync.RWMutex
	node *registry.Node
}

func (c *NodeCache) Get() *registry.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.node
}

func (c *NodeCache) Set(node *registry.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.node = node
}

// InfoCache memoizes the hardware inventory reported by the managers.
type InfoCache struct {
	registry *Registry

	mu   sync.Mutex
	info *registry.Inventory
}

func NewInfoCache(r *Registry) *InfoCache {
	return &InfoCache{registry: r}
}

// Get returns the cached inventory, collecting it first when none is cached
// or refresh is set.
func (c *InfoCache) Get(ctx context.Context, refresh bool) (*registry.Inventory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info != nil && !refresh {
		return c.info, nil
	}
	info, err := Dispatch(ctx, c.registry, OpListHardwareInfo, func(l HardwareInfoLister) (*registry.Inventory, error) {
		return l.ListHardwareInfo(ctx)
	})
	if err != nil {
		return nil, err
	}
	c.info = info
	return info, nil
}
