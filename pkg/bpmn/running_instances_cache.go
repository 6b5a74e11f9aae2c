// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"sync"
)

type runningInstance struct {
	mu   *sync.Mutex
	refs int
}

// RunningInstancesCache serializes stimuli per process instance family. A family is a root process
// instance together with the instances started by its call activities, all locked by the root key.
type RunningInstancesCache struct {
	processInstances map[int64]*runningInstance
	mu               *sync.Mutex
}

func newRunningInstancesCache() *RunningInstancesCache {
	return &RunningInstancesCache{
		processInstances: map[int64]*runningInstance{},
		mu:               &sync.Mutex{},
	}
}

// lockInstance blocks until the family of rootKey is free and returns the matching unlock function.
func (c *RunningInstancesCache) lockInstance(rootKey int64) func() {
	c.mu.Lock()
	ins, ok := c.processInstances[rootKey]
	if !ok {
		ins = &runningInstance{mu: &sync.Mutex{}}
		c.processInstances[rootKey] = ins
	}
	ins.refs++
	c.mu.Unlock()

	ins.mu.Lock()
	return func() {
		ins.mu.Unlock()
		c.mu.Lock()
		ins.refs--
		if ins.refs == 0 {
			delete(c.processInstances, rootKey)
		}
		c.mu.Unlock()
	}
}

func (c *RunningInstancesCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.processInstances)
}
