// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package model

import (
	"slices"
	"sort"
)

// ProcessDefinition is the immutable graph of a process. It is created by a Builder and
// shared by all instances of the process.
type ProcessDefinition struct {
	Id        string
	Name      string
	SLA       string
	Variables []VariableDeclaration
	Metadata  map[string]string

	// Options are the build options the definition was validated with.
	Options BuildOptions

	nodes       map[string]*Node
	nodeOrder   []string
	connections map[string]*Connection
	children    map[string][]string
	boundaries  map[string][]string
}

// Validate checks the definition again under opts, e.g. when an engine is stricter than the options
// the definition was built with.
func (pd *ProcessDefinition) Validate(opts BuildOptions) error {
	return validate(pd, opts)
}

func (pd *ProcessDefinition) Node(id string) *Node {
	return pd.nodes[id]
}

func (pd *ProcessDefinition) Connection(id string) *Connection {
	return pd.connections[id]
}

// Nodes returns all nodes in declaration order.
func (pd *ProcessDefinition) Nodes() []*Node {
	nodes := make([]*Node, 0, len(pd.nodeOrder))
	for _, id := range pd.nodeOrder {
		nodes = append(nodes, pd.nodes[id])
	}
	return nodes
}

// Children returns the nodes directly contained by container, "" being the process itself.
func (pd *ProcessDefinition) Children(container string) []*Node {
	ids := pd.children[container]
	nodes := make([]*Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, pd.nodes[id])
	}
	return nodes
}

// StartNodes returns the start events of a container that are not triggered by an event.
func (pd *ProcessDefinition) StartNodes(container string) []*Node {
	var res []*Node
	for _, n := range pd.Children(container) {
		if n.Kind == KindStartEvent && (n.Event == nil || n.Event.Type == EventNone) {
			res = append(res, n)
		}
	}
	return res
}

// EventStartNodes returns start events of a container that wait for an event.
func (pd *ProcessDefinition) EventStartNodes(container string) []*Node {
	var res []*Node
	for _, n := range pd.Children(container) {
		if n.Kind == KindStartEvent && n.Event != nil && n.Event.Type != EventNone {
			res = append(res, n)
		}
	}
	return res
}

// EventSubProcesses returns the event sub-processes declared in container.
func (pd *ProcessDefinition) EventSubProcesses(container string) []*Node {
	var res []*Node
	for _, n := range pd.Children(container) {
		if n.Kind == KindEventSubProcess {
			res = append(res, n)
		}
	}
	return res
}

// BoundaryEvents returns the boundary events attached to activity.
func (pd *ProcessDefinition) BoundaryEvents(activity string) []*Node {
	ids := pd.boundaries[activity]
	nodes := make([]*Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, pd.nodes[id])
	}
	return nodes
}

// OutgoingConnections returns the outgoing connections of a node ordered by priority,
// ties broken by declaration order.
func (pd *ProcessDefinition) OutgoingConnections(nodeId string) []*Connection {
	n := pd.nodes[nodeId]
	if n == nil {
		return nil
	}
	res := make([]*Connection, 0, len(n.Outgoing))
	for _, id := range n.Outgoing {
		res = append(res, pd.connections[id])
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Priority != res[j].Priority {
			return res[i].Priority < res[j].Priority
		}
		return res[i].order < res[j].order
	})
	return res
}

func (pd *ProcessDefinition) IncomingConnections(nodeId string) []*Connection {
	n := pd.nodes[nodeId]
	if n == nil {
		return nil
	}
	res := make([]*Connection, 0, len(n.Incoming))
	for _, id := range n.Incoming {
		res = append(res, pd.connections[id])
	}
	return res
}

// DefaultConnection returns the default outgoing connection of a gateway, or nil.
func (pd *ProcessDefinition) DefaultConnection(nodeId string) *Connection {
	n := pd.nodes[nodeId]
	if n == nil || n.Default == "" {
		return nil
	}
	return pd.connections[n.Default]
}

// Successors returns the target nodes of all outgoing connections.
func (pd *ProcessDefinition) Successors(nodeId string) []*Node {
	var res []*Node
	for _, c := range pd.OutgoingConnections(nodeId) {
		res = append(res, pd.nodes[c.Target])
	}
	return res
}

// Contains reports whether node is (transitively) nested inside container.
func (pd *ProcessDefinition) Contains(container string, nodeId string) bool {
	n := pd.nodes[nodeId]
	for n != nil {
		if n.Parent == container {
			return true
		}
		if n.Parent == "" {
			return false
		}
		n = pd.nodes[n.Parent]
	}
	return false
}

// CanReach reports whether target is reachable from source following outgoing connections and
// boundary events of activities, without passing through any node in stop.
func (pd *ProcessDefinition) CanReach(source string, target string, stop ...string) bool {
	visited := map[string]bool{}
	queue := []string{source}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		next := make([]string, 0)
		for _, c := range pd.OutgoingConnections(id) {
			next = append(next, c.Target)
		}
		next = append(next, pd.boundaries[id]...)
		for _, nid := range next {
			if nid == target {
				return true
			}
			if slices.Contains(stop, nid) {
				continue
			}
			queue = append(queue, nid)
		}
	}
	return false
}
