// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package model

import (
	"fmt"
)

// BuildOptions tune structural validation.
type BuildOptions struct {
	// MultiConnection allows simple tasks and scripts to have more than one incoming or outgoing
	// connection without an explicit gateway.
	MultiConnection bool
}

type builderState struct {
	def         *ProcessDefinition
	nodes       []*Node
	connections []*Connection
	flowCounter int
}

// Builder assembles a ProcessDefinition. Nodes added through a Builder obtained from Within
// are children of that container.
type Builder struct {
	state  *builderState
	parent string
}

func NewBuilder(processId string) *Builder {
	return &Builder{
		state: &builderState{
			def: &ProcessDefinition{
				Id:       processId,
				Name:     processId,
				Metadata: map[string]string{},
			},
		},
	}
}

func (b *Builder) Name(name string) *Builder {
	b.state.def.Name = name
	return b
}

// SLA sets the process level SLA due date expression (ISO-8601 duration).
func (b *Builder) SLA(sla string) *Builder {
	b.state.def.SLA = sla
	return b
}

func (b *Builder) Metadata(key, value string) *Builder {
	b.state.def.Metadata[key] = value
	return b
}

func (b *Builder) Variable(name string, typ string, defaultValue any) *Builder {
	b.state.def.Variables = append(b.state.def.Variables, VariableDeclaration{Name: name, Type: typ, Default: defaultValue})
	return b
}

// Within returns a builder adding nodes into the given container (sub-process or event sub-process).
func (b *Builder) Within(container string) *Builder {
	return &Builder{state: b.state, parent: container}
}

// Add appends a node; the node's Parent is set to the builder's container when empty.
func (b *Builder) Add(node *Node) *Node {
	if node.Parent == "" {
		node.Parent = b.parent
	}
	b.state.nodes = append(b.state.nodes, node)
	return node
}

func (b *Builder) StartEvent(id string) *Node {
	return b.Add(&Node{Id: id, Kind: KindStartEvent})
}

// EventStartEvent adds a start event triggered by the given event definition.
func (b *Builder) EventStartEvent(id string, event EventDefinition, interrupting bool) *Node {
	return b.Add(&Node{Id: id, Kind: KindStartEvent, Event: &event, Interrupting: interrupting})
}

func (b *Builder) EndEvent(id string) *Node {
	return b.Add(&Node{Id: id, Kind: KindEndEvent})
}

func (b *Builder) TerminateEndEvent(id string) *Node {
	return b.Add(&Node{Id: id, Kind: KindEndEvent, Event: &EventDefinition{Type: EventTerminate}})
}

func (b *Builder) ErrorEndEvent(id string, code string) *Node {
	return b.Add(&Node{Id: id, Kind: KindEndEvent, Event: &EventDefinition{Type: EventError, Ref: code}})
}

func (b *Builder) Task(kind NodeKind, id string, taskType string) *Node {
	return b.Add(&Node{Id: id, Kind: kind, TaskType: taskType})
}

func (b *Builder) UserTask(id string) *Node {
	return b.Add(&Node{Id: id, Kind: KindUserTask, TaskType: "Human Task"})
}

func (b *Builder) ServiceTask(id string, taskType string) *Node {
	return b.Add(&Node{Id: id, Kind: KindServiceTask, TaskType: taskType})
}

func (b *Builder) ScriptTask(id string, script string) *Node {
	return b.Add(&Node{Id: id, Kind: KindScriptTask, Script: script})
}

func (b *Builder) BusinessRuleTask(id string, ruleFlowGroup string) *Node {
	return b.Add(&Node{Id: id, Kind: KindBusinessRuleTask, RuleFlowGroup: ruleFlowGroup})
}

func (b *Builder) Gateway(kind NodeKind, id string) *Node {
	return b.Add(&Node{Id: id, Kind: kind})
}

func (b *Builder) SubProcess(id string) *Node {
	return b.Add(&Node{Id: id, Kind: KindSubProcess})
}

func (b *Builder) EventSubProcess(id string) *Node {
	return b.Add(&Node{Id: id, Kind: KindEventSubProcess})
}

func (b *Builder) CallActivity(id string, calledProcess string) *Node {
	return b.Add(&Node{Id: id, Kind: KindCallActivity, CalledProcess: calledProcess})
}

func (b *Builder) BoundaryEvent(id string, attachedTo string, event EventDefinition, cancelActivity bool) *Node {
	return b.Add(&Node{Id: id, Kind: KindBoundaryEvent, AttachedTo: attachedTo, Event: &event, CancelActivity: cancelActivity})
}

func (b *Builder) CatchEvent(id string, event EventDefinition) *Node {
	return b.Add(&Node{Id: id, Kind: KindIntermediateCatchEvent, Event: &event})
}

func (b *Builder) ThrowEvent(id string, event EventDefinition) *Node {
	return b.Add(&Node{Id: id, Kind: KindIntermediateThrowEvent, Event: &event})
}

// Connect adds a connection with a generated id.
func (b *Builder) Connect(source, target string) *Connection {
	b.state.flowCounter++
	return b.ConnectId(fmt.Sprintf("flow-%d", b.state.flowCounter), source, target)
}

func (b *Builder) ConnectId(id, source, target string) *Connection {
	c := &Connection{Id: id, Source: source, Target: target, order: len(b.state.connections)}
	b.state.connections = append(b.state.connections, c)
	return c
}

// Chain connects the given nodes one after another.
func (b *Builder) Chain(ids ...string) *Builder {
	for i := 1; i < len(ids); i++ {
		b.Connect(ids[i-1], ids[i])
	}
	return b
}

// Build validates the graph and returns the immutable definition.
func (b *Builder) Build(opts BuildOptions) (*ProcessDefinition, error) {
	def := &ProcessDefinition{
		Id:          b.state.def.Id,
		Name:        b.state.def.Name,
		SLA:         b.state.def.SLA,
		Variables:   append([]VariableDeclaration(nil), b.state.def.Variables...),
		Metadata:    b.state.def.Metadata,
		Options:     opts,
		nodes:       make(map[string]*Node, len(b.state.nodes)),
		connections: make(map[string]*Connection, len(b.state.connections)),
		children:    map[string][]string{},
		boundaries:  map[string][]string{},
	}
	for _, n := range b.state.nodes {
		if n.Id == "" {
			return nil, newValidationError(def.Id, "", "node without id")
		}
		if _, ok := def.nodes[n.Id]; ok {
			return nil, newValidationError(def.Id, n.Id, "duplicate node id")
		}
		copied := *n
		copied.Incoming = nil
		copied.Outgoing = nil
		def.nodes[n.Id] = &copied
		def.nodeOrder = append(def.nodeOrder, n.Id)
	}
	for _, c := range b.state.connections {
		if _, ok := def.connections[c.Id]; ok {
			return nil, newValidationError(def.Id, c.Id, "duplicate connection id")
		}
		source, target := def.nodes[c.Source], def.nodes[c.Target]
		if source == nil || target == nil {
			return nil, newValidationError(def.Id, c.Id, fmt.Sprintf("connection references unknown node %s -> %s", c.Source, c.Target))
		}
		if source.Parent != target.Parent {
			return nil, newValidationError(def.Id, c.Id, "connection crosses container boundary")
		}
		copied := *c
		def.connections[c.Id] = &copied
		source.Outgoing = append(source.Outgoing, c.Id)
		target.Incoming = append(target.Incoming, c.Id)
	}
	for _, id := range def.nodeOrder {
		n := def.nodes[id]
		if n.Parent != "" {
			parent := def.nodes[n.Parent]
			if parent == nil || !parent.Kind.IsContainer() {
				return nil, newValidationError(def.Id, n.Id, fmt.Sprintf("parent %s is not a sub-process", n.Parent))
			}
		}
		def.children[n.Parent] = append(def.children[n.Parent], n.Id)
		if n.Kind == KindBoundaryEvent {
			def.boundaries[n.AttachedTo] = append(def.boundaries[n.AttachedTo], n.Id)
		}
	}
	if err := validate(def, opts); err != nil {
		return nil, err
	}
	return def, nil
}
