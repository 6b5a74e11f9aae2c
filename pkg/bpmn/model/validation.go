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

// ValidationError is raised at build time when the process graph is malformed.
type ValidationError struct {
	ProcessId string
	ElementId string
	Msg       string
}

func (e *ValidationError) Error() string {
	if e.ElementId == "" {
		return fmt.Sprintf("process '%s': %s", e.ProcessId, e.Msg)
	}
	return fmt.Sprintf("process '%s', element '%s': %s", e.ProcessId, e.ElementId, e.Msg)
}

func newValidationError(processId, elementId, msg string) error {
	return &ValidationError{ProcessId: processId, ElementId: elementId, Msg: msg}
}

func validate(def *ProcessDefinition, opts BuildOptions) error {
	if len(def.StartNodes("")) == 0 && len(def.EventStartNodes("")) == 0 {
		return newValidationError(def.Id, "", "process has no start event")
	}
	for _, id := range def.nodeOrder {
		if err := validateNode(def, def.nodes[id], opts); err != nil {
			return err
		}
	}
	return nil
}

func validateNode(def *ProcessDefinition, n *Node, opts BuildOptions) error {
	fail := func(format string, a ...any) error {
		return newValidationError(def.Id, n.Id, fmt.Sprintf(format, a...))
	}
	if n.Loop != nil {
		if !n.Kind.IsActivity() {
			return fail("multi-instance loop on non activity node %s", n.Kind)
		}
		if n.Loop.InputCollection == "" {
			return fail("multi-instance without input collection")
		}
	}
	if n.Event != nil && n.Event.Type == EventTimer && n.Event.TimerExpression == "" {
		return fail("timer event without timer expression")
	}
	switch n.Kind {
	case KindStartEvent:
		if len(n.Incoming) > 0 {
			return fail("start event cannot have incoming connections")
		}
		if len(n.Outgoing) == 0 {
			return fail("start event has no outgoing connection")
		}
		if len(n.Outgoing) > 1 && !opts.MultiConnection {
			return fail("start event has more than one outgoing connection")
		}
	case KindEndEvent:
		if len(n.Outgoing) > 0 {
			return fail("end event cannot have outgoing connections")
		}
	case KindTask, KindUserTask, KindServiceTask, KindSendTask, KindReceiveTask, KindScriptTask, KindBusinessRuleTask:
		if !opts.MultiConnection && (len(n.Incoming) > 1 || len(n.Outgoing) > 1) {
			return fail("task has more than one incoming or outgoing connection")
		}
		if n.Kind == KindScriptTask && n.Script == "" {
			return fail("script task without script")
		}
	case KindSubProcess:
		if len(n.Incoming) > 1 || len(n.Outgoing) > 1 {
			return fail("sub-process has more than one incoming or outgoing connection")
		}
		if starts := def.StartNodes(n.Id); len(starts) != 1 {
			return newValidationError(def.Id, n.Id, fmt.Sprintf("embedded sub-process '%s' must have exactly one none start event, found %d", n.Id, len(starts)))
		}
	case KindEventSubProcess:
		if len(n.Incoming) > 0 || len(n.Outgoing) > 0 {
			return fail("event sub-process cannot have incoming or outgoing connections")
		}
		if starts := def.EventStartNodes(n.Id); len(starts) != 1 || len(def.StartNodes(n.Id)) != 0 {
			return newValidationError(def.Id, n.Id, fmt.Sprintf("event sub-process '%s' must have exactly one event start", n.Id))
		}
	case KindCallActivity:
		if n.CalledProcess == "" {
			return fail("call activity without called process")
		}
		if len(n.Incoming) > 1 || len(n.Outgoing) > 1 {
			return fail("call activity has more than one incoming or outgoing connection")
		}
	case KindExclusiveGateway, KindInclusiveGateway:
		if n.Default != "" {
			if _, ok := def.connections[n.Default]; !ok || def.connections[n.Default].Source != n.Id {
				return fail("default connection %s is not an outgoing connection", n.Default)
			}
		}
		if len(n.Outgoing) > 1 {
			for _, cid := range n.Outgoing {
				c := def.connections[cid]
				if cid != n.Default && c.Condition == "" {
					return fail("diverging gateway has unconstrained connection %s", cid)
				}
			}
		}
	case KindEventBasedGateway:
		if len(n.Outgoing) == 0 {
			return fail("event based gateway without outgoing connections")
		}
		for _, cid := range n.Outgoing {
			target := def.nodes[def.connections[cid].Target]
			if target.Kind != KindIntermediateCatchEvent {
				return fail("event based gateway target %s is not a catch event", target.Id)
			}
		}
	case KindBoundaryEvent:
		attached := def.nodes[n.AttachedTo]
		if attached == nil || !attached.Kind.IsActivity() {
			return fail("boundary event attached to unknown activity '%s'", n.AttachedTo)
		}
		if attached.Parent != n.Parent {
			return fail("boundary event and activity '%s' are in different containers", n.AttachedTo)
		}
		if len(n.Incoming) > 0 {
			return fail("boundary event cannot have incoming connections")
		}
		if n.Event == nil || n.Event.Type == EventNone || n.Event.Type == EventTerminate {
			return fail("boundary event without trigger")
		}
	case KindIntermediateCatchEvent:
		if n.Event == nil {
			return fail("catch event without trigger")
		}
		switch n.Event.Type {
		case EventSignal, EventMessage, EventTimer, EventConditional:
		default:
			return fail("catch event type '%s' not supported", n.Event.Type)
		}
	case KindIntermediateThrowEvent:
		if n.Event != nil && n.Event.Type != EventSignal && n.Event.Type != EventMessage && n.Event.Type != EventNone {
			return fail("throw event type '%s' not supported", n.Event.Type)
		}
	case KindParallelGateway:
	default:
		return fail("unsupported node kind %d", n.Kind)
	}
	return nil
}
