// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package exporter defines the observer contract of the engine. Exporters are invoked synchronously,
// in registration order, while the owning process instance is locked; they must not call back into the engine.
package exporter

type EventExporter interface {
	NewProcessEvent(event *ProcessEvent)
	EndProcessEvent(event *ProcessInstanceEvent)
	NewProcessInstanceEvent(event *ProcessInstanceEvent)
	NewElementEvent(event *ProcessInstanceEvent, elementInfo *ElementInfo)
	NewVariableEvent(event *ProcessInstanceEvent, variableInfo *VariableInfo)
	NewSLAViolationEvent(event *ProcessInstanceEvent, slaInfo *SLAInfo)
}

type Intent string

const (
	ElementActivating Intent = "ELEMENT_ACTIVATING"
	ElementActivated  Intent = "ELEMENT_ACTIVATED"
	ElementCompleting Intent = "ELEMENT_COMPLETING"
	ElementCompleted  Intent = "ELEMENT_COMPLETED"
	ElementCancelled  Intent = "ELEMENT_CANCELLED"
	SequenceFlowTaken Intent = "SEQUENCE_FLOW_TAKEN"
	Created           Intent = "CREATED"
)

type ProcessEvent struct {
	ProcessId  string
	ProcessKey int64
	Version    int32
	Name       string
}

type ProcessInstanceEvent struct {
	ProcessId          string
	ProcessKey         int64
	Version            int32
	ProcessInstanceKey int64
	// State is the process instance state, set for EndProcessEvent.
	State string
}

type ElementInfo struct {
	BpmnElementType string
	ElementId       string
	ElementKey      int64
	Intent          string // ELEMENT_ACTIVATING || ELEMENT_ACTIVATED || ELEMENT_COMPLETING || ELEMENT_COMPLETED || ELEMENT_CANCELLED || SEQUENCE_FLOW_TAKEN
}

type VariableInfo struct {
	Name     string
	OldValue any
	NewValue any
}

type SLAInfo struct {
	// ElementId and ElementKey are empty for a process level SLA.
	ElementId  string
	ElementKey int64
	Deadline   string
}
