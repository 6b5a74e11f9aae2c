// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"time"

	"github.com/pbinitiative/zenengine/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
)

// AddEventExporter registers an EventExporter instance
func (engine *Engine) AddEventExporter(exporter exporter.EventExporter) {
	engine.exporters = append(engine.exporters, exporter)
}

func (engine *Engine) exportNewProcessEvent(process runtime.ProcessDefinition) {
	event := exporter.ProcessEvent{
		ProcessId:  process.BpmnProcessId,
		ProcessKey: process.Key,
		Version:    process.Version,
		Name:       process.Definition.Name,
	}
	for _, exp := range engine.exporters {
		exp.NewProcessEvent(&event)
	}
}

func processInstanceEvent(pi *runtime.ProcessInstance) exporter.ProcessInstanceEvent {
	return exporter.ProcessInstanceEvent{
		ProcessId:          pi.ProcessId,
		ProcessKey:         pi.ProcessDefinitionKey,
		Version:            pi.ProcessVersion,
		ProcessInstanceKey: pi.Key,
		State:              pi.State.String(),
	}
}

func (engine *Engine) exportEndProcessEvent(pi *runtime.ProcessInstance) {
	event := processInstanceEvent(pi)
	for _, exp := range engine.exporters {
		exp.EndProcessEvent(&event)
	}
}

func (engine *Engine) exportProcessInstanceEvent(pi *runtime.ProcessInstance) {
	event := processInstanceEvent(pi)
	for _, exp := range engine.exporters {
		exp.NewProcessInstanceEvent(&event)
	}
}

func (engine *Engine) exportElementEvent(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, intent exporter.Intent) {
	event := processInstanceEvent(pi)
	info := exporter.ElementInfo{
		BpmnElementType: ni.Kind.String(),
		ElementId:       ni.NodeId,
		ElementKey:      ni.Key,
		Intent:          string(intent),
	}
	for _, exp := range engine.exporters {
		exp.NewElementEvent(&event, &info)
	}
}

func (engine *Engine) exportSequenceFlowEvent(pi *runtime.ProcessInstance, flow *model.Connection) {
	event := processInstanceEvent(pi)
	info := exporter.ElementInfo{
		BpmnElementType: "SEQUENCE_FLOW",
		ElementId:       flow.Id,
		Intent:          string(exporter.SequenceFlowTaken),
	}
	for _, exp := range engine.exporters {
		exp.NewElementEvent(&event, &info)
	}
}

func (engine *Engine) exportVariableEvent(pi *runtime.ProcessInstance, name string, oldValue any, newValue any) {
	event := processInstanceEvent(pi)
	info := exporter.VariableInfo{
		Name:     name,
		OldValue: oldValue,
		NewValue: newValue,
	}
	for _, exp := range engine.exporters {
		exp.NewVariableEvent(&event, &info)
	}
}

// exportSLAViolationEvent reports a missed due date; ni is nil for the process level SLA.
func (engine *Engine) exportSLAViolationEvent(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, deadline time.Time) {
	event := processInstanceEvent(pi)
	info := exporter.SLAInfo{
		Deadline: deadline.Format(time.RFC3339),
	}
	if ni != nil {
		info.ElementId = ni.NodeId
		info.ElementKey = ni.Key
	}
	for _, exp := range engine.exporters {
		exp.NewSLAViolationEvent(&event, &info)
	}
}
