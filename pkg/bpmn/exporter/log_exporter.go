// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package exporter

import (
	"github.com/hashicorp/go-hclog"
)

// LogExporter writes every engine event to an hclog logger at debug level; SLA violations are logged as warnings.
type LogExporter struct {
	logger hclog.Logger
}

var _ EventExporter = &LogExporter{}

func NewLogExporter(logger hclog.Logger) *LogExporter {
	if logger == nil {
		logger = hclog.Default().Named("exporter")
	}
	return &LogExporter{logger: logger}
}

func (e *LogExporter) NewProcessEvent(event *ProcessEvent) {
	e.logger.Info("process registered", "processId", event.ProcessId, "processKey", event.ProcessKey, "version", event.Version)
}

func (e *LogExporter) EndProcessEvent(event *ProcessInstanceEvent) {
	e.logger.Info("process instance ended", "processId", event.ProcessId, "processInstanceKey", event.ProcessInstanceKey, "state", event.State)
}

func (e *LogExporter) NewProcessInstanceEvent(event *ProcessInstanceEvent) {
	e.logger.Debug("process instance created", "processId", event.ProcessId, "processInstanceKey", event.ProcessInstanceKey)
}

func (e *LogExporter) NewElementEvent(event *ProcessInstanceEvent, elementInfo *ElementInfo) {
	e.logger.Debug(elementInfo.Intent, "processInstanceKey", event.ProcessInstanceKey, "elementId", elementInfo.ElementId,
		"elementType", elementInfo.BpmnElementType, "elementKey", elementInfo.ElementKey)
}

func (e *LogExporter) NewVariableEvent(event *ProcessInstanceEvent, variableInfo *VariableInfo) {
	e.logger.Trace("variable changed", "processInstanceKey", event.ProcessInstanceKey, "name", variableInfo.Name)
}

func (e *LogExporter) NewSLAViolationEvent(event *ProcessInstanceEvent, slaInfo *SLAInfo) {
	e.logger.Warn("SLA violated", "processInstanceKey", event.ProcessInstanceKey, "elementId", slaInfo.ElementId, "deadline", slaInfo.Deadline)
}
