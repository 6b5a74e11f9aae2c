// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

const (
	Prefix                        = "bpmn-"
	AttributeProcessInstanceKey   = Prefix + "instance-key"
	AttributeProcessId            = Prefix + "process-id"
	AttributeProcessDefinitionKey = Prefix + "definition-key"
	AttributeElementId            = Prefix + "element-id"
	AttributeElementKey           = Prefix + "element-key"
	AttributeElementType          = Prefix + "element-type"
	AttributeEventKey             = Prefix + "event-key"
	AttributeWorkItemKey          = Prefix + "work-item-key"
	AttributeTimerKey             = Prefix + "timer-key"
	AttributeMatched              = Prefix + "matched"

	SpanStatusInstance = Prefix + "instance-status"
)
