// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package rest

import (
	"time"

	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenengine/pkg/ptr"
)

type ApiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type ProcessDefinition struct {
	Key           int64     `json:"key"`
	BpmnProcessId string    `json:"bpmnProcessId"`
	Version       int32     `json:"version"`
	Name          string    `json:"name,omitempty"`
	RegisteredAt  time.Time `json:"registeredAt"`
}

type StartProcessRequest struct {
	ProcessId string          `json:"processId"`
	Variables *map[string]any `json:"variables,omitempty"`
}

type ProcessInstance struct {
	Key                      int64          `json:"key"`
	BpmnProcessId            string         `json:"bpmnProcessId"`
	ProcessDefinitionKey     int64          `json:"processDefinitionKey"`
	Version                  int32          `json:"version"`
	State                    string         `json:"state"`
	Variables                map[string]any `json:"variables"`
	ActiveNodes              []string       `json:"activeNodes"`
	CompletedNodes           []string       `json:"completedNodes"`
	SlaCompliance            string         `json:"slaCompliance"`
	Error                    *string        `json:"error,omitempty"`
	ParentProcessInstanceKey *int64         `json:"parentProcessInstanceKey,omitempty"`
	CreatedAt                time.Time      `json:"createdAt"`
	EndedAt                  *time.Time     `json:"endedAt,omitempty"`
}

type EventRequest struct {
	Name               string `json:"name"`
	Payload            any    `json:"payload,omitempty"`
	ProcessInstanceKey *int64 `json:"processInstanceKey,omitempty"`
}

type SignalResponse struct {
	Triggered int `json:"triggered"`
}

type MessageResponse struct {
	Delivered bool `json:"delivered"`
}

type WorkItem struct {
	Key                int64          `json:"key"`
	ProcessInstanceKey int64          `json:"processInstanceKey"`
	ElementId          string         `json:"elementId"`
	Name               string         `json:"name,omitempty"`
	TaskType           string         `json:"taskType"`
	Parameters         map[string]any `json:"parameters,omitempty"`
	State              string         `json:"state"`
	CreatedAt          time.Time      `json:"createdAt"`
}

type CompleteWorkItemRequest struct {
	Variables *map[string]any `json:"variables,omitempty"`
}

func toProcessDefinition(def runtime.ProcessDefinition) ProcessDefinition {
	res := ProcessDefinition{
		Key:           def.Key,
		BpmnProcessId: def.BpmnProcessId,
		Version:       def.Version,
		RegisteredAt:  def.RegisteredAt,
	}
	if def.Definition != nil {
		res.Name = def.Definition.Name
	}
	return res
}

func toProcessInstance(pi runtime.ProcessInstance) ProcessInstance {
	res := ProcessInstance{
		Key:                  pi.Key,
		BpmnProcessId:        pi.ProcessId,
		ProcessDefinitionKey: pi.ProcessDefinitionKey,
		Version:              pi.ProcessVersion,
		State:                pi.State.String(),
		Variables:            map[string]any{},
		ActiveNodes:          []string{},
		CompletedNodes:       []string{},
		SlaCompliance:        string(pi.SLA.Compliance),
		CreatedAt:            pi.CreatedAt,
	}
	if pi.Variables != nil {
		res.Variables = pi.Variables.Variables()
	}
	if ids := pi.ActiveNodeIds(); ids != nil {
		res.ActiveNodes = ids
	}
	if pi.CompletedNodes != nil {
		res.CompletedNodes = pi.CompletedNodes
	}
	if pi.Error != nil {
		res.Error = ptr.To(pi.Error.Message)
	}
	if pi.ParentProcessInstanceKey != 0 {
		res.ParentProcessInstanceKey = ptr.To(pi.ParentProcessInstanceKey)
	}
	if !pi.EndedAt.IsZero() {
		res.EndedAt = ptr.To(pi.EndedAt)
	}
	return res
}

func toWorkItem(workItem runtime.WorkItem) WorkItem {
	return WorkItem{
		Key:                workItem.Key,
		ProcessInstanceKey: workItem.ProcessInstanceKey,
		ElementId:          workItem.NodeId,
		Name:               workItem.Name,
		TaskType:           workItem.TaskType,
		Parameters:         workItem.Parameters,
		State:              string(workItem.State),
		CreatedAt:          workItem.CreatedAt,
	}
}
