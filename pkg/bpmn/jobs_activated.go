// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
)

type jobOutcome int

const (
	jobPending jobOutcome = iota
	jobCompleted
	jobFailed
	jobThrown
)

// ActivatedJob is a struct to provide information for registered task handler
type activatedJob struct {
	mu     *sync.Mutex
	engine *Engine

	workItem                 runtime.WorkItem
	bpmnProcessId            string
	processDefinitionVersion int32
	processDefinitionKey     int64
	variables                map[string]interface{}
	outputVariables          map[string]interface{}

	// inHandler is set while the handler runs synchronously; outcomes reported later go through the
	// engine API.
	inHandler    bool
	outcome      jobOutcome
	reason       string
	errorCode    string
	errorMessage string
}

// ActivatedJob represents an abstraction for the activated job
// don't forget to call Fail, ThrowError or Complete when your task worker job is complete or not.
type ActivatedJob interface {
	// Key the key, a unique identifier for the job
	Key() int64
	// ProcessInstanceKey the job's process instance key
	ProcessInstanceKey() int64
	// NodeInstanceKey the key of the task node instance
	NodeInstanceKey() int64
	// BpmnProcessId Retrieve id of the job process definition
	BpmnProcessId() string
	// ProcessDefinitionVersion Retrieve version of the job process definition
	ProcessDefinitionVersion() int32
	// ProcessDefinitionKey Retrieve key of the job process definition
	ProcessDefinitionKey() int64
	// ElementId Get element id of the job
	ElementId() string
	// TaskType of the task node
	TaskType() string
	// Parameter returns an evaluated task parameter
	Parameter(key string) interface{}
	// Variable from the parameters or the variables visible to the task
	Variable(key string) interface{}
	// SetOutputVariable sets a result of the job, written according to the output mappings on Complete
	SetOutputVariable(key string, value interface{})
	GetLocalVariables() map[string]interface{}
	GetOutputVariables() map[string]interface{}
	// CreatedAt when the job was created
	CreatedAt() time.Time
	// Fail marks the job as failed, the process instance goes to ERROR.
	// Fail, ThrowError and Complete mutual exclude each other
	Fail(reason string)
	// ThrowError raises a business error with the given code at the task
	ThrowError(code string, message string)
	// Complete does set the State the worker successfully completing the job
	Complete()
}

func newActivatedJob(engine *Engine, pi *runtime.ProcessInstance, workItem runtime.WorkItem, variables map[string]any) *activatedJob {
	return &activatedJob{
		mu:                       &sync.Mutex{},
		engine:                   engine,
		workItem:                 workItem,
		bpmnProcessId:            pi.ProcessId,
		processDefinitionVersion: pi.ProcessVersion,
		processDefinitionKey:     pi.ProcessDefinitionKey,
		variables:                variables,
		outputVariables:          map[string]interface{}{},
	}
}

// CreatedAt implements ActivatedJob
func (aj *activatedJob) CreatedAt() time.Time {
	return aj.workItem.CreatedAt
}

// ElementId implements ActivatedJob
func (aj *activatedJob) ElementId() string {
	return aj.workItem.NodeId
}

// Key implements ActivatedJob
func (aj *activatedJob) Key() int64 {
	return aj.workItem.Key
}

// NodeInstanceKey implements ActivatedJob
func (aj *activatedJob) NodeInstanceKey() int64 {
	return aj.workItem.NodeInstanceKey
}

// BpmnProcessId implements ActivatedJob
func (aj *activatedJob) BpmnProcessId() string {
	return aj.bpmnProcessId
}

// ProcessDefinitionKey implements ActivatedJob
func (aj *activatedJob) ProcessDefinitionKey() int64 {
	return aj.processDefinitionKey
}

// ProcessDefinitionVersion implements ActivatedJob
func (aj *activatedJob) ProcessDefinitionVersion() int32 {
	return aj.processDefinitionVersion
}

// ProcessInstanceKey implements ActivatedJob
func (aj *activatedJob) ProcessInstanceKey() int64 {
	return aj.workItem.ProcessInstanceKey
}

// TaskType implements ActivatedJob
func (aj *activatedJob) TaskType() string {
	return aj.workItem.TaskType
}

// Parameter implements ActivatedJob
func (aj *activatedJob) Parameter(key string) interface{} {
	return aj.workItem.Parameters[key]
}

// Variable implements ActivatedJob
func (aj *activatedJob) Variable(key string) interface{} {
	if v, ok := aj.workItem.Parameters[key]; ok {
		return v
	}
	return aj.variables[key]
}

// SetOutputVariable implements ActivatedJob
func (aj *activatedJob) SetOutputVariable(key string, value interface{}) {
	aj.mu.Lock()
	defer aj.mu.Unlock()
	aj.outputVariables[key] = value
}

func (aj *activatedJob) GetLocalVariables() map[string]interface{} {
	res := maps.Clone(aj.variables)
	if res == nil {
		res = map[string]interface{}{}
	}
	maps.Copy(res, aj.workItem.Parameters)
	return res
}

func (aj *activatedJob) GetOutputVariables() map[string]interface{} {
	aj.mu.Lock()
	defer aj.mu.Unlock()
	return maps.Clone(aj.outputVariables)
}

// settle records the outcome when the handler is still running, reports false otherwise.
func (aj *activatedJob) settle(outcome jobOutcome, apply func()) bool {
	aj.mu.Lock()
	defer aj.mu.Unlock()
	if aj.outcome != jobPending {
		return true
	}
	aj.outcome = outcome
	apply()
	return aj.inHandler
}

// Complete implements ActivatedJob
func (aj *activatedJob) Complete() {
	if aj.settle(jobCompleted, func() {}) {
		return
	}
	if err := aj.engine.CompleteWorkItem(context.Background(), aj.Key(), aj.GetOutputVariables()); err != nil {
		aj.engine.logger.Error(fmt.Sprintf("failed to complete work item %d: %s", aj.Key(), err))
	}
}

// Fail implements ActivatedJob
func (aj *activatedJob) Fail(reason string) {
	if aj.settle(jobFailed, func() { aj.reason = reason }) {
		return
	}
	if err := aj.engine.FailWorkItem(context.Background(), aj.Key(), reason); err != nil {
		aj.engine.logger.Error(fmt.Sprintf("failed to fail work item %d: %s", aj.Key(), err))
	}
}

// ThrowError implements ActivatedJob
func (aj *activatedJob) ThrowError(code string, message string) {
	if aj.settle(jobThrown, func() { aj.errorCode, aj.errorMessage = code, message }) {
		return
	}
	if err := aj.engine.ThrowWorkItemError(context.Background(), aj.Key(), code, message); err != nil {
		aj.engine.logger.Error(fmt.Sprintf("failed to throw error for work item %d: %s", aj.Key(), err))
	}
}
