// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
)

// executeTask hands a work item to the matching task handler. Without a handler, or when the handler
// does not finish the job right away, the task waits for CompleteWorkItem.
func (exec *execution) executeTask(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error {
	if err := exec.mapTaskInputs(pi, ni, node); err != nil {
		return err
	}
	parameters, err := exec.evaluateParameters(pi, ni, node)
	if err != nil {
		return err
	}
	workItem := &runtime.WorkItem{
		Key:                exec.engine.generateKey(),
		ProcessInstanceKey: pi.Key,
		NodeInstanceKey:    ni.Key,
		NodeId:             node.Id,
		Name:               node.Name,
		TaskType:           taskTypeOf(node),
		Parameters:         parameters,
		State:              runtime.WorkItemActive,
		CreatedAt:          time.Now(),
	}
	ni.WorkItemKey = workItem.Key
	exec.engine.addWorkItem(workItem)
	exec.engine.count(exec.ctx, exec.engine.metrics.WorkItemsCreated, pi.ProcessId)

	handler := exec.engine.findTaskHandler(node)
	if handler == nil {
		exec.logger.Debug(fmt.Sprintf("No task handler for %s, work item %d waits for completion", node.Id, workItem.Key))
		return nil
	}
	return exec.invokeHandler(pi, ni, node, *workItem, handler)
}

// mapTaskInputs evaluates the input mappings of a task into a scope of its own.
func (exec *execution) mapTaskInputs(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error {
	if len(node.InputMappings) == 0 {
		return nil
	}
	if ni.Variables == nil {
		ni.Variables = runtime.NewVariableScope(exec.scopeVariables(pi, ni.ParentKey), nil)
	}
	if err := ni.Variables.EvaluateAndSetMappingsToLocalVariables(node.InputMappings, evaluateMapping); err != nil {
		return &ExpressionEvaluationError{Msg: fmt.Sprintf("failed to evaluate input mappings of %s", node.Id), Err: err}
	}
	return nil
}

// evaluateParameters resolves the static task parameters, "=" prefixed values are FEEL expressions.
// Mapped inputs are passed as parameters as well.
func (exec *execution) evaluateParameters(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) (map[string]any, error) {
	parameters := make(map[string]any, len(node.Parameters))
	variables := exec.nodeVariables(pi, ni).Variables()
	for name, value := range node.Parameters {
		expression, ok := value.(string)
		if !ok || !strings.HasPrefix(strings.TrimSpace(expression), "=") {
			parameters[name] = value
			continue
		}
		evaluated, err := evaluateExpression(expression, variables)
		if err != nil {
			return nil, &ExpressionEvaluationError{Msg: fmt.Sprintf("failed to evaluate parameter %s of %s", name, node.Id), Err: err}
		}
		parameters[name] = evaluated
	}
	if ni.Variables != nil && len(node.InputMappings) > 0 {
		for _, mapping := range node.InputMappings {
			parameters[mapping.Target] = ni.Variables.GetLocalVariable(mapping.Target)
		}
	}
	return parameters, nil
}

// invokeHandler runs a task handler synchronously. Panics of the handler are execution faults.
func (exec *execution) invokeHandler(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node, workItem runtime.WorkItem, handler *taskHandler) (err error) {
	job := newActivatedJob(exec.engine, pi, workItem, exec.nodeVariables(pi, ni).Variables())
	job.inHandler = true
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &ExecutionFaultError{
					ProcessInstanceKey: pi.Key,
					NodeId:             node.Id,
					Msg:                fmt.Sprintf("task handler panicked: %v", r),
				}
			}
		}()
		handler.handler(job)
	}()

	job.mu.Lock()
	job.inHandler = false
	outcome := job.outcome
	job.mu.Unlock()

	if err != nil {
		exec.closeWorkItem(ni, runtime.WorkItemFailed)
		exec.engine.count(exec.ctx, exec.engine.metrics.WorkItemsFailed, pi.ProcessId)
		return err
	}
	switch outcome {
	case jobCompleted:
		return exec.completeWorkItem(pi, ni, node, job.GetOutputVariables())
	case jobFailed:
		exec.closeWorkItem(ni, runtime.WorkItemFailed)
		exec.engine.count(exec.ctx, exec.engine.metrics.WorkItemsFailed, pi.ProcessId)
		return &ExecutionFaultError{ProcessInstanceKey: pi.Key, NodeId: node.Id, Msg: job.reason}
	case jobThrown:
		exec.closeWorkItem(ni, runtime.WorkItemFailed)
		return &WorkItemExecutionError{Code: job.errorCode, Msg: job.errorMessage}
	}
	return nil
}

// closeWorkItem forgets the work item of ni.
func (exec *execution) closeWorkItem(ni *runtime.NodeInstance, state runtime.WorkItemState) *runtime.WorkItem {
	workItem := exec.engine.removeWorkItem(ni.WorkItemKey)
	ni.WorkItemKey = 0
	if workItem != nil {
		workItem.State = state
	}
	return workItem
}

// completeWorkItem writes the results of the work item and leaves the task.
func (exec *execution) completeWorkItem(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node, results map[string]any) error {
	if workItem := exec.closeWorkItem(ni, runtime.WorkItemCompleted); workItem != nil {
		workItem.Results = results
	}
	exec.engine.count(exec.ctx, exec.engine.metrics.WorkItemsCompleted, pi.ProcessId)
	if err := exec.applyOutputs(pi, ni, node, results); err != nil {
		return &ExpressionEvaluationError{Msg: fmt.Sprintf("failed to evaluate output mappings of %s", node.Id), Err: err}
	}
	exec.completeAndContinue(pi, ni, node)
	return nil
}

// applyOutputs writes results of ni according to the output mappings of node. A multi-instance
// branch keeps them in its own scope where the wrapper collects the output element.
func (exec *execution) applyOutputs(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node, results map[string]any) error {
	var local map[string]any
	if ni.Variables != nil {
		local = ni.Variables.Variables()
	}
	if !ni.Inner {
		_, err := runtime.PropagateOutputVariables(exec.scopeVariables(pi, ni.ParentKey), local, node.OutputMappings, results, evaluateMapping)
		return err
	}
	if len(node.OutputMappings) == 0 {
		return ni.Variables.SetLocalVariables(results)
	}
	source := map[string]any{}
	maps.Copy(source, local)
	maps.Copy(source, results)
	for _, mapping := range node.OutputMappings {
		value, err := evaluateMapping(mapping.Source, source)
		if err != nil {
			return err
		}
		if err := ni.Variables.SetLocalVariable(mapping.Target, value); err != nil {
			return err
		}
	}
	return nil
}

// abortWorkItemOf withdraws the work item of a node instance being cancelled.
func (exec *execution) abortWorkItemOf(pi *runtime.ProcessInstance, ni *runtime.NodeInstance) {
	workItem := exec.closeWorkItem(ni, runtime.WorkItemAborted)
	if workItem == nil {
		return
	}
	handler := exec.engine.findTaskHandler(pi.Definition.Node(ni.NodeId))
	if handler == nil || handler.onAbort == nil {
		return
	}
	job := newActivatedJob(exec.engine, pi, *workItem, nil)
	job.outcome = jobCompleted
	defer func() {
		if r := recover(); r != nil {
			exec.logger.Error(fmt.Sprintf("abort callback of work item %d panicked: %v", workItem.Key, r))
		}
	}()
	handler.onAbort(job)
}

func (engine *Engine) addWorkItem(workItem *runtime.WorkItem) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	engine.workItems[workItem.Key] = workItem
}

func (engine *Engine) removeWorkItem(key int64) *runtime.WorkItem {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	workItem := engine.workItems[key]
	delete(engine.workItems, key)
	return workItem
}

func (engine *Engine) workItem(key int64) (runtime.WorkItem, bool) {
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	workItem, ok := engine.workItems[key]
	if !ok {
		return runtime.WorkItem{}, false
	}
	return *workItem, true
}
