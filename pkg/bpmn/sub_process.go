// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"

	"github.com/pbinitiative/zenengine/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
)

// executeSubProcess opens a variable scope for the sub-process and starts its inner flow.
func (exec *execution) executeSubProcess(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error {
	if ni.Variables == nil {
		ni.Variables = runtime.NewVariableScope(exec.scopeVariables(pi, ni.ParentKey), nil)
	}
	if len(node.InputMappings) > 0 {
		if err := ni.Variables.EvaluateAndSetMappingsToLocalVariables(node.InputMappings, evaluateMapping); err != nil {
			return &ExpressionEvaluationError{Msg: fmt.Sprintf("failed to evaluate input mappings of sub-process %s", node.Id), Err: err}
		}
	}
	if err := exec.subscribeEventSubProcesses(pi, node.Id, ni.Key); err != nil {
		return err
	}
	starts := pi.Definition.StartNodes(node.Id)
	if len(starts) == 0 {
		return newEngineErrorf("sub-process '%s' has no start event", node.Id)
	}
	for _, start := range starts {
		exec.enqueue(activityCommand{instance: pi, node: start, scopeKey: ni.Key})
	}
	return nil
}

// completeFinishedScopes completes the first container instance with nothing left running inside.
func (exec *execution) completeFinishedScopes(pi *runtime.ProcessInstance) bool {
	for _, ni := range pi.LiveNodeInstances() {
		if !ni.Kind.IsContainer() || ni.Loop != nil || ni.State != runtime.NodeInstanceActive {
			continue
		}
		if len(pi.LiveChildren(ni.Key)) > 0 {
			continue
		}
		exec.completeScope(pi, ni)
		return true
	}
	return false
}

// completeScope finishes a sub-process or event sub-process instance. Output mappings of a
// sub-process are written to the enclosing scope.
func (exec *execution) completeScope(pi *runtime.ProcessInstance, ni *runtime.NodeInstance) {
	if !ni.State.IsLive() {
		return
	}
	node := pi.Definition.Node(ni.NodeId)
	for _, child := range pi.LiveChildren(ni.Key) {
		exec.cancel(pi, child)
	}
	if node.Kind == model.KindEventSubProcess {
		exec.complete(pi, ni, nil)
		return
	}
	if len(node.OutputMappings) > 0 {
		if err := exec.applyOutputs(pi, ni, node, nil); err != nil {
			exec.handleError(pi, ni, &ExpressionEvaluationError{Msg: fmt.Sprintf("failed to evaluate output mappings of sub-process %s", node.Id), Err: err})
			return
		}
	}
	exec.completeAndContinue(pi, ni, node)
}

// startEventSubProcess runs the event sub-process of start inside the scope scopeKey. An interrupting
// start withdraws everything else running in the scope first.
func (exec *execution) startEventSubProcess(pi *runtime.ProcessInstance, start *model.Node, scopeKey int64, payload any) {
	def := pi.Definition
	esp := def.Node(start.Parent)
	if esp == nil {
		exec.fail(pi, nil, newEngineErrorf("start event '%s' is not inside an event sub-process", start.Id))
		return
	}
	if start.Interrupting || eventType(start) == model.EventError {
		for _, child := range pi.LiveChildren(scopeKey) {
			exec.cancel(pi, child)
		}
		exec.removeSubscriptions(func(sub runtime.EventSubscription) bool {
			return sub.ProcessInstanceKey == pi.Key && sub.ScopeKey == scopeKey && sub.NodeInstanceKey == scopeKey
		})
	}
	ni := exec.createNodeInstance(pi, esp, scopeKey, start.Id)
	ni.Variables = runtime.NewVariableScope(exec.scopeVariables(pi, scopeKey), nil)
	ni.State = runtime.NodeInstanceActive
	exec.engine.exportElementEvent(pi, ni, exporter.ElementActivating)
	exec.engine.exportElementEvent(pi, ni, exporter.ElementActivated)
	exec.passThrough(pi, start, ni.Key, payload)
}
