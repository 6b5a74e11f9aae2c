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
	"slices"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
)

const (
	loopCounterVariable            = "loopCounter"
	nrOfInstancesVariable          = "nrOfInstances"
	nrOfActiveInstancesVariable    = "nrOfActiveInstances"
	nrOfCompletedInstancesVariable = "nrOfCompletedInstances"
)

// activateMultiInstance turns ni into the wrapper of a multi-instance activity and starts one branch
// per item of the input collection, all at once or one after the other.
func (exec *execution) activateMultiInstance(pi *runtime.ProcessInstance, wrapper *runtime.NodeInstance, node *model.Node) error {
	loop := node.Loop
	items, err := evaluateCollection(loop.InputCollection, exec.expressionContext(pi, wrapper.ParentKey))
	if err != nil {
		return &ExpressionEvaluationError{Msg: fmt.Sprintf("failed to evaluate input collection of %s", node.Id), Err: err}
	}
	wrapper.Loop = &runtime.LoopState{
		Items:   items,
		Active:  map[int]int64{},
		Outputs: map[int]any{},
	}
	if len(items) == 0 {
		exec.finishMultiInstance(pi, wrapper, node)
		return nil
	}
	if loop.Sequential {
		exec.activate(pi, exec.createBranch(pi, wrapper, node, 0))
		return nil
	}
	// all branches exist before the first one runs, so a branch completing right away cannot
	// finish the wrapper early
	branches := make([]*runtime.NodeInstance, len(items))
	for i := range items {
		branches[i] = exec.createBranch(pi, wrapper, node, i)
	}
	for _, branch := range branches {
		if pi.State != runtime.ProcessStateActive || !wrapper.State.IsLive() {
			break
		}
		if branch.State == runtime.NodeInstanceCreated {
			exec.activate(pi, branch)
		}
	}
	return nil
}

func (exec *execution) createBranch(pi *runtime.ProcessInstance, wrapper *runtime.NodeInstance, node *model.Node, index int) *runtime.NodeInstance {
	loop := node.Loop
	ni := exec.createNodeInstance(pi, node, wrapper.Key, "")
	ni.Inner = true
	ni.LoopIndex = index
	local := map[string]any{loopCounterVariable: index + 1}
	if loop.InputElement != "" {
		local[loop.InputElement] = wrapper.Loop.Items[index]
	}
	if loop.OutputElement != "" {
		local[loop.OutputElement] = nil
	}
	ni.Variables = runtime.NewVariableScope(exec.scopeVariables(pi, wrapper.ParentKey), local)
	wrapper.Loop.Active[index] = ni.Key
	wrapper.Loop.Next = index + 1
	return ni
}

// multiInstanceBranchCompleted collects the output of a finished branch and decides whether the
// wrapper is done.
func (exec *execution) multiInstanceBranchCompleted(pi *runtime.ProcessInstance, branch *runtime.NodeInstance) {
	wrapper := pi.NodeInstance(branch.ParentKey)
	if wrapper == nil || !wrapper.State.IsLive() || wrapper.Loop == nil || wrapper.Loop.Cancelled {
		return
	}
	node := pi.Definition.Node(wrapper.NodeId)
	loop := wrapper.Loop
	delete(loop.Active, branch.LoopIndex)
	loop.CompletionOrder = append(loop.CompletionOrder, branch.LoopIndex)
	if node.Loop.OutputElement != "" {
		loop.Outputs[branch.LoopIndex] = branch.Variables.GetLocalVariable(node.Loop.OutputElement)
	}

	if node.Loop.CompletionCondition != "" {
		variables := withFacts(exec.engine.ruleSession.Facts(), branch.Variables.Variables())
		variables[nrOfInstancesVariable] = len(loop.Items)
		variables[nrOfActiveInstancesVariable] = len(loop.Active)
		variables[nrOfCompletedInstancesVariable] = len(loop.CompletionOrder)
		met, err := evaluateCondition(node.Loop.CompletionCondition, variables)
		if err != nil {
			exec.handleError(pi, wrapper, &ExpressionEvaluationError{Msg: fmt.Sprintf("failed to evaluate completion condition of %s", node.Id), Err: err})
			return
		}
		if met {
			loop.Cancelled = true
			for _, index := range slices.Sorted(maps.Keys(loop.Active)) {
				if ni := pi.NodeInstance(loop.Active[index]); ni != nil {
					exec.cancel(pi, ni)
				}
			}
			clear(loop.Active)
			exec.finishMultiInstance(pi, wrapper, node)
			return
		}
	}

	if node.Loop.Sequential && loop.Next < len(loop.Items) {
		exec.activate(pi, exec.createBranch(pi, wrapper, node, loop.Next))
		return
	}
	if len(loop.Active) == 0 && loop.Next >= len(loop.Items) {
		exec.finishMultiInstance(pi, wrapper, node)
	}
}

// finishMultiInstance writes the output collection, ordered by item index, and leaves the wrapper.
func (exec *execution) finishMultiInstance(pi *runtime.ProcessInstance, wrapper *runtime.NodeInstance, node *model.Node) {
	loop := wrapper.Loop
	if node.Loop.OutputCollection != "" {
		indices := slices.Sorted(slices.Values(loop.CompletionOrder))
		outputs := make([]any, 0, len(indices))
		for _, index := range indices {
			outputs = append(outputs, loop.Outputs[index])
		}
		if err := exec.scopeVariables(pi, wrapper.ParentKey).SetVariable(node.Loop.OutputCollection, outputs); err != nil {
			exec.handleError(pi, wrapper, err)
			return
		}
	}
	exec.completeAndContinue(pi, wrapper, node)
}
