// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
)

// executeCallActivity starts an instance of the latest version of the called process. Only the
// variables named by input mappings are handed over. The call activity waits for the child to end.
func (exec *execution) executeCallActivity(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error {
	process, err := exec.engine.persistence.FindLatestProcessDefinitionById(exec.ctx, node.CalledProcess)
	if err != nil {
		return &ExecutionFaultError{
			ProcessInstanceKey: pi.Key,
			NodeId:             node.Id,
			Msg:                fmt.Sprintf("no process with id %s was registered", node.CalledProcess),
			Err:                err,
		}
	}
	starts := process.Definition.StartNodes("")
	if len(starts) == 0 {
		return newEngineErrorf("called process %s has no start event", node.CalledProcess)
	}
	source := exec.nodeVariables(pi, ni).Variables()
	variables := make(map[string]any, len(node.InputMappings))
	for _, mapping := range node.InputMappings {
		value, err := evaluateMapping(mapping.Source, source)
		if err != nil {
			return &ExpressionEvaluationError{Msg: fmt.Sprintf("failed to evaluate input mapping %s of call activity %s", mapping.Target, node.Id), Err: err}
		}
		variables[mapping.Target] = value
	}
	child, err := exec.engine.newInstance(process, variables, pi, ni)
	if err != nil {
		return err
	}
	ni.ChildProcessKey = child.Key
	exec.touch(child)
	exec.logger.Debug(fmt.Sprintf("Call activity %s of process instance %d started process instance %d", node.Id, pi.Key, child.Key))
	return exec.startInstance(child, starts, nil)
}

// calledProcessCompleted maps the results of child back and continues after the call activity.
func (exec *execution) calledProcessCompleted(pi *runtime.ProcessInstance, caller *runtime.NodeInstance, child *runtime.ProcessInstance) {
	node := pi.Definition.Node(caller.NodeId)
	if len(node.OutputMappings) > 0 {
		if err := exec.applyOutputs(pi, caller, node, child.Variables.Variables()); err != nil {
			exec.handleError(pi, caller, &ExpressionEvaluationError{Msg: fmt.Sprintf("failed to evaluate output mappings of call activity %s", node.Id), Err: err})
			return
		}
	}
	exec.completeAndContinue(pi, caller, node)
}

// cancelChildProcess aborts the instance started by a call activity that is being cancelled.
// Independent children keep running on their own.
func (exec *execution) cancelChildProcess(pi *runtime.ProcessInstance, ni *runtime.NodeInstance) {
	childKey := ni.ChildProcessKey
	ni.ChildProcessKey = 0
	if node := pi.Definition.Node(ni.NodeId); node != nil && node.Independent {
		return
	}
	child := exec.engine.liveInstance(childKey)
	if child == nil {
		return
	}
	exec.touch(child)
	exec.abortInstance(child)
}
