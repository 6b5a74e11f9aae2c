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

func errorPayload(bizErr *BusinessError) map[string]any {
	return map[string]any{
		"code":    bizErr.Code,
		"message": bizErr.Message,
	}
}

// throwError propagates a business error outwards from source: error boundary events of the
// enclosing activities and error event sub-processes of the enclosing scopes are tried innermost
// first. An uncaught error aborts the instance and continues at the calling activity of a parent.
func (exec *execution) throwError(pi *runtime.ProcessInstance, source *runtime.NodeInstance, bizErr *BusinessError) {
	def := pi.Definition
	exec.logger.Debug(fmt.Sprintf("Propagating error '%s' from %s in process instance %d", bizErr.Code, source.NodeId, pi.Key))
	current := source
	for current != nil {
		node := def.Node(current.NodeId)
		if current.State.IsLive() && !current.Inner && node.Kind.IsActivity() {
			if boundary := findErrorBoundary(def, node.Id, bizErr.Code); boundary != nil {
				scopeKey := current.ParentKey
				exec.cancel(pi, current)
				exec.passThrough(pi, boundary, scopeKey, errorPayload(bizErr))
				return
			}
		}
		scopeKey := current.ParentKey
		var scope *runtime.NodeInstance
		container := ""
		if scopeKey != 0 {
			scope = pi.NodeInstance(scopeKey)
			if scope == nil {
				break
			}
			container = scope.NodeId
		}
		if scope == nil || scope.Loop == nil {
			if start := findErrorStart(def, container, bizErr.Code); start != nil {
				exec.startEventSubProcess(pi, start, scopeKey, errorPayload(bizErr))
				return
			}
		}
		current = scope
	}
	exec.abortWithError(pi, source, bizErr)
}

// findErrorBoundary prefers a boundary catching exactly code over a catch-all one.
func findErrorBoundary(def *model.ProcessDefinition, activityId string, code string) *model.Node {
	var catchAll *model.Node
	for _, boundary := range def.BoundaryEvents(activityId) {
		if eventType(boundary) != model.EventError {
			continue
		}
		if boundary.Event.Ref == code {
			return boundary
		}
		if boundary.Event.Ref == "" && catchAll == nil {
			catchAll = boundary
		}
	}
	return catchAll
}

func findErrorStart(def *model.ProcessDefinition, container string, code string) *model.Node {
	var catchAll *model.Node
	for _, esp := range def.EventSubProcesses(container) {
		for _, start := range def.EventStartNodes(esp.Id) {
			if eventType(start) != model.EventError {
				continue
			}
			if start.Event.Ref == code {
				return start
			}
			if start.Event.Ref == "" && catchAll == nil {
				catchAll = start
			}
		}
	}
	return catchAll
}

// abortWithError ends an instance whose business error found no handler.
func (exec *execution) abortWithError(pi *runtime.ProcessInstance, source *runtime.NodeInstance, bizErr *BusinessError) {
	pi.Error = &runtime.ErrorRecord{
		NodeId:          bizErr.NodeId,
		NodeInstanceKey: source.Key,
		Code:            bizErr.Code,
		Message:         bizErr.Message,
	}
	exec.logger.Warn(fmt.Sprintf("Uncaught error '%s' aborts process instance %d", bizErr.Code, pi.Key))
	exec.endInstance(pi, runtime.ProcessStateAborted)
	if parent, caller := exec.callingActivity(pi); parent != nil {
		exec.throwError(parent, caller, bizErr)
	}
}

// fail records an execution fault and moves the instance to ERROR. A calling process fails with it.
func (exec *execution) fail(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, err error) {
	if pi.State.IsTerminal() {
		return
	}
	record := &runtime.ErrorRecord{Message: err.Error()}
	if ni != nil {
		record.NodeId = ni.NodeId
		record.NodeInstanceKey = ni.Key
	}
	pi.Error = record
	exec.logger.Error(fmt.Sprintf("Execution fault in process instance %d at '%s': %s", pi.Key, record.NodeId, record.Message))
	exec.endInstance(pi, runtime.ProcessStateError)
	if parent, caller := exec.callingActivity(pi); parent != nil {
		exec.fail(parent, caller, &ExecutionFaultError{
			ProcessInstanceKey: pi.Key,
			NodeId:             record.NodeId,
			Msg:                fmt.Sprintf("called process '%s' failed: %s", pi.ProcessId, record.Message),
			Err:                err,
		})
	}
}

// callingActivity returns the live call activity instance waiting for pi. The link is released so
// that ending the caller does not abort pi again.
func (exec *execution) callingActivity(pi *runtime.ProcessInstance) (*runtime.ProcessInstance, *runtime.NodeInstance) {
	if pi.ParentProcessInstanceKey == 0 {
		return nil, nil
	}
	parent := exec.engine.liveInstance(pi.ParentProcessInstanceKey)
	if parent == nil || parent.State.IsTerminal() {
		return nil, nil
	}
	caller := parent.NodeInstance(pi.ParentNodeInstanceKey)
	if caller == nil || !caller.State.IsLive() || caller.ChildProcessKey != pi.Key {
		return nil, nil
	}
	caller.ChildProcessKey = 0
	exec.touch(parent)
	return parent, caller
}
