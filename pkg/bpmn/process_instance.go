// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
)

// newInstance creates a PENDING instance of process and makes it known to the engine. caller is the
// call activity instance of parent the new instance runs for, if any.
func (engine *Engine) newInstance(process runtime.ProcessDefinition, variables map[string]any, parent *runtime.ProcessInstance, caller *runtime.NodeInstance) (*runtime.ProcessInstance, error) {
	scope := runtime.NewProcessVariableScope(process.Definition.Variables, engine.strictVariables)
	if err := scope.SetLocalVariables(variables); err != nil {
		return nil, err
	}
	pi := runtime.NewProcessInstance(engine.generateKey(), process, scope)
	if parent != nil && caller != nil {
		pi.ParentProcessInstanceKey = parent.Key
		pi.ParentNodeInstanceKey = caller.Key
		pi.RootProcessInstanceKey = parent.RootProcessInstanceKey
	}
	scope.OnChange(func(name string, oldValue any, newValue any) {
		engine.exportVariableEvent(pi, name, oldValue, newValue)
	})
	engine.addInstance(pi)
	return pi, nil
}

// startInstance moves a PENDING instance to ACTIVE and queues its start nodes.
func (exec *execution) startInstance(pi *runtime.ProcessInstance, starts []*model.Node, payload any) error {
	if pi.State != runtime.ProcessStatePending {
		return newEngineErrorf("process instance %d is %s, only PENDING instances can be started", pi.Key, pi.State)
	}
	pi.State = runtime.ProcessStateActive
	exec.engine.count(exec.ctx, exec.engine.metrics.ProcessesStarted, pi.ProcessId)
	exec.engine.countRunning(exec.ctx, 1, pi.ProcessId)
	exec.engine.exportProcessInstanceEvent(pi)
	exec.logger.Debug(fmt.Sprintf("Starting process instance %d of %s", pi.Key, pi.ProcessId))
	if err := exec.startProcessSLA(pi); err != nil {
		exec.fail(pi, nil, err)
		return nil
	}
	if err := exec.subscribeEventSubProcesses(pi, "", 0); err != nil {
		exec.fail(pi, nil, err)
		return nil
	}
	for _, start := range starts {
		exec.enqueue(activityCommand{instance: pi, node: start, scopeKey: 0, payload: payload})
	}
	return nil
}

// completeProcessInstance ends pi as COMPLETED and resumes the call activity waiting for it.
func (exec *execution) completeProcessInstance(pi *runtime.ProcessInstance) {
	if pi.State != runtime.ProcessStateActive {
		return
	}
	exec.endInstance(pi, runtime.ProcessStateCompleted)
	if parent, caller := exec.callingActivity(pi); parent != nil {
		exec.calledProcessCompleted(parent, caller, pi)
	}
}

// abortInstance ends a running or suspended instance without touching its caller.
func (exec *execution) abortInstance(pi *runtime.ProcessInstance) {
	if pi.State.IsTerminal() {
		return
	}
	exec.endInstance(pi, runtime.ProcessStateAborted)
}

// endInstance withdraws everything still running in pi and moves it to a terminal state.
func (exec *execution) endInstance(pi *runtime.ProcessInstance, state runtime.ProcessState) {
	wasRunning := pi.State == runtime.ProcessStateActive || pi.State == runtime.ProcessStateSuspended
	for _, ni := range pi.LiveChildren(0) {
		exec.cancel(pi, ni)
	}
	exec.removeSubscriptions(func(sub runtime.EventSubscription) bool {
		return sub.ProcessInstanceKey == pi.Key
	})
	if state == runtime.ProcessStateCompleted {
		exec.closeSLA(&pi.SLA, runtime.SLAMet)
	} else {
		exec.closeSLA(&pi.SLA, runtime.SLAAborted)
	}
	for _, t := range exec.engine.Timers(pi.Key) {
		exec.engine.cancelTimer(t.Key)
	}
	pi.State = state
	pi.EndedAt = time.Now()
	exec.engine.count(exec.ctx, exec.engine.metrics.ProcessesEnded, pi.ProcessId)
	if wasRunning {
		exec.engine.countRunning(exec.ctx, -1, pi.ProcessId)
	}
	exec.logger.Debug(fmt.Sprintf("Process instance %d of %s ended as %s", pi.Key, pi.ProcessId, state))
	exec.engine.exportEndProcessEvent(pi)
	exec.engine.retireInstance(exec.ctx, pi)
}

// startProcessFromEvent starts an instance of the latest version of a process through one of its
// signal, message or timer start events.
func (engine *Engine) startProcessFromEvent(ctx context.Context, sub runtime.EventSubscription, payload any) (runtime.ProcessInstance, error) {
	process, err := engine.persistence.FindLatestProcessDefinitionById(ctx, sub.ProcessId)
	if err != nil {
		return runtime.ProcessInstance{}, errors.Join(newEngineErrorf("failed to find process definition %s", sub.ProcessId), err)
	}
	start := process.Definition.Node(sub.NodeId)
	if start == nil {
		return runtime.ProcessInstance{}, newEngineErrorf("process %s has no start event %s", sub.ProcessId, sub.NodeId)
	}
	pi, err := engine.newInstance(process, nil, nil, nil)
	if err != nil {
		return runtime.ProcessInstance{}, err
	}
	snapshot, err := engine.execute(ctx, pi.Key, func(exec *execution, pi *runtime.ProcessInstance) error {
		return exec.startInstance(pi, []*model.Node{start}, payload)
	})
	if err != nil {
		return snapshot, err
	}
	return snapshot, faultOf(snapshot)
}

// installStartSubscriptions replaces the process wide start subscriptions of a process id by the
// ones of its newest version.
func (engine *Engine) installStartSubscriptions(process runtime.ProcessDefinition) error {
	removed := engine.registry.removeWhere(func(sub runtime.EventSubscription) bool {
		return sub.Scope == runtime.ScopeGlobal && sub.ProcessId == process.BpmnProcessId
	})
	for _, sub := range removed {
		if sub.TimerKey != 0 {
			engine.cancelTimer(sub.TimerKey)
		}
	}
	for _, start := range process.Definition.EventStartNodes("") {
		sub := runtime.EventSubscription{
			Key:       engine.generateKey(),
			EventType: start.Event.Type,
			Scope:     runtime.ScopeGlobal,
			ProcessId: process.BpmnProcessId,
			NodeId:    start.Id,
			CreatedAt: time.Now(),
		}
		switch start.Event.Type {
		case model.EventSignal, model.EventMessage:
			sub.Name = start.Event.Ref
			engine.registry.add(sub)
		case model.EventTimer:
			timer, err := engine.newTimer(start.Event, map[string]any{}, time.Now())
			if err != nil {
				return fmt.Errorf("failed to schedule start event %s of process %s: %w", start.Id, process.BpmnProcessId, err)
			}
			timer.SubscriptionKey = sub.Key
			sub.TimerKey = timer.Key
			sub.Name = fmt.Sprint(timer.Key)
			engine.registry.add(sub)
			engine.addTimer(timer)
		default:
			return newEngineErrorf("start event %s of process %s cannot be triggered by %s events", start.Id, process.BpmnProcessId, start.Event.Type)
		}
	}
	return nil
}
