// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/pbinitiative/zenengine/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
)

// flowNodeExecutor runs the behaviour of a node once its instance is active. It either completes the
// node instance, leaves it waiting for an external trigger, or returns an error.
type flowNodeExecutor func(exec *execution, pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error

func getFlowNodeExecutor(kind model.NodeKind) flowNodeExecutor {
	switch kind {
	case model.KindStartEvent, model.KindBoundaryEvent:
		return (*execution).executePassThrough
	case model.KindEndEvent:
		return (*execution).executeEndEvent
	case model.KindTask, model.KindUserTask, model.KindServiceTask, model.KindSendTask, model.KindReceiveTask:
		return (*execution).executeTask
	case model.KindScriptTask:
		return (*execution).executeScriptTask
	case model.KindBusinessRuleTask:
		return (*execution).executeBusinessRuleTask
	case model.KindExclusiveGateway, model.KindInclusiveGateway, model.KindParallelGateway:
		return (*execution).executeGateway
	case model.KindEventBasedGateway:
		return (*execution).executeEventBasedGateway
	case model.KindSubProcess:
		return (*execution).executeSubProcess
	case model.KindCallActivity:
		return (*execution).executeCallActivity
	case model.KindIntermediateCatchEvent:
		return (*execution).executeCatchEvent
	case model.KindIntermediateThrowEvent:
		return (*execution).executeThrowEvent
	}
	return nil
}

func (exec *execution) createNodeInstance(pi *runtime.ProcessInstance, node *model.Node, scopeKey int64, triggeredBy string) *runtime.NodeInstance {
	level := 0
	if scope := pi.NodeInstance(scopeKey); scope != nil {
		level = scope.Level + 1
	}
	ni := &runtime.NodeInstance{
		Key:                exec.engine.generateKey(),
		ProcessInstanceKey: pi.Key,
		NodeId:             node.Id,
		Kind:               node.Kind,
		State:              runtime.NodeInstanceCreated,
		ParentKey:          scopeKey,
		Level:              level,
		TriggeredBy:        triggeredBy,
		SLA:                runtime.SLARecord{Compliance: runtime.SLANotApplicable},
		CreatedAt:          time.Now(),
	}
	pi.AddNodeInstance(ni)
	return ni
}

func isJoin(node *model.Node) bool {
	return (node.Kind == model.KindParallelGateway || node.Kind == model.KindInclusiveGateway) && len(node.Incoming) > 1
}

func (exec *execution) takeConnection(pi *runtime.ProcessInstance, scopeKey int64, connection *model.Connection) {
	exec.engine.exportSequenceFlowEvent(pi, connection)
	target := pi.Definition.Node(connection.Target)
	if isJoin(target) {
		exec.arriveAtJoin(pi, target, scopeKey, connection)
		return
	}
	ni := exec.createNodeInstance(pi, target, scopeKey, connection.Id)
	exec.activate(pi, ni)
}

func (exec *execution) activate(pi *runtime.ProcessInstance, ni *runtime.NodeInstance) {
	node := pi.Definition.Node(ni.NodeId)
	ni.State = runtime.NodeInstanceActive
	exec.engine.exportElementEvent(pi, ni, exporter.ElementActivating)
	if err := exec.enter(pi, ni, node); err != nil {
		exec.handleError(pi, ni, err)
	}
}

func (exec *execution) enter(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error {
	if !ni.Inner {
		if err := exec.startNodeSLA(pi, ni, node); err != nil {
			return err
		}
		if node.Kind.IsActivity() {
			if err := exec.subscribeBoundaryEvents(pi, ni, node); err != nil {
				return err
			}
		}
	}
	exec.engine.exportElementEvent(pi, ni, exporter.ElementActivated)
	if node.Loop != nil && !ni.Inner {
		return exec.activateMultiInstance(pi, ni, node)
	}
	executor := getFlowNodeExecutor(node.Kind)
	if executor == nil {
		return newEngineErrorf("node '%s' of kind %s cannot be activated", node.Id, node.Kind)
	}
	return executor(exec, pi, ni, node)
}

// handleError routes business errors to error propagation, anything else is an execution fault.
func (exec *execution) handleError(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, err error) {
	if pi.State.IsTerminal() {
		exec.logger.Debug(fmt.Sprintf("Ignoring error of ended process instance %d: %s", pi.Key, err))
		return
	}
	var bizErr *BusinessError
	var wiErr *WorkItemExecutionError
	switch {
	case errors.As(err, &bizErr):
		exec.throwError(pi, ni, bizErr)
	case errors.As(err, &wiErr):
		exec.throwError(pi, ni, &BusinessError{Code: wiErr.Code, Message: wiErr.Msg, NodeId: ni.NodeId})
	default:
		exec.fail(pi, ni, err)
	}
}

// complete finishes a node instance and queues the given outgoing connections.
func (exec *execution) complete(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, outgoing []*model.Connection) {
	if !ni.State.IsLive() {
		return
	}
	ni.State = runtime.NodeInstanceCompleting
	exec.engine.exportElementEvent(pi, ni, exporter.ElementCompleting)
	exec.unsubscribeNodeInstance(pi, ni)
	exec.closeSLA(&ni.SLA, runtime.SLAMet)
	ni.State = runtime.NodeInstanceCompleted
	ni.CompletedAt = time.Now()
	pi.CompletedNodes = append(pi.CompletedNodes, ni.NodeId)
	pi.RemoveNodeInstance(ni.Key)
	exec.engine.exportElementEvent(pi, ni, exporter.ElementCompleted)

	if ni.Inner {
		exec.multiInstanceBranchCompleted(pi, ni)
		return
	}
	for _, c := range outgoing {
		exec.enqueue(flowTransitionCommand{
			instance:   pi,
			sourceKey:  ni.Key,
			scopeKey:   ni.ParentKey,
			connection: c,
		})
	}
}

// completeAndContinue completes ni taking every outgoing connection whose condition holds.
func (exec *execution) completeAndContinue(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) {
	outgoing, err := exec.enabledConnections(pi, ni, node)
	if err != nil {
		exec.handleError(pi, ni, err)
		return
	}
	exec.complete(pi, ni, outgoing)
}

// cancel withdraws a live node instance together with everything running inside it.
func (exec *execution) cancel(pi *runtime.ProcessInstance, ni *runtime.NodeInstance) {
	if !ni.State.IsLive() {
		return
	}
	for _, child := range pi.LiveChildren(ni.Key) {
		exec.cancel(pi, child)
	}
	exec.unsubscribeNodeInstance(pi, ni)
	if ni.WorkItemKey != 0 {
		exec.abortWorkItemOf(pi, ni)
	}
	if ni.ChildProcessKey != 0 {
		exec.cancelChildProcess(pi, ni)
	}
	exec.closeSLA(&ni.SLA, runtime.SLAAborted)
	ni.State = runtime.NodeInstanceCancelled
	ni.CompletedAt = time.Now()
	pi.RemoveNodeInstance(ni.Key)
	exec.engine.exportElementEvent(pi, ni, exporter.ElementCancelled)
}

// enabledConnections returns the outgoing connections of a non gateway node: all unconditional ones
// plus the conditional ones whose guard holds.
func (exec *execution) enabledConnections(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) ([]*model.Connection, error) {
	connections := pi.Definition.OutgoingConnections(node.Id)
	var res []*model.Connection
	var variables map[string]any
	for _, c := range connections {
		if c.Condition == "" {
			res = append(res, c)
			continue
		}
		if variables == nil {
			variables = exec.expressionContext(pi, ni.ParentKey)
		}
		ok, err := evaluateCondition(c.Condition, variables)
		if err != nil {
			return nil, &ExpressionEvaluationError{Msg: fmt.Sprintf("failed to evaluate condition of connection %s", c.Id), Err: err}
		}
		if ok {
			res = append(res, c)
		}
	}
	return res, nil
}

// passThrough creates a node instance that completes right away, used for nodes triggered by events.
func (exec *execution) passThrough(pi *runtime.ProcessInstance, node *model.Node, scopeKey int64, payload any) *runtime.NodeInstance {
	ni := exec.createNodeInstance(pi, node, scopeKey, "")
	ni.State = runtime.NodeInstanceActive
	exec.engine.exportElementEvent(pi, ni, exporter.ElementActivating)
	exec.engine.exportElementEvent(pi, ni, exporter.ElementActivated)
	if payload != nil {
		if err := exec.setEventPayload(pi, node, scopeKey, payload); err != nil {
			exec.fail(pi, ni, err)
			return ni
		}
	}
	exec.completeAndContinue(pi, ni, node)
	return ni
}

func (exec *execution) setEventPayload(pi *runtime.ProcessInstance, node *model.Node, scopeKey int64, payload any) error {
	if node.Event == nil || node.Event.VariableName == "" {
		return nil
	}
	return exec.scopeVariables(pi, scopeKey).SetVariable(node.Event.VariableName, payload)
}

// scopeVariables returns the variable scope of the container scopeKey, the process scope for 0.
func (exec *execution) scopeVariables(pi *runtime.ProcessInstance, scopeKey int64) *runtime.VariableScope {
	for key := scopeKey; key != 0; {
		scope := pi.NodeInstance(key)
		if scope == nil {
			break
		}
		if scope.Variables != nil {
			return scope.Variables
		}
		key = scope.ParentKey
	}
	return pi.Variables
}

// nodeVariables returns the scope a node instance reads from and writes to.
func (exec *execution) nodeVariables(pi *runtime.ProcessInstance, ni *runtime.NodeInstance) *runtime.VariableScope {
	if ni.Variables != nil {
		return ni.Variables
	}
	return exec.scopeVariables(pi, ni.ParentKey)
}

// expressionContext is the FEEL context of guards and conditions: the facts of the rule session
// overlaid by the variables visible in scopeKey.
func (exec *execution) expressionContext(pi *runtime.ProcessInstance, scopeKey int64) map[string]any {
	return withFacts(exec.engine.ruleSession.Facts(), exec.scopeVariables(pi, scopeKey).Variables())
}

func withFacts(facts map[string]any, variables map[string]any) map[string]any {
	if facts == nil {
		facts = map[string]any{}
	}
	maps.Copy(facts, variables)
	return facts
}

func (exec *execution) executePassThrough(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error {
	exec.completeAndContinue(pi, ni, node)
	return nil
}

func eventType(node *model.Node) model.EventType {
	if node.Event == nil {
		return model.EventNone
	}
	return node.Event.Type
}

func (exec *execution) executeEndEvent(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error {
	switch eventType(node) {
	case model.EventTerminate:
		exec.terminate(pi, ni)
	case model.EventError:
		exec.complete(pi, ni, nil)
		return &BusinessError{Code: node.Event.Ref, Message: node.Event.Message, NodeId: node.Id}
	case model.EventSignal, model.EventMessage:
		exec.throw(pi, ni, node)
		exec.complete(pi, ni, nil)
	default:
		exec.complete(pi, ni, nil)
	}
	return nil
}

func (exec *execution) executeThrowEvent(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error {
	exec.throw(pi, ni, node)
	exec.completeAndContinue(pi, ni, node)
	return nil
}

// throw records a signal or message for delivery after the current execution.
func (exec *execution) throw(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) {
	var kind thrownEventType
	switch eventType(node) {
	case model.EventSignal:
		kind = thrownSignal
	case model.EventMessage:
		kind = thrownMessage
	default:
		return
	}
	var payload any
	if node.Event.VariableName != "" {
		payload = exec.nodeVariables(pi, ni).GetVariable(node.Event.VariableName)
	}
	exec.thrown = append(exec.thrown, thrownEvent{
		eventType:          kind,
		name:               node.Event.Ref,
		payload:            payload,
		processInstanceKey: pi.Key,
	})
}

// terminate cancels everything else running in the scope of ni and completes the scope.
func (exec *execution) terminate(pi *runtime.ProcessInstance, ni *runtime.NodeInstance) {
	scopeKey := ni.ParentKey
	for _, other := range pi.LiveChildren(scopeKey) {
		if other.Key != ni.Key {
			exec.cancel(pi, other)
		}
	}
	exec.complete(pi, ni, nil)
	if scopeKey == 0 {
		exec.completeProcessInstance(pi)
		return
	}
	if scope := pi.NodeInstance(scopeKey); scope != nil {
		exec.completeScope(pi, scope)
	}
}
