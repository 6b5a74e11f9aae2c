// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"github.com/pbinitiative/zenengine/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
)

// executeGateway handles diverging and pass through gateways; converging ones go through arriveAtJoin.
func (exec *execution) executeGateway(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error {
	outgoing, err := exec.gatewayOutgoing(pi, ni, node)
	if err != nil {
		return err
	}
	exec.complete(pi, ni, outgoing)
	return nil
}

func (exec *execution) gatewayOutgoing(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) ([]*model.Connection, error) {
	def := pi.Definition
	flows := def.OutgoingConnections(node.Id)
	switch node.Kind {
	case model.KindExclusiveGateway:
		return exclusivelyFilterByConditionExpression(pi.ProcessId, node.Id, flows, def.DefaultConnection(node.Id), exec.expressionContext(pi, ni.ParentKey))
	case model.KindInclusiveGateway:
		return inclusivelyFilterByConditionExpression(pi.ProcessId, node.Id, flows, def.DefaultConnection(node.Id), exec.expressionContext(pi, ni.ParentKey))
	default:
		return flows, nil
	}
}

// arriveAtJoin records a token at a converging gateway. There is at most one waiting join instance per
// gateway and scope.
func (exec *execution) arriveAtJoin(pi *runtime.ProcessInstance, node *model.Node, scopeKey int64, connection *model.Connection) {
	ni := pi.FindLiveNodeInstance(node.Id, scopeKey)
	if ni == nil || ni.Join == nil {
		ni = exec.openJoin(pi, node, scopeKey, connection.Id, map[string]int{})
	}
	ni.Join.Arrived[connection.Id]++
	if node.Kind == model.KindParallelGateway {
		exec.fireParallelJoin(pi, ni, node)
	}
}

func (exec *execution) openJoin(pi *runtime.ProcessInstance, node *model.Node, scopeKey int64, triggeredBy string, arrived map[string]int) *runtime.NodeInstance {
	ni := exec.createNodeInstance(pi, node, scopeKey, triggeredBy)
	ni.Join = &runtime.JoinState{Arrived: arrived}
	ni.State = runtime.NodeInstanceActive
	exec.engine.exportElementEvent(pi, ni, exporter.ElementActivating)
	exec.engine.exportElementEvent(pi, ni, exporter.ElementActivated)
	return ni
}

// fireParallelJoin fires once every incoming connection delivered at least one token. Surplus tokens
// are carried over to the next activation of the join.
func (exec *execution) fireParallelJoin(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) {
	for _, id := range node.Incoming {
		if ni.Join.Arrived[id] == 0 {
			return
		}
	}
	remainder := map[string]int{}
	for id, n := range ni.Join.Arrived {
		if n > 1 {
			remainder[id] = n - 1
		}
	}
	exec.complete(pi, ni, pi.Definition.OutgoingConnections(node.Id))
	if len(remainder) > 0 {
		next := exec.openJoin(pi, node, ni.ParentKey, ni.TriggeredBy, remainder)
		exec.fireParallelJoin(pi, next, node)
	}
}

// fireInclusiveJoins fires the first waiting inclusive join no other live token can still reach.
// It is evaluated when the execution queue is empty, so all tokens are materialized as node instances.
func (exec *execution) fireInclusiveJoins(pi *runtime.ProcessInstance) bool {
	for _, ni := range pi.LiveNodeInstances() {
		if ni.Join == nil || ni.Kind != model.KindInclusiveGateway || len(ni.Join.Arrived) == 0 {
			continue
		}
		if exec.inclusiveJoinBlocked(pi, ni) {
			continue
		}
		node := pi.Definition.Node(ni.NodeId)
		outgoing, err := exec.gatewayOutgoing(pi, ni, node)
		if err != nil {
			exec.handleError(pi, ni, err)
			return true
		}
		exec.complete(pi, ni, outgoing)
		return true
	}
	return false
}

// inclusiveJoinBlocked reports whether a live node instance of the same scope has a path to the join.
func (exec *execution) inclusiveJoinBlocked(pi *runtime.ProcessInstance, join *runtime.NodeInstance) bool {
	for _, other := range pi.LiveChildren(join.ParentKey) {
		if other.Key == join.Key || other.NodeId == join.NodeId {
			continue
		}
		if pi.Definition.CanReach(other.NodeId, join.NodeId) {
			return true
		}
	}
	return false
}

// executeEventBasedGateway waits for the first of the catch events following the gateway.
func (exec *execution) executeEventBasedGateway(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error {
	for _, target := range pi.Definition.Successors(node.Id) {
		sub := runtime.EventSubscription{
			NodeInstanceKey: ni.Key,
			NodeId:          target.Id,
			GatewayKey:      ni.Key,
		}
		if err := exec.subscribe(pi, sub, target.Event, ni.ParentKey); err != nil {
			return err
		}
	}
	return nil
}

// triggerEventGateway completes the gateway in favour of the catch event that fired first.
func (exec *execution) triggerEventGateway(pi *runtime.ProcessInstance, sub runtime.EventSubscription, payload any) {
	gateway := pi.NodeInstance(sub.GatewayKey)
	if gateway == nil || !gateway.State.IsLive() {
		return
	}
	def := pi.Definition
	var taken *model.Connection
	for _, c := range def.OutgoingConnections(gateway.NodeId) {
		if c.Target == sub.NodeId {
			taken = c
			break
		}
	}
	exec.complete(pi, gateway, nil)
	if taken != nil {
		exec.engine.exportSequenceFlowEvent(pi, taken)
	}
	exec.passThrough(pi, def.Node(sub.NodeId), gateway.ParentKey, payload)
}
