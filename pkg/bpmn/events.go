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
	"slices"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenengine/pkg/otel"
)

// eventRegistry indexes the active event subscriptions by event key. Subscriptions are returned in
// registration order, which follows their keys.
type eventRegistry struct {
	mu      *sync.RWMutex
	subs    map[int64]runtime.EventSubscription
	byEvent map[string]map[int64]struct{}
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{
		mu:      &sync.RWMutex{},
		subs:    map[int64]runtime.EventSubscription{},
		byEvent: map[string]map[int64]struct{}{},
	}
}

func (r *eventRegistry) add(sub runtime.EventSubscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.Key] = sub
	key := sub.EventKey()
	if r.byEvent[key] == nil {
		r.byEvent[key] = map[int64]struct{}{}
	}
	r.byEvent[key][sub.Key] = struct{}{}
}

func (r *eventRegistry) get(key int64) (runtime.EventSubscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[key]
	return sub, ok
}

func (r *eventRegistry) remove(key int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(key)
}

func (r *eventRegistry) removeLocked(key int64) {
	sub, ok := r.subs[key]
	if !ok {
		return
	}
	delete(r.subs, key)
	eventKey := sub.EventKey()
	delete(r.byEvent[eventKey], key)
	if len(r.byEvent[eventKey]) == 0 {
		delete(r.byEvent, eventKey)
	}
}

// removeWhere removes and returns every subscription matching pred.
func (r *eventRegistry) removeWhere(pred func(sub runtime.EventSubscription) bool) []runtime.EventSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []runtime.EventSubscription
	for _, sub := range r.subs {
		if pred(sub) {
			removed = append(removed, sub)
		}
	}
	for _, sub := range removed {
		r.removeLocked(sub.Key)
	}
	sortSubscriptions(removed)
	return removed
}

// match returns a snapshot of the subscriptions for eventKey, limited to one process instance when
// processInstanceKey is not 0.
func (r *eventRegistry) match(eventKey string, processInstanceKey int64) []runtime.EventSubscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []runtime.EventSubscription
	for key := range r.byEvent[eventKey] {
		sub := r.subs[key]
		if processInstanceKey != 0 && sub.ProcessInstanceKey != processInstanceKey {
			continue
		}
		res = append(res, sub)
	}
	sortSubscriptions(res)
	return res
}

func (r *eventRegistry) forInstance(processInstanceKey int64, eventType model.EventType) []runtime.EventSubscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []runtime.EventSubscription
	for _, sub := range r.subs {
		if sub.ProcessInstanceKey == processInstanceKey && (eventType == "" || sub.EventType == eventType) {
			res = append(res, sub)
		}
	}
	sortSubscriptions(res)
	return res
}

func (r *eventRegistry) setConditionMet(key int64, met bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[key]; ok {
		sub.ConditionMet = met
		r.subs[key] = sub
	}
}

func (r *eventRegistry) instancesWithConditionals() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[int64]struct{}{}
	for _, sub := range r.subs {
		if sub.EventType == model.EventConditional && sub.ProcessInstanceKey != 0 {
			seen[sub.ProcessInstanceKey] = struct{}{}
		}
	}
	res := slices.Collect(maps.Keys(seen))
	slices.Sort(res)
	return res
}

func sortSubscriptions(subs []runtime.EventSubscription) {
	slices.SortFunc(subs, func(a, b runtime.EventSubscription) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
}

// subscribe registers sub for the event described by def. Timer events get their timer scheduled,
// error events are resolved when an error is thrown and need no subscription.
func (exec *execution) subscribe(pi *runtime.ProcessInstance, sub runtime.EventSubscription, def *model.EventDefinition, scopeKey int64) error {
	if def == nil {
		return newEngineErrorf("node '%s' has no event definition to subscribe to", sub.NodeId)
	}
	sub.Key = exec.engine.generateKey()
	sub.EventType = def.Type
	sub.Scope = runtime.ScopeInstance
	sub.ProcessId = pi.ProcessId
	sub.ProcessInstanceKey = pi.Key
	sub.VariableName = def.VariableName
	sub.CreatedAt = time.Now()
	switch def.Type {
	case model.EventSignal, model.EventMessage:
		sub.Name = def.Ref
	case model.EventConditional:
		sub.Name = sub.NodeId
		sub.Condition = def.Condition
	case model.EventTimer:
		timer, err := exec.engine.newTimer(def, exec.expressionContext(pi, scopeKey), time.Now())
		if err != nil {
			return err
		}
		timer.ProcessInstanceKey = pi.Key
		timer.NodeInstanceKey = sub.NodeInstanceKey
		timer.SubscriptionKey = sub.Key
		sub.TimerKey = timer.Key
		sub.Name = strconv.FormatInt(timer.Key, 10)
		exec.engine.registry.add(sub)
		exec.engine.addTimer(timer)
		return nil
	case model.EventError:
		return nil
	default:
		return newEngineErrorf("node '%s': cannot subscribe to %s events", sub.NodeId, def.Type)
	}
	exec.engine.registry.add(sub)
	return nil
}

// removeSubscriptions drops matching subscriptions and the timers backing them.
func (exec *execution) removeSubscriptions(pred func(sub runtime.EventSubscription) bool) {
	for _, sub := range exec.engine.registry.removeWhere(pred) {
		if sub.TimerKey != 0 {
			exec.engine.cancelTimer(sub.TimerKey)
		}
	}
}

// unsubscribeNodeInstance removes the subscriptions ni is the subscriber of, including event
// sub-process starts of the scope ni opens.
func (exec *execution) unsubscribeNodeInstance(pi *runtime.ProcessInstance, ni *runtime.NodeInstance) {
	exec.removeSubscriptions(func(sub runtime.EventSubscription) bool {
		return sub.ProcessInstanceKey == pi.Key && (sub.NodeInstanceKey == ni.Key || sub.ScopeKey == ni.Key)
	})
}

func (exec *execution) subscribeBoundaryEvents(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error {
	for _, boundary := range pi.Definition.BoundaryEvents(node.Id) {
		if eventType(boundary) == model.EventError {
			continue
		}
		sub := runtime.EventSubscription{
			NodeInstanceKey: ni.Key,
			NodeId:          boundary.Id,
			AttachedTo:      ni.Key,
		}
		if err := exec.subscribe(pi, sub, boundary.Event, ni.ParentKey); err != nil {
			return err
		}
	}
	return nil
}

// subscribeEventSubProcesses arms the event sub-process starts of container; scopeKey is the node
// instance of the container, 0 for the process.
func (exec *execution) subscribeEventSubProcesses(pi *runtime.ProcessInstance, container string, scopeKey int64) error {
	def := pi.Definition
	for _, esp := range def.EventSubProcesses(container) {
		for _, start := range def.EventStartNodes(esp.Id) {
			if eventType(start) == model.EventError {
				continue
			}
			sub := runtime.EventSubscription{
				NodeInstanceKey: scopeKey,
				NodeId:          start.Id,
				ScopeKey:        scopeKey,
			}
			if err := exec.subscribe(pi, sub, start.Event, scopeKey); err != nil {
				return err
			}
		}
	}
	return nil
}

func (exec *execution) executeCatchEvent(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error {
	sub := runtime.EventSubscription{
		NodeInstanceKey: ni.Key,
		NodeId:          node.Id,
	}
	return exec.subscribe(pi, sub, node.Event, ni.ParentKey)
}

// triggerSubscription runs the reaction of the subscriber of sub.
func (exec *execution) triggerSubscription(pi *runtime.ProcessInstance, sub runtime.EventSubscription, payload any) {
	def := pi.Definition
	node := def.Node(sub.NodeId)
	if node == nil {
		return
	}
	if exec.engine.metrics != nil && exec.engine.metrics.EventsDispatched != nil {
		exec.engine.metrics.EventsDispatched.Add(exec.ctx, 1, metric.WithAttributes(
			attribute.String(otelPkg.AttributeEventKey, sub.EventKey()),
			attribute.String(otelPkg.AttributeProcessId, pi.ProcessId),
		))
	}
	exec.logger.Debug(fmt.Sprintf("Triggering %s on node %s of process instance %d", sub.EventKey(), sub.NodeId, pi.Key))
	switch {
	case sub.GatewayKey != 0:
		exec.triggerEventGateway(pi, sub, payload)
	case node.Kind == model.KindBoundaryEvent:
		exec.triggerBoundaryEvent(pi, sub, payload)
	case node.Kind == model.KindStartEvent:
		exec.startEventSubProcess(pi, node, sub.ScopeKey, payload)
	case node.Kind == model.KindIntermediateCatchEvent:
		ni := pi.NodeInstance(sub.NodeInstanceKey)
		if ni == nil || !ni.State.IsLive() {
			return
		}
		if payload != nil {
			if err := exec.setEventPayload(pi, node, ni.ParentKey, payload); err != nil {
				exec.fail(pi, ni, err)
				return
			}
		}
		exec.completeAndContinue(pi, ni, node)
	}
}

// triggerBoundaryEvent takes the boundary path; a cancelling boundary withdraws the activity first.
func (exec *execution) triggerBoundaryEvent(pi *runtime.ProcessInstance, sub runtime.EventSubscription, payload any) {
	attached := pi.NodeInstance(sub.AttachedTo)
	if attached == nil || !attached.State.IsLive() {
		return
	}
	node := pi.Definition.Node(sub.NodeId)
	scopeKey := attached.ParentKey
	if node.CancelActivity {
		exec.cancel(pi, attached)
	}
	exec.passThrough(pi, node, scopeKey, payload)
}

// evaluateConditionals fires the first conditional subscription of pi whose condition turned true.
func (exec *execution) evaluateConditionals(pi *runtime.ProcessInstance) bool {
	subs := exec.engine.registry.forInstance(pi.Key, model.EventConditional)
	if len(subs) == 0 {
		return false
	}
	facts := exec.engine.ruleSession.Facts()
	for _, sub := range subs {
		variables := exec.subscriberVariables(pi, sub)
		met, err := evaluateCondition(sub.Condition, withFacts(maps.Clone(facts), variables.Variables()))
		if err != nil {
			exec.logger.Warn(fmt.Sprintf("Failed to evaluate condition of %s in process instance %d: %s", sub.NodeId, pi.Key, err))
			continue
		}
		if met == sub.ConditionMet {
			continue
		}
		exec.engine.registry.setConditionMet(sub.Key, met)
		if met {
			exec.triggerSubscription(pi, sub, nil)
			return true
		}
	}
	return false
}

func (exec *execution) subscriberVariables(pi *runtime.ProcessInstance, sub runtime.EventSubscription) *runtime.VariableScope {
	if sub.NodeInstanceKey == 0 {
		return pi.Variables
	}
	ni := pi.NodeInstance(sub.NodeInstanceKey)
	if ni == nil {
		return pi.Variables
	}
	return exec.nodeVariables(pi, ni)
}

// deliver triggers one subscription of a live instance. It reports false when the subscription went
// away in the meantime or the instance is suspended.
func (engine *Engine) deliver(ctx context.Context, sub runtime.EventSubscription, payload any) (bool, error) {
	if sub.Scope == runtime.ScopeGlobal {
		_, err := engine.startProcessFromEvent(ctx, sub, payload)
		return err == nil, err
	}
	delivered := false
	_, err := engine.execute(ctx, sub.ProcessInstanceKey, func(exec *execution, pi *runtime.ProcessInstance) error {
		if pi.State != runtime.ProcessStateActive {
			return nil
		}
		current, ok := engine.registry.get(sub.Key)
		if !ok {
			return nil
		}
		delivered = true
		exec.triggerSubscription(pi, current, payload)
		return nil
	})
	return delivered, ignoreGone(err)
}
