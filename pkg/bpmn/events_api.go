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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenengine/pkg/otel"
)

// SignalEvent broadcasts a signal to every waiting instance subscriber. Signal start events of
// registered processes start new instances only when no waiting instance took the signal. It returns
// the number of subscriptions triggered. A signal nobody waits for is lost.
func (engine *Engine) SignalEvent(ctx context.Context, name string, payload any) (count int, err error) {
	eventKey := runtime.EventKey(model.EventSignal, name)
	ctx, span := engine.tracer.Start(ctx, "signal:"+name, trace.WithAttributes(
		attribute.String(otelPkg.AttributeEventKey, eventKey),
	))
	defer func() {
		span.SetAttributes(attribute.Int(otelPkg.AttributeMatched, count))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var errs []error
	var starts []runtime.EventSubscription
	for _, sub := range engine.registry.match(eventKey, 0) {
		if sub.Scope == runtime.ScopeGlobal {
			starts = append(starts, sub)
			continue
		}
		delivered, err := engine.deliver(ctx, sub, payload)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if delivered {
			count++
		}
	}
	if count > 0 {
		return count, errors.Join(errs...)
	}
	for _, sub := range starts {
		delivered, err := engine.deliver(ctx, sub, payload)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if delivered {
			count++
		}
	}
	return count, errors.Join(errs...)
}

// SignalEventOnInstance signals one process instance only. The names "slaViolation" and
// "slaViolation:<node instance key>" mark an SLA as violated instead.
func (engine *Engine) SignalEventOnInstance(ctx context.Context, processInstanceKey int64, name string, payload any) (count int, err error) {
	eventKey := runtime.EventKey(model.EventSignal, name)
	ctx, span := engine.tracer.Start(ctx, "signal:"+name, trace.WithAttributes(
		attribute.String(otelPkg.AttributeEventKey, eventKey),
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, processInstanceKey),
	))
	defer func() {
		span.SetAttributes(attribute.Int(otelPkg.AttributeMatched, count))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if isSLAViolationSignal(name) {
		return engine.signalSLAViolation(ctx, processInstanceKey, name)
	}
	_, err = engine.execute(ctx, processInstanceKey, func(exec *execution, pi *runtime.ProcessInstance) error {
		if pi.State == runtime.ProcessStateSuspended {
			return ErrInstanceSuspended
		}
		for _, sub := range engine.registry.match(eventKey, pi.Key) {
			if pi.State != runtime.ProcessStateActive {
				break
			}
			if _, ok := engine.registry.get(sub.Key); !ok {
				continue
			}
			exec.triggerSubscription(pi, sub, payload)
			count++
		}
		return nil
	})
	return count, err
}

// SendMessage delivers a message to exactly one subscriber: the oldest waiting subscription, limited
// to processInstanceKey when not 0, otherwise a message start event of a registered process.
func (engine *Engine) SendMessage(ctx context.Context, name string, payload any, processInstanceKey int64) (delivered bool, err error) {
	eventKey := runtime.EventKey(model.EventMessage, name)
	ctx, span := engine.tracer.Start(ctx, "message:"+name, trace.WithAttributes(
		attribute.String(otelPkg.AttributeEventKey, eventKey),
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, processInstanceKey),
	))
	defer func() {
		span.SetAttributes(attribute.Bool(otelPkg.AttributeMatched, delivered))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	subs := engine.registry.match(eventKey, processInstanceKey)
	for _, sub := range subs {
		if sub.Scope != runtime.ScopeInstance {
			continue
		}
		ok, err := engine.deliver(ctx, sub, payload)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	if processInstanceKey != 0 {
		return false, nil
	}
	for _, sub := range subs {
		if sub.Scope == runtime.ScopeGlobal {
			return engine.deliver(ctx, sub, payload)
		}
	}
	engine.logger.Debug(fmt.Sprintf("No subscriber for message %s", name))
	return false, nil
}

// EventSubscriptions returns the subscriptions of a process instance in registration order, the
// process wide start subscriptions for key 0.
func (engine *Engine) EventSubscriptions(processInstanceKey int64) []runtime.EventSubscription {
	return engine.registry.forInstance(processInstanceKey, "")
}

// ReevaluateConditionals evaluates the conditional events of every instance waiting for one, e.g.
// after facts changed.
func (engine *Engine) ReevaluateConditionals(ctx context.Context) error {
	var errs []error
	for _, key := range engine.registry.instancesWithConditionals() {
		_, err := engine.execute(ctx, key, func(exec *execution, pi *runtime.ProcessInstance) error {
			return nil
		})
		if err = ignoreGone(err); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InsertFact adds a fact to the rule session shared by business rule tasks and conditional events.
// It is safe to call from task handlers; conditional events then react once the handler's
// execution finished.
func (engine *Engine) InsertFact(ctx context.Context, name string, value any) {
	engine.ruleSession.Insert(name, value)
	engine.reevaluateAfterFactChange(ctx)
}

// UpdateFact replaces a fact of the rule session.
func (engine *Engine) UpdateFact(ctx context.Context, name string, value any) {
	engine.ruleSession.Update(name, value)
	engine.reevaluateAfterFactChange(ctx)
}

// RetractFact removes a fact from the rule session.
func (engine *Engine) RetractFact(ctx context.Context, name string) {
	engine.ruleSession.Retract(name)
	engine.reevaluateAfterFactChange(ctx)
}

// FireAllRules fires the rules without agenda group and reevaluates conditional events.
func (engine *Engine) FireAllRules(ctx context.Context) (int, error) {
	fired, err := engine.ruleSession.FireAllRules(ctx)
	engine.reevaluateAfterFactChange(ctx)
	return fired, err
}
