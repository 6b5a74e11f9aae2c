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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenengine/pkg/otel"
)

// processTimer is called by the Scheduler when a timer is due.
func (engine *Engine) processTimer(ctx context.Context, timer runtime.Timer) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("timer:%d", timer.Key), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeTimerKey, timer.Key),
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, timer.ProcessInstanceKey),
	))
	defer span.End()
	if err := engine.fireTimer(ctx, timer.Key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		engine.logger.Error(fmt.Sprintf("failed to trigger timer %d: %s", timer.Key, err))
	}
}

func (engine *Engine) fireTimer(ctx context.Context, key int64) error {
	t, ok := engine.timer(key)
	if !ok {
		return nil
	}
	if t.ProcessInstanceKey == 0 {
		return engine.fireStartTimer(ctx, t)
	}
	_, err := engine.execute(ctx, t.ProcessInstanceKey, func(exec *execution, pi *runtime.ProcessInstance) error {
		t, ok := engine.timer(key)
		if !ok {
			return nil
		}
		if pi.State == runtime.ProcessStateSuspended {
			// the timer stays registered and is re-armed on resume
			return nil
		}
		engine.count(ctx, engine.metrics.TimersFired, pi.ProcessId)
		if t.Purpose == runtime.TimerForSLA {
			engine.removeTimer(key)
			exec.slaTimerFired(pi, t)
			return nil
		}
		sub, ok := engine.registry.get(t.SubscriptionKey)
		if !ok {
			engine.removeTimer(key)
			return nil
		}
		rearmed := engine.rescheduleOrRemove(t)
		exec.triggerSubscription(pi, sub, nil)
		if !rearmed {
			engine.registry.remove(sub.Key)
		}
		return nil
	})
	return ignoreGone(err)
}

// fireStartTimer starts a new instance for a process level timer start event.
func (engine *Engine) fireStartTimer(ctx context.Context, t runtime.Timer) error {
	sub, ok := engine.registry.get(t.SubscriptionKey)
	if !ok {
		engine.removeTimer(t.Key)
		return nil
	}
	if !engine.rescheduleOrRemove(t) {
		engine.registry.remove(sub.Key)
	}
	_, err := engine.startProcessFromEvent(ctx, sub, nil)
	return err
}
