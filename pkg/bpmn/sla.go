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
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenengine/pkg/otel"
)

// SLAViolationSignal marks a due date as missed when signalled to an instance. The process SLA is
// addressed by the bare name, a node instance SLA by "slaViolation:<node instance key>".
const SLAViolationSignal = "slaViolation"

func (exec *execution) startProcessSLA(pi *runtime.ProcessInstance) error {
	if pi.Definition.SLA == "" {
		return nil
	}
	record, err := exec.armSLA(pi, 0, pi.Definition.SLA, exec.expressionContext(pi, 0))
	if err != nil {
		return err
	}
	pi.SLA = record
	return nil
}

func (exec *execution) startNodeSLA(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error {
	if node.SLA == "" {
		return nil
	}
	record, err := exec.armSLA(pi, ni.Key, node.SLA, exec.expressionContext(pi, ni.ParentKey))
	if err != nil {
		return err
	}
	ni.SLA = record
	return nil
}

// armSLA schedules the due date timer. The expression follows the syntax of timer events.
func (exec *execution) armSLA(pi *runtime.ProcessInstance, nodeInstanceKey int64, expression string, variables map[string]any) (runtime.SLARecord, error) {
	def := &model.EventDefinition{Type: model.EventTimer, TimerExpression: expression}
	timer, err := exec.engine.newTimer(def, variables, time.Now())
	if err != nil {
		return runtime.SLARecord{Compliance: runtime.SLANotApplicable}, fmt.Errorf("invalid SLA due date '%s': %w", expression, err)
	}
	timer.Purpose = runtime.TimerForSLA
	timer.ProcessInstanceKey = pi.Key
	timer.NodeInstanceKey = nodeInstanceKey
	exec.engine.addTimer(timer)
	return runtime.SLARecord{
		Deadline:   timer.DueAt,
		Compliance: runtime.SLAPending,
		TimerKey:   timer.Key,
	}, nil
}

// closeSLA settles a pending record. A violated record stays violated.
func (exec *execution) closeSLA(record *runtime.SLARecord, compliance runtime.SLACompliance) {
	if record.Compliance != runtime.SLAPending {
		return
	}
	if record.TimerKey != 0 {
		exec.engine.cancelTimer(record.TimerKey)
	}
	record.Compliance = compliance
}

func (exec *execution) slaTimerFired(pi *runtime.ProcessInstance, t runtime.Timer) {
	if t.NodeInstanceKey == 0 {
		exec.violateSLA(pi, nil)
		return
	}
	ni := pi.NodeInstance(t.NodeInstanceKey)
	if ni == nil || !ni.State.IsLive() {
		return
	}
	exec.violateSLA(pi, ni)
}

// violateSLA marks the SLA of ni, or of the process when ni is nil, as VIOLATED.
func (exec *execution) violateSLA(pi *runtime.ProcessInstance, ni *runtime.NodeInstance) bool {
	record := &pi.SLA
	elementId := pi.ProcessId
	if ni != nil {
		record = &ni.SLA
		elementId = ni.NodeId
	}
	if record.Compliance != runtime.SLAPending {
		return false
	}
	if record.TimerKey != 0 {
		exec.engine.cancelTimer(record.TimerKey)
	}
	record.Compliance = runtime.SLAViolated
	exec.logger.Warn(fmt.Sprintf("SLA of %s in process instance %d violated, deadline was %s", elementId, pi.Key, record.Deadline.Format(time.RFC3339)))
	exec.engine.exportSLAViolationEvent(pi, ni, record.Deadline)
	if exec.engine.metrics != nil && exec.engine.metrics.SLAViolations != nil {
		exec.engine.metrics.SLAViolations.Add(exec.ctx, 1, metric.WithAttributes(
			attribute.String(otelPkg.AttributeProcessId, pi.ProcessId),
			attribute.String(otelPkg.AttributeElementId, elementId),
		))
	}
	return true
}

func isSLAViolationSignal(name string) bool {
	return name == SLAViolationSignal || strings.HasPrefix(name, SLAViolationSignal+":")
}

// signalSLAViolation handles an explicit violation. It counts 1 when a pending SLA was violated.
func (engine *Engine) signalSLAViolation(ctx context.Context, processInstanceKey int64, name string) (int, error) {
	var nodeInstanceKey int64
	if target := strings.TrimPrefix(name, SLAViolationSignal+":"); target != name {
		key, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return 0, newEngineErrorf("invalid node instance key in signal '%s'", name)
		}
		nodeInstanceKey = key
	}
	count := 0
	_, err := engine.execute(ctx, processInstanceKey, func(exec *execution, pi *runtime.ProcessInstance) error {
		if pi.State == runtime.ProcessStateSuspended {
			return ErrInstanceSuspended
		}
		var ni *runtime.NodeInstance
		if nodeInstanceKey != 0 {
			ni = pi.NodeInstance(nodeInstanceKey)
			if ni == nil || !ni.State.IsLive() {
				return nil
			}
		}
		if exec.violateSLA(pi, ni) {
			count = 1
		}
		return nil
	})
	return count, err
}
