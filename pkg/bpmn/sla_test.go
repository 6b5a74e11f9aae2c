// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
)

func slaTimers(timers []runtime.Timer) []runtime.Timer {
	var res []runtime.Timer
	for _, t := range timers {
		if t.Purpose == runtime.TimerForSLA {
			res = append(res, t)
		}
	}
	return res
}

func TestProcessWithoutSLAIsNotApplicable(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, simpleTaskProcess("no-sla"))

	// when
	instance, err := engine.StartProcess(t.Context(), "no-sla", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.SLANotApplicable, instance.SLA.Compliance)
	assert.Empty(t, slaTimers(engine.Timers(instance.Key)))
}

func TestProcessSLAIsMetWhenCompletedInTime(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, simpleTaskProcess("with-sla").SLA("PT1H"))
	before := time.Now()
	instance, err := engine.StartProcess(t.Context(), "with-sla", nil)
	require.NoError(t, err)
	require.Equal(t, runtime.SLAPending, instance.SLA.Compliance)
	assert.WithinDuration(t, before.Add(time.Hour), instance.SLA.Deadline, time.Minute)
	timers := slaTimers(engine.Timers(instance.Key))
	require.Len(t, timers, 1)

	// when
	items := engine.PendingWorkItems(instance.Key)
	require.Len(t, items, 1)
	require.NoError(t, engine.CompleteWorkItem(t.Context(), items[0].Key, nil))

	// then
	ended := engine.instance(t, instance.Key)
	assert.Equal(t, runtime.SLAMet, ended.SLA.Compliance)
	assert.Contains(t, engine.scheduler.cancelled, timers[0].Key)
	assert.Empty(t, engine.exporter.slaViolations)
}

func TestProcessSLAIsViolatedWhenDeadlinePasses(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, simpleTaskProcess("with-sla").SLA("PT1H"))
	instance, err := engine.StartProcess(t.Context(), "with-sla", nil)
	require.NoError(t, err)
	timers := slaTimers(engine.Timers(instance.Key))
	require.Len(t, timers, 1)

	// when
	engine.scheduler.trigger(t.Context(), timers[0].Key)

	// then
	current := engine.instance(t, instance.Key)
	assert.Equal(t, runtime.ProcessStateActive, current.State)
	assert.Equal(t, runtime.SLAViolated, current.SLA.Compliance)
	assert.Equal(t, []string{""}, engine.exporter.slaViolations)

	// a violated SLA stays violated
	items := engine.PendingWorkItems(instance.Key)
	require.Len(t, items, 1)
	require.NoError(t, engine.CompleteWorkItem(t.Context(), items[0].Key, nil))
	assert.Equal(t, runtime.SLAViolated, engine.instance(t, instance.Key).SLA.Compliance)
}

func TestProcessSLAIsAbortedWithInstance(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, simpleTaskProcess("with-sla").SLA("PT1H"))
	instance, err := engine.StartProcess(t.Context(), "with-sla", nil)
	require.NoError(t, err)

	// when
	require.NoError(t, engine.AbortProcessInstance(t.Context(), instance.Key))

	// then
	ended := engine.instance(t, instance.Key)
	assert.Equal(t, runtime.ProcessStateAborted, ended.State)
	assert.Equal(t, runtime.SLAAborted, ended.SLA.Compliance)
}

func TestSLAViolationSignal(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, simpleTaskProcess("with-sla").SLA("PT1H"))
	instance, err := engine.StartProcess(t.Context(), "with-sla", nil)
	require.NoError(t, err)

	// when
	first, err := engine.SignalEventOnInstance(t.Context(), instance.Key, SLAViolationSignal, nil)
	require.NoError(t, err)
	second, err := engine.SignalEventOnInstance(t.Context(), instance.Key, SLAViolationSignal, nil)
	require.NoError(t, err)

	// then
	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)
	assert.Equal(t, runtime.SLAViolated, engine.instance(t, instance.Key).SLA.Compliance)
	assert.Empty(t, slaTimers(engine.Timers(instance.Key)))
}

func TestNodeSLAIsTrackedPerNodeInstance(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	b := model.NewBuilder("node-sla")
	b.StartEvent("start")
	b.ServiceTask("task", "work")
	b.ServiceTask("task-with-sla", "work").SLA = "PT30M"
	b.EndEvent("end")
	b.Chain("start", "task", "task-with-sla", "end")
	engine.register(t, b)
	instance, err := engine.StartProcess(t.Context(), "node-sla", nil)
	require.NoError(t, err)
	items := engine.PendingWorkItems(instance.Key)
	require.Len(t, items, 1)
	require.NoError(t, engine.CompleteWorkItem(t.Context(), items[0].Key, nil))
	items = engine.PendingWorkItems(instance.Key)
	require.Len(t, items, 1)
	waiting := engine.instance(t, instance.Key)
	ni := waiting.NodeInstance(items[0].NodeInstanceKey)
	require.NotNil(t, ni)
	require.Equal(t, runtime.SLAPending, ni.SLA.Compliance)

	// when
	count, err := engine.SignalEventOnInstance(t.Context(), instance.Key, fmt.Sprintf("%s:%d", SLAViolationSignal, ni.Key), nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"task-with-sla"}, engine.exporter.slaViolations)
	current := engine.instance(t, instance.Key)
	assert.Equal(t, runtime.SLAViolated, current.NodeInstance(ni.Key).SLA.Compliance)
	assert.Equal(t, runtime.SLANotApplicable, current.SLA.Compliance)
}

func TestSLAViolationSignalWithInvalidKeyFails(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, simpleTaskProcess("with-sla").SLA("PT1H"))
	instance, err := engine.StartProcess(t.Context(), "with-sla", nil)
	require.NoError(t, err)

	// when
	_, err = engine.SignalEventOnInstance(t.Context(), instance.Key, SLAViolationSignal+":abc", nil)

	// then
	var engineErr *BpmnEngineError
	assert.ErrorAs(t, err, &engineErr)
}
