// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
)

func callingProcess(independent bool) *model.Builder {
	b := model.NewBuilder("parent")
	b.StartEvent("start")
	call := b.CallActivity("call-child", "child")
	call.Independent = independent
	call.InputMappings = []model.Mapping{{Source: "amount", Target: "total"}}
	call.OutputMappings = []model.Mapping{{Source: "receipt", Target: "childReceipt"}}
	b.EndEvent("end")
	b.Chain("start", "call-child", "end")
	return b
}

func childProcess() *model.Builder {
	b := model.NewBuilder("child")
	b.StartEvent("child-start")
	b.ServiceTask("child-task", "child-work")
	b.EndEvent("child-end")
	b.Chain("child-start", "child-task", "child-end")
	return b
}

func TestCallActivityPassesMappedVariablesOnly(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, childProcess())
	engine.register(t, callingProcess(false))
	var childVariables map[string]any
	var childKey, parentKey int64
	engine.NewTaskHandler().Id("child-task").Handler(func(job ActivatedJob) {
		childVariables = job.GetLocalVariables()
		childKey = job.ProcessInstanceKey()
		job.SetOutputVariable("receipt", "R-1")
		job.Complete()
	})

	// when
	parent, err := engine.StartProcess(t.Context(), "parent", map[string]any{"amount": 10, "secret": "hidden"})
	parentKey = parent.Key

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, parent.State)
	assert.Equal(t, 10, childVariables["total"])
	assert.NotContains(t, childVariables, "secret")
	assert.Equal(t, "R-1", parent.Variables.GetVariable("childReceipt"))
	assert.Nil(t, parent.Variables.GetVariable("receipt"))
	child := engine.instance(t, childKey)
	assert.Equal(t, runtime.ProcessStateCompleted, child.State)
	assert.Equal(t, parentKey, child.ParentProcessInstanceKey)
}

func TestCallActivityUsesLatestVersionOfCalledProcess(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, childProcess())
	latest := engine.register(t, childProcess())
	engine.register(t, callingProcess(false))
	var versions []int32
	engine.NewTaskHandler().Id("child-task").Handler(func(job ActivatedJob) {
		versions = append(versions, job.ProcessDefinitionVersion())
		job.Complete()
	})

	// when
	_, err := engine.StartProcess(t.Context(), "parent", map[string]any{"amount": 1})

	// then
	require.NoError(t, err)
	assert.Equal(t, []int32{latest.Version}, versions)
}

func TestCallActivityOfUnknownProcessFails(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, callingProcess(false))

	// when
	parent, err := engine.StartProcess(t.Context(), "parent", map[string]any{"amount": 1})

	// then
	var fault *ExecutionFaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "call-child", fault.NodeId)
	assert.Equal(t, runtime.ProcessStateError, parent.State)
}

func TestChildFaultMovesParentToError(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, childProcess())
	engine.register(t, callingProcess(false))
	var childKey int64
	engine.NewTaskHandler().Id("child-task").Handler(func(job ActivatedJob) {
		childKey = job.ProcessInstanceKey()
	})
	parent, err := engine.StartProcess(t.Context(), "parent", map[string]any{"amount": 1})
	require.NoError(t, err)
	items := engine.PendingWorkItems(childKey)
	require.Len(t, items, 1)

	// when
	err = engine.FailWorkItem(t.Context(), items[0].Key, "child broke")

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateError, engine.state(t, childKey))
	failed := engine.instance(t, parent.Key)
	assert.Equal(t, runtime.ProcessStateError, failed.State)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "call-child", failed.Error.NodeId)
	assert.Contains(t, failed.Error.Message, "child broke")
}

func TestUncaughtChildErrorIsCaughtAtCallActivity(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	cp := CallPath{}
	engine.register(t, childProcess())
	b := callingProcess(false)
	b.BoundaryEvent("child-failed", "call-child", model.EventDefinition{Type: model.EventError, Ref: "REJECTED"}, true)
	b.ServiceTask("fallback", "fallback")
	b.EndEvent("end-fallback")
	b.Chain("child-failed", "fallback", "end-fallback")
	engine.register(t, b)
	var childKey int64
	engine.NewTaskHandler().Id("child-task").Handler(func(job ActivatedJob) {
		childKey = job.ProcessInstanceKey()
		job.ThrowError("REJECTED", "not allowed")
	})
	engine.NewTaskHandler().Id("fallback").Handler(cp.TaskHandler)

	// when
	parent, err := engine.StartProcess(t.Context(), "parent", map[string]any{"amount": 1})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, parent.State)
	assert.Equal(t, "fallback", cp.String())
	child := engine.instance(t, childKey)
	assert.Equal(t, runtime.ProcessStateAborted, child.State)
	assert.Equal(t, "REJECTED", child.Error.Code)
}

func TestAbortingParentAbortsChild(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, childProcess())
	engine.register(t, callingProcess(false))
	parent, err := engine.StartProcess(t.Context(), "parent", map[string]any{"amount": 1})
	require.NoError(t, err)
	items := engine.PendingWorkItems(0)
	require.Len(t, items, 1)
	childKey := items[0].ProcessInstanceKey

	// when
	require.NoError(t, engine.AbortProcessInstance(t.Context(), parent.Key))

	// then
	assert.Equal(t, runtime.ProcessStateAborted, engine.state(t, parent.Key))
	assert.Equal(t, runtime.ProcessStateAborted, engine.state(t, childKey))
	assert.Empty(t, engine.PendingWorkItems(0))
}

func TestAbortingChildAbortsWaitingParent(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, childProcess())
	engine.register(t, callingProcess(false))
	parent, err := engine.StartProcess(t.Context(), "parent", map[string]any{"amount": 1})
	require.NoError(t, err)
	items := engine.PendingWorkItems(0)
	require.Len(t, items, 1)

	// when
	require.NoError(t, engine.AbortProcessInstance(t.Context(), items[0].ProcessInstanceKey))

	// then
	assert.Equal(t, runtime.ProcessStateAborted, engine.state(t, items[0].ProcessInstanceKey))
	assert.Equal(t, runtime.ProcessStateAborted, engine.state(t, parent.Key))
}

func TestIndependentChildSurvivesParentAbort(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, childProcess())
	engine.register(t, callingProcess(true))
	parent, err := engine.StartProcess(t.Context(), "parent", map[string]any{"amount": 1})
	require.NoError(t, err)
	items := engine.PendingWorkItems(0)
	require.Len(t, items, 1)
	childKey := items[0].ProcessInstanceKey

	// when
	require.NoError(t, engine.AbortProcessInstance(t.Context(), parent.Key))

	// then
	assert.Equal(t, runtime.ProcessStateAborted, engine.state(t, parent.Key))
	assert.Equal(t, runtime.ProcessStateActive, engine.state(t, childKey))
}

func TestSubProcessOutputsAreWrittenToParentScope(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	b := model.NewBuilder("with-sub-process")
	b.StartEvent("start")
	sub := b.SubProcess("sub")
	sub.OutputMappings = []model.Mapping{{Source: "inner", Target: "outer"}}
	b.EndEvent("end")
	b.Chain("start", "sub", "end")
	inner := b.Within("sub")
	inner.StartEvent("sub-start")
	inner.ServiceTask("sub-task", "sub-work")
	inner.EndEvent("sub-end")
	inner.Chain("sub-start", "sub-task", "sub-end")
	engine.register(t, b)
	engine.NewTaskHandler().Id("sub-task").Handler(func(job ActivatedJob) {
		job.SetOutputVariable("inner", "value")
		job.Complete()
	})

	// when
	instance, err := engine.StartProcess(t.Context(), "with-sub-process", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, instance.State)
	assert.Equal(t, "value", instance.Variables.GetVariable("outer"))
	assert.Equal(t, []string{"start", "sub-start", "sub-task", "sub-end", "sub", "end"}, instance.CompletedNodes)
}
