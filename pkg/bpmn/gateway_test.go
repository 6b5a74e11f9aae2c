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

	"github.com/pbinitiative/zenengine/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
)

func exclusiveProcess(withDefault bool) *model.Builder {
	b := model.NewBuilder("exclusive")
	b.StartEvent("start")
	gw := b.Gateway(model.KindExclusiveGateway, "decide")
	b.ServiceTask("task-a", "a")
	b.ServiceTask("task-b", "b")
	b.Gateway(model.KindExclusiveGateway, "merge")
	b.EndEvent("end")
	b.Connect("start", "decide")
	b.Connect("decide", "task-a").Condition = "= price > 0"
	toB := b.Connect("decide", "task-b")
	if withDefault {
		gw.Default = toB.Id
	} else {
		toB.Condition = "= price < 0"
	}
	b.Connect("task-a", "merge")
	b.Connect("task-b", "merge")
	b.Connect("merge", "end")
	return b
}

func TestExclusiveGatewaySelectsMatchingConnection(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	cp := CallPath{}
	engine.register(t, exclusiveProcess(false))
	engine.NewTaskHandler().Id("task-a").Handler(cp.TaskHandler)
	engine.NewTaskHandler().Id("task-b").Handler(cp.TaskHandler)

	// when
	instance, err := engine.StartProcess(t.Context(), "exclusive", map[string]any{"price": -50})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, instance.State)
	assert.Equal(t, "task-b", cp.String())
}

func TestExclusiveGatewayTakesDefaultConnection(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	cp := CallPath{}
	engine.register(t, exclusiveProcess(true))
	engine.NewTaskHandler().Id("task-a").Handler(cp.TaskHandler)
	engine.NewTaskHandler().Id("task-b").Handler(cp.TaskHandler)

	// when
	instance, err := engine.StartProcess(t.Context(), "exclusive", map[string]any{"price": 0})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, instance.State)
	assert.Equal(t, "task-b", cp.String())
}

func TestExclusiveGatewayWithoutEnabledConnectionFails(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, exclusiveProcess(false))

	// when
	instance, err := engine.StartProcess(t.Context(), "exclusive", map[string]any{"price": 0})

	// then
	var fault *ExecutionFaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "decide", fault.NodeId)
	assert.Equal(t, runtime.ProcessStateError, instance.State)
}

func TestExclusiveGatewayEvaluatesConnectionsByPriority(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	cp := CallPath{}
	b := model.NewBuilder("priority")
	b.StartEvent("start")
	b.Gateway(model.KindExclusiveGateway, "decide")
	b.ServiceTask("task-a", "a")
	b.ServiceTask("task-b", "b")
	b.EndEvent("end-a")
	b.EndEvent("end-b")
	b.Connect("start", "decide")
	toA := b.Connect("decide", "task-a")
	toA.Condition = "true"
	toA.Priority = 2
	toB := b.Connect("decide", "task-b")
	toB.Condition = "true"
	toB.Priority = 1
	b.Connect("task-a", "end-a")
	b.Connect("task-b", "end-b")
	engine.register(t, b)
	engine.NewTaskHandler().Id("task-a").Handler(cp.TaskHandler)
	engine.NewTaskHandler().Id("task-b").Handler(cp.TaskHandler)

	// when
	_, err := engine.StartProcess(t.Context(), "priority", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, "task-b", cp.String())
}

func parallelProcess() *model.Builder {
	b := model.NewBuilder("parallel")
	b.StartEvent("start")
	b.Gateway(model.KindParallelGateway, "fork")
	b.ServiceTask("task-a", "a")
	b.ServiceTask("task-b", "b")
	b.Gateway(model.KindParallelGateway, "join")
	b.ServiceTask("after", "after")
	b.EndEvent("end")
	b.Connect("start", "fork")
	b.Connect("fork", "task-a")
	b.Connect("fork", "task-b")
	b.Connect("task-a", "join")
	b.Connect("task-b", "join")
	b.Chain("join", "after", "end")
	return b
}

func TestParallelGatewayJoinsBothBranches(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	cp := CallPath{}
	engine.register(t, parallelProcess())
	engine.NewTaskHandler().Id("task-a").Handler(cp.TaskHandler)
	engine.NewTaskHandler().Id("task-b").Handler(cp.TaskHandler)
	engine.NewTaskHandler().Id("after").Handler(cp.TaskHandler)

	// when
	instance, err := engine.StartProcess(t.Context(), "parallel", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, instance.State)
	assert.Equal(t, "task-a,task-b,after", cp.String())
}

func TestParallelJoinWaitsForEveryIncomingConnection(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	cp := CallPath{}
	engine.register(t, parallelProcess())
	engine.NewTaskHandler().Id("task-a").Handler(cp.TaskHandler)
	engine.NewTaskHandler().Id("after").Handler(cp.TaskHandler)

	// given
	instance, err := engine.StartProcess(t.Context(), "parallel", nil)
	require.NoError(t, err)
	assert.Equal(t, "task-a", cp.String())
	assert.ElementsMatch(t, []string{"task-b", "join"}, instance.ActiveNodeIds())

	// when
	items := engine.PendingWorkItems(instance.Key)
	require.Len(t, items, 1)
	require.NoError(t, engine.CompleteWorkItem(t.Context(), items[0].Key, nil))

	// then
	assert.Equal(t, "task-a,after", cp.String())
	assert.Equal(t, runtime.ProcessStateCompleted, engine.state(t, instance.Key))
}

func inclusiveProcess() *model.Builder {
	b := model.NewBuilder("inclusive")
	b.StartEvent("start")
	b.Gateway(model.KindInclusiveGateway, "fork")
	b.ServiceTask("ship", "ship")
	b.ServiceTask("invoice", "invoice")
	b.ServiceTask("gift", "gift")
	b.Gateway(model.KindInclusiveGateway, "join")
	b.ServiceTask("after", "after")
	b.EndEvent("end")
	b.Connect("start", "fork")
	b.Connect("fork", "ship").Condition = "= physical"
	b.Connect("fork", "invoice").Condition = "= amount > 0"
	b.Connect("fork", "gift").Condition = "= vip"
	b.Connect("ship", "join")
	b.Connect("invoice", "join")
	b.Connect("gift", "join")
	b.Chain("join", "after", "end")
	return b
}

func TestInclusiveGatewayJoinsTakenBranchesOnly(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	cp := CallPath{}
	engine.register(t, inclusiveProcess())
	engine.NewTaskHandler().Id("invoice").Handler(cp.TaskHandler)
	engine.NewTaskHandler().Id("gift").Handler(cp.TaskHandler)
	engine.NewTaskHandler().Id("after").Handler(cp.TaskHandler)
	variables := map[string]any{"physical": true, "amount": 10, "vip": false}

	// given
	instance, err := engine.StartProcess(t.Context(), "inclusive", variables)
	require.NoError(t, err)
	assert.Equal(t, "invoice", cp.String())
	assert.ElementsMatch(t, []string{"ship", "join"}, instance.ActiveNodeIds())

	// when
	items := engine.PendingWorkItems(instance.Key)
	require.Len(t, items, 1)
	assert.Equal(t, "ship", items[0].NodeId)
	require.NoError(t, engine.CompleteWorkItem(t.Context(), items[0].Key, nil))

	// then
	assert.Equal(t, "invoice,after", cp.String())
	assert.Equal(t, runtime.ProcessStateCompleted, engine.state(t, instance.Key))
}

func TestInclusiveGatewayWithSingleBranchFiresAtOnce(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	cp := CallPath{}
	engine.register(t, inclusiveProcess())
	engine.NewTaskHandler().Id("gift").Handler(cp.TaskHandler)
	engine.NewTaskHandler().Id("after").Handler(cp.TaskHandler)

	// when
	instance, err := engine.StartProcess(t.Context(), "inclusive", map[string]any{"physical": false, "amount": 0, "vip": true})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, instance.State)
	assert.Equal(t, "gift,after", cp.String())
}

func countOf(ids []string, id string) int {
	n := 0
	for _, v := range ids {
		if v == id {
			n++
		}
	}
	return n
}

// nestedInclusiveProcess feeds one inclusive join from an outer split and from a split nested in one
// of its branches.
func nestedInclusiveProcess() *model.Builder {
	b := model.NewBuilder("nested-inclusive")
	b.StartEvent("start")
	b.Gateway(model.KindInclusiveGateway, "outer")
	b.Gateway(model.KindInclusiveGateway, "inner")
	b.ServiceTask("task-a", "a")
	b.ServiceTask("task-b1", "b1")
	b.ServiceTask("task-b2", "b2")
	b.Gateway(model.KindInclusiveGateway, "join")
	b.ServiceTask("after", "after")
	b.EndEvent("end")
	b.Connect("start", "outer")
	b.Connect("outer", "task-a").Condition = "= a"
	b.Connect("outer", "inner").Condition = "= b"
	b.Connect("inner", "task-b1").Condition = "= b1"
	b.Connect("inner", "task-b2").Condition = "= b2"
	b.Connect("task-a", "join")
	b.Connect("task-b1", "join")
	b.Connect("task-b2", "join")
	b.Chain("join", "after", "end")
	return b
}

func TestInclusiveJoinWaitsForBranchesOfNestedSplit(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	cp := CallPath{}
	engine.register(t, nestedInclusiveProcess())
	engine.NewTaskHandler().Id("task-a").Handler(cp.TaskHandler)
	engine.NewTaskHandler().Id("task-b1").Handler(cp.TaskHandler)
	engine.NewTaskHandler().Id("after").Handler(cp.TaskHandler)

	// given
	instance, err := engine.StartProcess(t.Context(), "nested-inclusive", map[string]any{"a": true, "b": true, "b1": true, "b2": true})
	require.NoError(t, err)
	assert.Equal(t, 1, countOf(engine.exporter.elementEvents(exporter.ElementCompleted), "task-a"))
	assert.Equal(t, 1, countOf(engine.exporter.elementEvents(exporter.ElementCompleted), "task-b1"))
	assert.ElementsMatch(t, []string{"task-b2", "join"}, instance.ActiveNodeIds())
	assert.Zero(t, countOf(engine.exporter.elementEvents(exporter.ElementCompleted), "join"))

	// when
	items := engine.PendingWorkItems(instance.Key)
	require.Len(t, items, 1)
	assert.Equal(t, "task-b2", items[0].NodeId)
	require.NoError(t, engine.CompleteWorkItem(t.Context(), items[0].Key, nil))

	// then
	assert.Equal(t, runtime.ProcessStateCompleted, engine.state(t, instance.Key))
	assert.Equal(t, 1, countOf(engine.exporter.elementEvents(exporter.ElementCompleted), "join"))
	assert.Equal(t, 1, countOf(engine.exporter.elementEvents(exporter.ElementCompleted), "after"))
}

func TestInclusiveJoinOfNestedSplitIgnoresBranchesNotTaken(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	cp := CallPath{}
	engine.register(t, nestedInclusiveProcess())
	engine.NewTaskHandler().Id("task-a").Handler(cp.TaskHandler)
	engine.NewTaskHandler().Id("task-b1").Handler(cp.TaskHandler)
	engine.NewTaskHandler().Id("after").Handler(cp.TaskHandler)

	// when
	instance, err := engine.StartProcess(t.Context(), "nested-inclusive", map[string]any{"a": true, "b": true, "b1": true, "b2": false})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, instance.State)
	assert.Equal(t, 1, countOf(engine.exporter.elementEvents(exporter.ElementCompleted), "join"))
	assert.Equal(t, 1, countOf(engine.exporter.elementEvents(exporter.ElementCompleted), "after"))
	assert.NotContains(t, engine.exporter.elementEvents(exporter.ElementActivated), "task-b2")
}

// inclusiveLoopProcess runs an inclusive split and join three times. Branch "manual" has no handler
// and waits for CompleteWorkItem in every round.
func inclusiveLoopProcess() *model.Builder {
	b := model.NewBuilder("inclusive-loop")
	b.StartEvent("start")
	b.Gateway(model.KindExclusiveGateway, "entry")
	b.Gateway(model.KindInclusiveGateway, "fork")
	b.ServiceTask("auto", "auto")
	b.ServiceTask("manual", "manual")
	b.Gateway(model.KindInclusiveGateway, "join")
	b.ServiceTask("count", "count")
	again := b.Gateway(model.KindExclusiveGateway, "again")
	b.EndEvent("end")
	b.Chain("start", "entry", "fork")
	b.Connect("fork", "auto").Condition = "= true"
	b.Connect("fork", "manual").Condition = "= true"
	b.Connect("auto", "join")
	b.Connect("manual", "join")
	b.Chain("join", "count", "again")
	b.Connect("again", "entry").Condition = "= rounds < 3"
	again.Default = b.Connect("again", "end").Id
	return b
}

func TestInclusiveJoinInLoopFiresOncePerRound(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, inclusiveLoopProcess())
	rounds := 0
	engine.NewTaskHandler().Id("auto").Handler(func(job ActivatedJob) {
		job.Complete()
	})
	engine.NewTaskHandler().Id("count").Handler(func(job ActivatedJob) {
		rounds++
		job.SetOutputVariable("rounds", rounds)
		job.Complete()
	})
	instance, err := engine.StartProcess(t.Context(), "inclusive-loop", map[string]any{"rounds": 0})
	require.NoError(t, err)

	for round := 1; round <= 3; round++ {
		// given
		assert.Equal(t, round-1, countOf(engine.exporter.elementEvents(exporter.ElementCompleted), "join"))
		items := engine.PendingWorkItems(instance.Key)
		require.Len(t, items, 1)
		assert.Equal(t, "manual", items[0].NodeId)

		// when
		require.NoError(t, engine.CompleteWorkItem(t.Context(), items[0].Key, nil))

		// then
		assert.Equal(t, round, countOf(engine.exporter.elementEvents(exporter.ElementCompleted), "join"))
		assert.Equal(t, round, rounds)
	}
	assert.Equal(t, runtime.ProcessStateCompleted, engine.state(t, instance.Key))
	assert.Equal(t, 3, countOf(engine.exporter.elementEvents(exporter.ElementCompleted), "auto"))
	assert.Equal(t, 3, countOf(engine.exporter.elementEvents(exporter.ElementActivated), "join"))
}

func eventGatewayProcess() *model.Builder {
	b := model.NewBuilder("event-gateway")
	b.StartEvent("start")
	b.Gateway(model.KindEventBasedGateway, "wait")
	b.CatchEvent("paid", model.EventDefinition{Type: model.EventMessage, Ref: "payment", VariableName: "payment"})
	b.CatchEvent("timeout", model.EventDefinition{Type: model.EventTimer, TimerKind: model.TimerDuration, TimerExpression: "PT1H"})
	b.EndEvent("end-paid")
	b.EndEvent("end-timeout")
	b.Chain("start", "wait")
	b.Chain("wait", "paid", "end-paid")
	b.Chain("wait", "timeout", "end-timeout")
	return b
}

func TestEventBasedGatewayMessageWins(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, eventGatewayProcess())
	instance, err := engine.StartProcess(t.Context(), "event-gateway", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"wait"}, instance.ActiveNodeIds())
	timers := engine.Timers(instance.Key)
	require.Len(t, timers, 1)

	// when
	delivered, err := engine.SendMessage(t.Context(), "payment", 42, instance.Key)

	// then
	require.NoError(t, err)
	assert.True(t, delivered)
	ended := engine.instance(t, instance.Key)
	assert.Equal(t, runtime.ProcessStateCompleted, ended.State)
	assert.Contains(t, ended.CompletedNodes, "end-paid")
	assert.NotContains(t, ended.CompletedNodes, "end-timeout")
	assert.Equal(t, 42, ended.Variables.GetVariable("payment"))
	assert.Contains(t, engine.scheduler.cancelled, timers[0].Key)
	assert.Empty(t, engine.Timers(instance.Key))
}

func TestEventBasedGatewayTimerWins(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, eventGatewayProcess())
	instance, err := engine.StartProcess(t.Context(), "event-gateway", nil)
	require.NoError(t, err)
	pending := engine.scheduler.pending()
	require.Len(t, pending, 1)

	// when
	engine.scheduler.trigger(t.Context(), pending[0].Key)

	// then
	ended := engine.instance(t, instance.Key)
	assert.Equal(t, runtime.ProcessStateCompleted, ended.State)
	assert.Contains(t, ended.CompletedNodes, "end-timeout")
	delivered, err := engine.SendMessage(t.Context(), "payment", nil, instance.Key)
	require.NoError(t, err)
	assert.False(t, delivered)
}

func signalDecisionProcess() *model.Builder {
	b := model.NewBuilder("signal-decision")
	b.StartEvent("start")
	b.Gateway(model.KindEventBasedGateway, "decide")
	b.CatchEvent("yes", model.EventDefinition{Type: model.EventSignal, Ref: "Yes"})
	b.CatchEvent("no", model.EventDefinition{Type: model.EventSignal, Ref: "No"})
	b.ServiceTask("accepted", "accepted")
	b.ServiceTask("rejected", "rejected")
	b.EndEvent("end-yes")
	b.EndEvent("end-no")
	b.Chain("start", "decide")
	b.Chain("decide", "yes", "accepted", "end-yes")
	b.Chain("decide", "no", "rejected", "end-no")
	return b
}

func TestEventBasedGatewayIgnoresSignalOfBranchNotTaken(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, signalDecisionProcess())
	instance, err := engine.StartProcess(t.Context(), "signal-decision", nil)
	require.NoError(t, err)
	require.Len(t, engine.EventSubscriptions(instance.Key), 2)

	// given
	no, err := engine.SignalEvent(t.Context(), "No", nil)
	require.NoError(t, err)
	require.Equal(t, 1, no)
	afterNo := engine.instance(t, instance.Key)
	assert.Equal(t, []string{"rejected"}, afterNo.ActiveNodeIds())
	assert.Empty(t, engine.EventSubscriptions(instance.Key))

	// when
	yes, err := engine.SignalEvent(t.Context(), "Yes", nil)

	// then
	require.NoError(t, err)
	assert.Zero(t, yes)
	current := engine.instance(t, instance.Key)
	assert.Equal(t, runtime.ProcessStateActive, current.State)
	assert.Equal(t, []string{"rejected"}, current.ActiveNodeIds())
	assert.NotContains(t, current.CompletedNodes, "yes")
	assert.NotContains(t, engine.exporter.elementEvents(exporter.ElementActivated), "accepted")
	items := engine.PendingWorkItems(instance.Key)
	require.Len(t, items, 1)
	assert.Equal(t, "rejected", items[0].NodeId)
}
