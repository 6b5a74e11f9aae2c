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
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbinitiative/zenengine/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenengine/pkg/storage/inmemory"
)

type CallPath struct {
	mu       sync.Mutex
	CallPath string
}

func (callPath *CallPath) TaskHandler(job ActivatedJob) {
	callPath.record(job.ElementId())
	job.Complete()
}

func (callPath *CallPath) record(id string) {
	callPath.mu.Lock()
	defer callPath.mu.Unlock()
	if len(callPath.CallPath) > 0 {
		callPath.CallPath += ","
	}
	callPath.CallPath += id
}

func (callPath *CallPath) String() string {
	callPath.mu.Lock()
	defer callPath.mu.Unlock()
	return callPath.CallPath
}

// manualScheduler keeps timers until a test fires them.
type manualScheduler struct {
	mu        sync.Mutex
	scheduled map[int64]runtime.Timer
	cancelled []int64
	fire      ProcessTimerFunc
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{scheduled: map[int64]runtime.Timer{}}
}

func (s *manualScheduler) Schedule(timer runtime.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[timer.Key] = timer
}

func (s *manualScheduler) Cancel(timerKey int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, timerKey)
	s.cancelled = append(s.cancelled, timerKey)
}

func (s *manualScheduler) Start(fire ProcessTimerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fire = fire
}

func (s *manualScheduler) Stop() {}

func (s *manualScheduler) pending() []runtime.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]runtime.Timer, 0, len(s.scheduled))
	for _, t := range s.scheduled {
		res = append(res, t)
	}
	slices.SortFunc(res, func(a, b runtime.Timer) int {
		return a.DueAt.Compare(b.DueAt)
	})
	return res
}

// trigger hands a scheduled timer to the engine as if it was due.
func (s *manualScheduler) trigger(ctx context.Context, key int64) {
	s.mu.Lock()
	t, ok := s.scheduled[key]
	delete(s.scheduled, key)
	fire := s.fire
	s.mu.Unlock()
	if ok && fire != nil {
		fire(ctx, t)
	}
}

type recordingExporter struct {
	mu            sync.Mutex
	elements      []string
	ended         []string
	variables     []string
	slaViolations []string
}

func (e *recordingExporter) NewProcessEvent(event *exporter.ProcessEvent) {}

func (e *recordingExporter) EndProcessEvent(event *exporter.ProcessInstanceEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended = append(e.ended, event.State)
}

func (e *recordingExporter) NewProcessInstanceEvent(event *exporter.ProcessInstanceEvent) {}

func (e *recordingExporter) NewElementEvent(event *exporter.ProcessInstanceEvent, elementInfo *exporter.ElementInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.elements = append(e.elements, elementInfo.ElementId+":"+elementInfo.Intent)
}

func (e *recordingExporter) NewVariableEvent(event *exporter.ProcessInstanceEvent, variableInfo *exporter.VariableInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.variables = append(e.variables, variableInfo.Name)
}

func (e *recordingExporter) NewSLAViolationEvent(event *exporter.ProcessInstanceEvent, slaInfo *exporter.SLAInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.slaViolations = append(e.slaViolations, slaInfo.ElementId)
}

func (e *recordingExporter) elementEvents(intent exporter.Intent) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var res []string
	for _, ev := range e.elements {
		if id, ok := strings.CutSuffix(ev, ":"+string(intent)); ok {
			res = append(res, id)
		}
	}
	return res
}

type testEngine struct {
	*Engine
	scheduler *manualScheduler
	exporter  *recordingExporter
}

func newTestEngine(t *testing.T, options ...EngineOption) testEngine {
	t.Helper()
	scheduler := newManualScheduler()
	exp := &recordingExporter{}
	options = append([]EngineOption{
		EngineWithStorage(inmemory.NewStorage()),
		EngineWithScheduler(scheduler),
		EngineWithExporter(exp),
		EngineWithLogger(hclog.NewNullLogger()),
	}, options...)
	engine := NewEngine(options...)
	engine.Start()
	t.Cleanup(engine.Stop)
	return testEngine{Engine: engine, scheduler: scheduler, exporter: exp}
}

func (te testEngine) register(t *testing.T, b *model.Builder) runtime.ProcessDefinition {
	t.Helper()
	def, err := b.Build(model.BuildOptions{MultiConnection: te.multiConnection})
	require.NoError(t, err)
	process, err := te.RegisterProcess(t.Context(), def)
	require.NoError(t, err)
	return process
}

func (te testEngine) state(t *testing.T, key int64) runtime.ProcessState {
	t.Helper()
	state, err := te.ProcessInstanceState(t.Context(), key)
	require.NoError(t, err)
	return state
}

func (te testEngine) instance(t *testing.T, key int64) runtime.ProcessInstance {
	t.Helper()
	instance, err := te.FindProcessInstance(t.Context(), key)
	require.NoError(t, err)
	return instance
}

func simpleTaskProcess(processId string) *model.Builder {
	b := model.NewBuilder(processId)
	b.StartEvent("start")
	b.ServiceTask("task", "work")
	b.EndEvent("end")
	b.Chain("start", "task", "end")
	return b
}

func TestRegisterProcessIncrementsVersion(t *testing.T) {
	// setup
	engine := newTestEngine(t)

	// when
	v1 := engine.register(t, simpleTaskProcess("simple"))
	v2 := engine.register(t, simpleTaskProcess("simple"))

	// then
	assert.Equal(t, int32(1), v1.Version)
	assert.Equal(t, int32(2), v2.Version)
	assert.NotEqual(t, v1.Key, v2.Key)
	versions, err := engine.FindProcessesById(t.Context(), "simple")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func fanOutTaskProcess() *model.Builder {
	b := model.NewBuilder("fan-out")
	b.StartEvent("start")
	b.ServiceTask("task", "work")
	b.ServiceTask("left", "work")
	b.ServiceTask("right", "work")
	b.EndEvent("end-left")
	b.EndEvent("end-right")
	b.Connect("start", "task")
	b.Chain("task", "left", "end-left")
	b.Chain("task", "right", "end-right")
	return b
}

func TestTaskWithSeveralOutgoingConnectionsEnablesAll(t *testing.T) {
	// setup
	engine := newTestEngine(t, EngineWithMultiConnection(true))
	cp := CallPath{}
	engine.register(t, fanOutTaskProcess())
	engine.NewTaskHandler().Type("work").Handler(cp.TaskHandler)

	// when
	instance, err := engine.StartProcess(t.Context(), "fan-out", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, instance.State)
	assert.ElementsMatch(t, []string{"task", "left", "right"}, strings.Split(cp.String(), ","))
	assert.Contains(t, instance.CompletedNodes, "end-left")
	assert.Contains(t, instance.CompletedNodes, "end-right")
}

func TestRegisterProcessRejectsMultiConnectionWhenEngineDisallowsIt(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	fanOut, err := fanOutTaskProcess().Build(model.BuildOptions{MultiConnection: true})
	require.NoError(t, err)
	simple, err := simpleTaskProcess("simple").Build(model.BuildOptions{MultiConnection: true})
	require.NoError(t, err)

	// when
	_, fanOutErr := engine.RegisterProcess(t.Context(), fanOut)
	_, simpleErr := engine.RegisterProcess(t.Context(), simple)

	// then
	var engineErr *BpmnEngineError
	require.ErrorAs(t, fanOutErr, &engineErr)
	var validationErr *model.ValidationError
	require.ErrorAs(t, fanOutErr, &validationErr)
	assert.Equal(t, "task", validationErr.ElementId)
	versions, err := engine.FindProcessesById(t.Context(), "fan-out")
	require.NoError(t, err)
	assert.Empty(t, versions)
	assert.NoError(t, simpleErr)
}

func TestStartProcessUsesLatestVersion(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, simpleTaskProcess("simple"))
	latest := engine.register(t, simpleTaskProcess("simple"))

	// when
	instance, err := engine.StartProcess(t.Context(), "simple", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, latest.Key, instance.ProcessDefinitionKey)
	assert.Equal(t, int32(2), instance.ProcessVersion)
}

func TestStartProcessOfUnknownIdFails(t *testing.T) {
	// setup
	engine := newTestEngine(t)

	// when
	_, err := engine.StartProcess(t.Context(), "missing", nil)

	// then
	var engineErr *BpmnEngineError
	assert.ErrorAs(t, err, &engineErr)
}

func TestSimpleTaskCompletesThroughHandler(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	cp := CallPath{}
	engine.register(t, simpleTaskProcess("simple"))
	engine.NewTaskHandler().Type("work").Handler(cp.TaskHandler)

	// when
	instance, err := engine.StartProcess(t.Context(), "simple", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, instance.State)
	assert.Equal(t, "task", cp.String())
	assert.Equal(t, []string{"start", "task", "end"}, instance.CompletedNodes)
	assert.Empty(t, instance.ActiveNodeIds())
	assert.False(t, instance.EndedAt.IsZero())
	assert.Equal(t, []string{"COMPLETED"}, engine.exporter.ended)
}

func TestTaskWithoutHandlerWaitsForCompleteWorkItem(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	b := simpleTaskProcess("simple")
	engine.register(t, b)

	// given
	instance, err := engine.StartProcess(t.Context(), "simple", map[string]any{"orderId": "A-1"})
	require.NoError(t, err)
	require.Equal(t, runtime.ProcessStateActive, instance.State)
	assert.Equal(t, []string{"task"}, instance.ActiveNodeIds())
	items := engine.PendingWorkItems(instance.Key)
	require.Len(t, items, 1)
	assert.Equal(t, "work", items[0].TaskType)
	assert.Equal(t, runtime.WorkItemActive, items[0].State)

	// when
	err = engine.CompleteWorkItem(t.Context(), items[0].Key, map[string]any{"approved": true})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, engine.state(t, instance.Key))
	approved, err := engine.GetVariable(t.Context(), instance.Key, "approved")
	require.NoError(t, err)
	assert.Equal(t, true, approved)
	assert.Empty(t, engine.PendingWorkItems(instance.Key))
}

func TestCompleteUnknownWorkItemFails(t *testing.T) {
	// setup
	engine := newTestEngine(t)

	// when
	err := engine.CompleteWorkItem(t.Context(), 42, nil)

	// then
	assert.ErrorIs(t, err, ErrWorkItemNotFound)
}

func TestCreateInstanceIsPendingUntilStarted(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	cp := CallPath{}
	engine.register(t, simpleTaskProcess("simple"))
	engine.NewTaskHandler().Id("task").Handler(cp.TaskHandler)

	// given
	created, err := engine.CreateInstance(t.Context(), "simple", nil)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStatePending, created.State)
	assert.Empty(t, cp.String())

	// when
	require.NoError(t, engine.SetVariable(t.Context(), created.Key, "customer", "ACME"))
	started, err := engine.StartInstance(t.Context(), created.Key)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, started.State)
	assert.Equal(t, "ACME", started.Variables.GetVariable("customer"))
	assert.Equal(t, "task", cp.String())
}

func TestStartInstanceTwiceFails(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, simpleTaskProcess("simple"))
	instance, err := engine.StartProcess(t.Context(), "simple", nil)
	require.NoError(t, err)

	// when
	_, err = engine.StartInstance(t.Context(), instance.Key)

	// then
	var engineErr *BpmnEngineError
	assert.ErrorAs(t, err, &engineErr)
}

func TestAbortProcessInstanceCancelsWorkItems(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	aborted := make([]int64, 0)
	engine.register(t, simpleTaskProcess("simple"))
	engine.NewTaskHandler().Id("task").Handler(func(job ActivatedJob) {}).OnAbort(func(job ActivatedJob) {
		aborted = append(aborted, job.Key())
	})
	instance, err := engine.StartProcess(t.Context(), "simple", nil)
	require.NoError(t, err)
	items := engine.PendingWorkItems(instance.Key)
	require.Len(t, items, 1)

	// when
	err = engine.AbortProcessInstance(t.Context(), instance.Key)

	// then
	require.NoError(t, err)
	ended := engine.instance(t, instance.Key)
	assert.Equal(t, runtime.ProcessStateAborted, ended.State)
	assert.Empty(t, ended.ActiveNodeIds())
	assert.Equal(t, []int64{items[0].Key}, aborted)
	assert.Empty(t, engine.PendingWorkItems(instance.Key))
	assert.Contains(t, engine.exporter.elementEvents(exporter.ElementCancelled), "task")
}

func TestAbortEndedInstanceIsNoop(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	cp := CallPath{}
	engine.register(t, simpleTaskProcess("simple"))
	engine.NewTaskHandler().Id("task").Handler(cp.TaskHandler)
	instance, err := engine.StartProcess(t.Context(), "simple", nil)
	require.NoError(t, err)

	// when
	err = engine.AbortProcessInstance(t.Context(), instance.Key)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, engine.state(t, instance.Key))
}

func TestOperationsOnUnknownInstance(t *testing.T) {
	// setup
	engine := newTestEngine(t)

	// when
	_, findErr := engine.FindProcessInstance(t.Context(), 12345)
	abortErr := engine.AbortProcessInstance(t.Context(), 12345)
	setErr := engine.SetVariable(t.Context(), 12345, "x", 1)

	// then
	assert.ErrorIs(t, findErr, ErrInstanceNotFound)
	assert.ErrorIs(t, abortErr, ErrInstanceNotFound)
	assert.ErrorIs(t, setErr, ErrInstanceNotFound)
}

func TestSetVariableOnEndedInstanceFails(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, simpleTaskProcess("simple"))
	engine.NewTaskHandler().Id("task").Handler(func(job ActivatedJob) { job.Complete() })
	instance, err := engine.StartProcess(t.Context(), "simple", nil)
	require.NoError(t, err)

	// when
	err = engine.SetVariable(t.Context(), instance.Key, "x", 1)

	// then
	assert.ErrorIs(t, err, ErrInstanceTerminated)
}

func TestEndedInstanceIsPersisted(t *testing.T) {
	// setup
	store := inmemory.NewStorage()
	engine := newTestEngine(t, EngineWithStorage(store), EngineWithCompletedCacheSize(1))
	engine.register(t, simpleTaskProcess("simple"))
	engine.NewTaskHandler().Id("task").Handler(func(job ActivatedJob) { job.Complete() })

	// given
	first, err := engine.StartProcess(t.Context(), "simple", nil)
	require.NoError(t, err)
	_, err = engine.StartProcess(t.Context(), "simple", nil)
	require.NoError(t, err)

	// when
	stored, err := store.FindProcessInstanceByKey(t.Context(), first.Key)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, stored.State)
	assert.Equal(t, runtime.ProcessStateCompleted, engine.state(t, first.Key))
}

func TestSuspendedInstanceRejectsWorkItemCompletion(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, simpleTaskProcess("simple"))
	instance, err := engine.StartProcess(t.Context(), "simple", nil)
	require.NoError(t, err)
	items := engine.PendingWorkItems(instance.Key)
	require.Len(t, items, 1)

	// given
	require.NoError(t, engine.SuspendProcessInstance(t.Context(), instance.Key))
	require.NoError(t, engine.SuspendProcessInstance(t.Context(), instance.Key))
	assert.Equal(t, runtime.ProcessStateSuspended, engine.state(t, instance.Key))

	// when
	err = engine.CompleteWorkItem(t.Context(), items[0].Key, nil)

	// then
	assert.ErrorIs(t, err, ErrInstanceSuspended)
	require.NoError(t, engine.ResumeProcessInstance(t.Context(), instance.Key))
	require.NoError(t, engine.CompleteWorkItem(t.Context(), items[0].Key, nil))
	assert.Equal(t, runtime.ProcessStateCompleted, engine.state(t, instance.Key))
}

func TestResumeOfEndedInstanceFails(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, simpleTaskProcess("simple"))
	instance, err := engine.StartProcess(t.Context(), "simple", nil)
	require.NoError(t, err)
	require.NoError(t, engine.AbortProcessInstance(t.Context(), instance.Key))

	// when
	err = engine.ResumeProcessInstance(t.Context(), instance.Key)

	// then
	assert.ErrorIs(t, err, ErrInstanceTerminated)
}

func TestHandlerPanicMovesInstanceToError(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, simpleTaskProcess("simple"))
	engine.NewTaskHandler().Id("task").Handler(func(job ActivatedJob) {
		panic("boom")
	})

	// when
	instance, err := engine.StartProcess(t.Context(), "simple", nil)

	// then
	var fault *ExecutionFaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, instance.Key, fault.ProcessInstanceKey)
	assert.Equal(t, "task", fault.NodeId)
	assert.Equal(t, runtime.ProcessStateError, instance.State)
	require.NotNil(t, instance.Error)
	assert.Contains(t, instance.Error.Message, "boom")
	assert.Equal(t, "task", instance.Error.NodeId)
}

func TestJobFailMovesInstanceToError(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, simpleTaskProcess("simple"))
	engine.NewTaskHandler().Id("task").Handler(func(job ActivatedJob) {
		job.Fail("no stock")
	})

	// when
	instance, err := engine.StartProcess(t.Context(), "simple", nil)

	// then
	var fault *ExecutionFaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, runtime.ProcessStateError, instance.State)
	assert.Contains(t, instance.Error.Message, "no stock")
}

func TestJobCompletedAfterHandlerReturned(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, simpleTaskProcess("simple"))
	var pending ActivatedJob
	engine.NewTaskHandler().Id("task").Handler(func(job ActivatedJob) {
		pending = job
	})
	instance, err := engine.StartProcess(t.Context(), "simple", nil)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, runtime.ProcessStateActive, instance.State)

	// when
	pending.SetOutputVariable("result", "done")
	pending.Complete()

	// then
	assert.Equal(t, runtime.ProcessStateCompleted, engine.state(t, instance.Key))
	result, err := engine.GetVariable(t.Context(), instance.Key, "result")
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestTaskParametersAndMappings(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	b := model.NewBuilder("mapping")
	b.StartEvent("start")
	task := b.ServiceTask("task", "price")
	task.Parameters = map[string]any{"currency": "EUR", "isVip": "=customer = \"vip\""}
	task.InputMappings = []model.Mapping{{Source: "customer", Target: "who"}}
	task.OutputMappings = []model.Mapping{{Source: "total", Target: "orderTotal"}}
	b.EndEvent("end")
	b.Chain("start", "task", "end")
	engine.register(t, b)

	var currency, who, isVip any
	engine.NewTaskHandler().Type("price").Handler(func(job ActivatedJob) {
		currency = job.Parameter("currency")
		isVip = job.Parameter("isVip")
		who = job.Variable("who")
		job.SetOutputVariable("total", 100)
		job.SetOutputVariable("ignored", true)
		job.Complete()
	})

	// when
	instance, err := engine.StartProcess(t.Context(), "mapping", map[string]any{"customer": "vip"})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, instance.State)
	assert.Equal(t, "EUR", currency)
	assert.Equal(t, true, isVip)
	assert.Equal(t, "vip", who)
	assert.Equal(t, 100, instance.Variables.GetVariable("orderTotal"))
	assert.Nil(t, instance.Variables.GetVariable("ignored"))
	assert.Nil(t, instance.Variables.GetVariable("who"))
}

func TestUserTaskHandlersByAssigneeAndCandidateGroup(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	b := model.NewBuilder("approval")
	b.StartEvent("start")
	b.UserTask("review").Parameters = map[string]any{AssigneeParameter: "john"}
	b.UserTask("sign").Parameters = map[string]any{CandidateGroupsParameter: "legal, board"}
	b.EndEvent("end")
	b.Chain("start", "review", "sign", "end")
	engine.register(t, b)
	cp := CallPath{}
	engine.NewTaskHandler().Assignee("john").Handler(cp.TaskHandler)
	engine.NewTaskHandler().CandidateGroups("board").Handler(cp.TaskHandler)

	// when
	instance, err := engine.StartProcess(t.Context(), "approval", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, instance.State)
	assert.Equal(t, "review,sign", cp.String())
}

func TestRemovedHandlerIsNotCalled(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	cp := CallPath{}
	engine.register(t, simpleTaskProcess("simple"))
	handler := engine.NewTaskHandler().Id("task").Handler(cp.TaskHandler)

	// when
	engine.RemoveHandler(handler)
	instance, err := engine.StartProcess(t.Context(), "simple", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateActive, instance.State)
	assert.Empty(t, cp.String())
}

func TestExporterReceivesElementLifecycle(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, simpleTaskProcess("simple"))
	engine.NewTaskHandler().Id("task").Handler(func(job ActivatedJob) {
		job.SetOutputVariable("x", 1)
		job.Complete()
	})

	// when
	_, err := engine.StartProcess(t.Context(), "simple", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "task", "end"}, engine.exporter.elementEvents(exporter.ElementCompleted))
	assert.Equal(t, []string{"start", "task", "end"}, engine.exporter.elementEvents(exporter.ElementActivated))
	assert.Len(t, engine.exporter.elementEvents(exporter.SequenceFlowTaken), 2)
	assert.Contains(t, engine.exporter.variables, "x")
}

func TestStrictVariablesRejectWrongType(t *testing.T) {
	// setup
	engine := newTestEngine(t, EngineWithStrictVariables(true))
	b := simpleTaskProcess("typed")
	b.Variable("amount", "integer", 0)
	engine.register(t, b)

	// when
	_, err := engine.StartProcess(t.Context(), "typed", map[string]any{"amount": "ten"})

	// then
	var typeErr *runtime.VariableTypeError
	assert.True(t, errors.As(err, &typeErr))
}
