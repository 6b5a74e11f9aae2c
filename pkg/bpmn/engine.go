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
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pbinitiative/zenengine/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenengine/pkg/otel"
	"github.com/pbinitiative/zenengine/pkg/rules"
	"github.com/pbinitiative/zenengine/pkg/script"
	"github.com/pbinitiative/zenengine/pkg/script/js"
	"github.com/pbinitiative/zenengine/pkg/storage"
	"github.com/pbinitiative/zenengine/pkg/storage/inmemory"
)

const defaultCompletedCacheSize = 1000

type Engine struct {
	name           string
	taskHandlers   []*taskHandler
	taskhandlersMu *sync.RWMutex
	exporters      []exporter.EventExporter
	snowflake      *snowflake.Node
	persistence    storage.Storage
	scheduler      Scheduler
	ruleSession    *rules.Session
	scriptRuntime  script.ScriptRuntime
	logger         hclog.Logger
	tracer         trace.Tracer
	meter          metric.Meter
	metrics        *otelPkg.EngineMetrics

	multiConnection    bool
	strictVariables    bool
	ruleFireLimit      int
	completedCacheSize int

	// mu guards instances, workItems and timers. It is never held while waiting for an instance lock.
	mu        *sync.RWMutex
	instances map[int64]*runtime.ProcessInstance
	workItems map[int64]*runtime.WorkItem
	timers    map[int64]runtime.Timer
	completed *lru.Cache[int64, runtime.ProcessInstance]

	registry         *eventRegistry
	runningInstances *RunningInstancesCache
	registerMu       *sync.Mutex
	conditionsDirty  atomic.Bool
	// executions counts runs of execute that have not reached afterExecution yet.
	executions atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates a new instance of the BPMN Engine;
func NewEngine(options ...EngineOption) *Engine {
	name := fmt.Sprintf("Bpmn-Engine-%d", getGlobalSnowflakeIdGenerator().Generate().Int64())
	ctx, cancel := context.WithCancel(context.Background())
	engine := &Engine{
		name:               name,
		taskHandlers:       []*taskHandler{},
		taskhandlersMu:     &sync.RWMutex{},
		snowflake:          getGlobalSnowflakeIdGenerator(),
		exporters:          []exporter.EventExporter{},
		completedCacheSize: defaultCompletedCacheSize,
		ruleFireLimit:      rules.DefaultFireLimit,
		mu:                 &sync.RWMutex{},
		instances:          map[int64]*runtime.ProcessInstance{},
		workItems:          map[int64]*runtime.WorkItem{},
		timers:             map[int64]runtime.Timer{},
		registry:           newEventRegistry(),
		runningInstances:   newRunningInstancesCache(),
		registerMu:         &sync.Mutex{},
		ctx:                ctx,
		cancel:             cancel,
	}

	for _, option := range options {
		option(engine)
	}

	if engine.logger == nil {
		engine.logger = hclog.Default().Named("engine")
	}
	if engine.persistence == nil {
		engine.persistence = inmemory.NewStorage()
	}
	if engine.scheduler == nil {
		engine.scheduler = newTimerManager()
	}
	if engine.ruleSession == nil {
		engine.ruleSession = rules.NewSession(
			rules.WithFireLimit(engine.ruleFireLimit),
			rules.WithLogger(engine.logger.Named("rules")),
		)
	}
	if engine.scriptRuntime == nil {
		engine.scriptRuntime = js.NewJsRuntime(ctx, 10, 1)
	}
	if engine.tracer == nil {
		engine.tracer = otel.GetTracerProvider().Tracer("zenengine-bpmn")
	}
	if engine.meter == nil {
		engine.meter = otel.GetMeterProvider().Meter("zenengine-bpmn")
	}
	metrics, err := otelPkg.NewMetrics(engine.meter)
	if err != nil {
		engine.logger.Error(fmt.Sprintf("failed to create engine metrics: %s", err))
	}
	if metrics == nil {
		metrics = &otelPkg.EngineMetrics{}
	}
	engine.metrics = metrics
	engine.completed, err = lru.New[int64, runtime.ProcessInstance](engine.completedCacheSize)
	if err != nil {
		engine.completed, _ = lru.New[int64, runtime.ProcessInstance](defaultCompletedCacheSize)
	}
	engine.ruleSession.OnChange(func() {
		engine.conditionsDirty.Store(true)
	})

	return engine
}

// Start arms the timer scheduler. Timers scheduled before Start fire once it runs.
func (engine *Engine) Start() {
	engine.scheduler.Start(engine.processTimer)
}

// Stop stops the timer scheduler and releases background resources.
func (engine *Engine) Stop() {
	engine.scheduler.Stop()
	engine.cancel()
}

// Name returns the name of the engine, only useful in case you control multiple ones
func (engine *Engine) Name() string {
	return engine.name
}

// RuleSession exposes the working memory shared by business rule tasks and conditional events.
func (engine *Engine) RuleSession() *rules.Session {
	return engine.ruleSession
}

func (engine *Engine) liveInstance(key int64) *runtime.ProcessInstance {
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	return engine.instances[key]
}

func (engine *Engine) addInstance(pi *runtime.ProcessInstance) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	engine.instances[pi.Key] = pi
}

// retireInstance moves an instance that reached a terminal state out of the live set.
func (engine *Engine) retireInstance(ctx context.Context, pi *runtime.ProcessInstance) {
	snapshot := pi.Snapshot()
	engine.mu.Lock()
	delete(engine.instances, pi.Key)
	engine.mu.Unlock()
	engine.completed.Add(pi.Key, snapshot)
	if err := engine.persistence.SaveProcessInstance(ctx, snapshot); err != nil {
		engine.logger.Error(fmt.Sprintf("failed to persist process instance %d: %s", pi.Key, err))
	}
}

// notLiveError distinguishes instances that ended from keys the engine never saw.
func (engine *Engine) notLiveError(ctx context.Context, key int64) error {
	if _, ok := engine.completed.Get(key); ok {
		return ErrInstanceTerminated
	}
	if _, err := engine.persistence.FindProcessInstanceByKey(ctx, key); err == nil {
		return ErrInstanceTerminated
	}
	return fmt.Errorf("%w: %d", ErrInstanceNotFound, key)
}

// execute runs fn against a live instance while holding the lock of its family, then lets the
// instance run until it cannot advance any more. The returned snapshot reflects the state after
// the run.
func (engine *Engine) execute(ctx context.Context, key int64, fn func(exec *execution, pi *runtime.ProcessInstance) error) (runtime.ProcessInstance, error) {
	pi := engine.liveInstance(key)
	if pi == nil {
		return runtime.ProcessInstance{}, engine.notLiveError(ctx, key)
	}
	exec := newExecution(ctx, engine)
	engine.executions.Add(1)
	snapshot, err := func() (runtime.ProcessInstance, error) {
		unlock := engine.runningInstances.lockInstance(pi.RootProcessInstanceKey)
		defer unlock()
		if pi.State.IsTerminal() {
			return pi.Snapshot(), ErrInstanceTerminated
		}
		exec.touch(pi)
		err := fn(exec, pi)
		exec.run()
		return pi.Snapshot(), err
	}()
	engine.executions.Add(-1)
	engine.afterExecution(ctx, exec)
	return snapshot, err
}

// inspect gives read access to a live instance without advancing it.
func (engine *Engine) inspect(ctx context.Context, key int64, fn func(pi *runtime.ProcessInstance)) error {
	pi := engine.liveInstance(key)
	if pi == nil {
		return engine.notLiveError(ctx, key)
	}
	unlock := engine.runningInstances.lockInstance(pi.RootProcessInstanceKey)
	defer unlock()
	fn(pi)
	return nil
}

// afterExecution delivers what the execution threw to other instances. It runs without any
// instance lock held.
func (engine *Engine) afterExecution(ctx context.Context, exec *execution) {
	for _, ev := range exec.thrown {
		var err error
		switch ev.eventType {
		case thrownSignal:
			_, err = engine.SignalEvent(ctx, ev.name, ev.payload)
		case thrownMessage:
			_, err = engine.SendMessage(ctx, ev.name, ev.payload, 0)
		}
		if err != nil {
			engine.logger.Error(fmt.Sprintf("failed to deliver %s %s thrown by process instance %d: %s", ev.eventType, ev.name, ev.processInstanceKey, err))
		}
	}
	exec.thrown = nil
	engine.reevaluateIfDirty(ctx)
}

func (engine *Engine) reevaluateIfDirty(ctx context.Context) {
	if engine.conditionsDirty.CompareAndSwap(true, false) {
		if err := engine.ReevaluateConditionals(ctx); err != nil {
			engine.logger.Error(fmt.Sprintf("failed to reevaluate conditional events: %s", err))
		}
	}
}

// reevaluateAfterFactChange reevaluates conditional events right away unless an execution is in
// progress. Task handlers run inside an execution holding their instance lock, so the running
// execution picks the change up in afterExecution instead.
func (engine *Engine) reevaluateAfterFactChange(ctx context.Context) {
	if engine.executions.Load() > 0 {
		return
	}
	engine.reevaluateIfDirty(ctx)
}

// faultOf builds the error returned to callers for an instance that ended in ERROR.
func faultOf(pi runtime.ProcessInstance) error {
	if pi.State != runtime.ProcessStateError {
		return nil
	}
	fault := &ExecutionFaultError{ProcessInstanceKey: pi.Key}
	if pi.Error != nil {
		fault.NodeId = pi.Error.NodeId
		fault.Msg = pi.Error.Message
	}
	return fault
}

// count adds one to counter, tagged with the process id.
func (engine *Engine) count(ctx context.Context, counter metric.Int64Counter, processId string) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String(otelPkg.AttributeProcessId, processId)))
}

func (engine *Engine) countRunning(ctx context.Context, delta int64, processId string) {
	if engine.metrics == nil || engine.metrics.ProcessesRunning == nil {
		return
	}
	engine.metrics.ProcessesRunning.Add(ctx, delta, metric.WithAttributes(attribute.String(otelPkg.AttributeProcessId, processId)))
}

// ignoreGone treats instances that ended or disappeared between matching and delivery as no match.
func ignoreGone(err error) error {
	if errors.Is(err, ErrInstanceNotFound) || errors.Is(err, ErrInstanceTerminated) {
		return nil
	}
	return err
}
