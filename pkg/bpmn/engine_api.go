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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenengine/pkg/otel"
	"github.com/pbinitiative/zenengine/pkg/storage"
)

// RegisterProcess registers a process definition under the next version of its id. Signal, message
// and timer start events of the new version replace the ones of earlier versions. A definition built
// with multiple connections is rejected when it uses them and the engine does not allow them.
func (engine *Engine) RegisterProcess(ctx context.Context, definition *model.ProcessDefinition) (runtime.ProcessDefinition, error) {
	if definition == nil {
		return runtime.ProcessDefinition{}, newEngineErrorf("process definition must not be nil")
	}
	if definition.Options.MultiConnection && !engine.multiConnection {
		if err := definition.Validate(model.BuildOptions{}); err != nil {
			return runtime.ProcessDefinition{}, errors.Join(newEngineErrorf("process %s relies on multiple connections, which this engine does not allow", definition.Id), err)
		}
	}
	engine.registerMu.Lock()
	defer engine.registerMu.Unlock()

	existing, err := engine.persistence.FindProcessDefinitionsById(ctx, definition.Id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return runtime.ProcessDefinition{}, errors.Join(newEngineErrorf("failed to load versions of process %s", definition.Id), err)
	}
	process := runtime.ProcessDefinition{
		BpmnProcessId: definition.Id,
		Version:       int32(len(existing) + 1),
		Key:           engine.generateKey(),
		Definition:    definition,
		RegisteredAt:  time.Now(),
	}
	if err := engine.persistence.SaveProcessDefinition(ctx, process); err != nil {
		return runtime.ProcessDefinition{}, errors.Join(newEngineErrorf("failed to save process definition %s", definition.Id), err)
	}
	if err := engine.installStartSubscriptions(process); err != nil {
		return process, err
	}
	engine.exportNewProcessEvent(process)
	engine.logger.Info(fmt.Sprintf("Registered process %s version %d", process.BpmnProcessId, process.Version), "processDefinitionKey", process.Key)
	return process, nil
}

// RegisterProcessFromFile loads a YAML process definition and registers it.
func (engine *Engine) RegisterProcessFromFile(ctx context.Context, filename string) (runtime.ProcessDefinition, error) {
	definition, err := model.LoadYAMLFile(filename, model.BuildOptions{MultiConnection: engine.multiConnection})
	if err != nil {
		return runtime.ProcessDefinition{}, err
	}
	return engine.RegisterProcess(ctx, definition)
}

// FindProcessesById returns all registered versions of a process, oldest first.
func (engine *Engine) FindProcessesById(ctx context.Context, processId string) ([]runtime.ProcessDefinition, error) {
	return engine.persistence.FindProcessDefinitionsById(ctx, processId)
}

// CreateInstance creates a PENDING instance of the latest version of processId. Variables can still
// be set before StartInstance.
func (engine *Engine) CreateInstance(ctx context.Context, processId string, variables map[string]any) (runtime.ProcessInstance, error) {
	process, err := engine.persistence.FindLatestProcessDefinitionById(ctx, processId)
	if err != nil {
		return runtime.ProcessInstance{}, errors.Join(newEngineErrorf("no process with id=%s was found (prior loaded into the engine)", processId), err)
	}
	pi, err := engine.newInstance(process, variables, nil, nil)
	if err != nil {
		return runtime.ProcessInstance{}, err
	}
	var snapshot runtime.ProcessInstance
	err = engine.inspect(ctx, pi.Key, func(pi *runtime.ProcessInstance) {
		snapshot = pi.Snapshot()
	})
	return snapshot, err
}

// StartInstance starts a PENDING instance at its none start events and runs it until it waits or ends.
// An instance ending in ERROR is returned together with an ExecutionFaultError.
func (engine *Engine) StartInstance(ctx context.Context, processInstanceKey int64) (instance runtime.ProcessInstance, err error) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("start-instance:%d", processInstanceKey), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, processInstanceKey),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	snapshot, err := engine.execute(ctx, processInstanceKey, func(exec *execution, pi *runtime.ProcessInstance) error {
		span.SetAttributes(attribute.String(otelPkg.AttributeProcessId, pi.ProcessId))
		starts := pi.Definition.StartNodes("")
		if len(starts) == 0 {
			return newEngineErrorf("process %s has no none start event", pi.ProcessId)
		}
		return exec.startInstance(pi, starts, nil)
	})
	if err != nil {
		return snapshot, err
	}
	return snapshot, faultOf(snapshot)
}

// StartProcess creates and starts an instance of the latest version of processId.
func (engine *Engine) StartProcess(ctx context.Context, processId string, variables map[string]any) (runtime.ProcessInstance, error) {
	created, err := engine.CreateInstance(ctx, processId, variables)
	if err != nil {
		return runtime.ProcessInstance{}, err
	}
	return engine.StartInstance(ctx, created.Key)
}

// SetVariable writes a process variable of a live instance.
func (engine *Engine) SetVariable(ctx context.Context, processInstanceKey int64, name string, value any) error {
	_, err := engine.execute(ctx, processInstanceKey, func(exec *execution, pi *runtime.ProcessInstance) error {
		return pi.Variables.SetVariable(name, value)
	})
	return err
}

// GetVariable reads a process variable of a live or ended instance.
func (engine *Engine) GetVariable(ctx context.Context, processInstanceKey int64, name string) (any, error) {
	instance, err := engine.FindProcessInstance(ctx, processInstanceKey)
	if err != nil {
		return nil, err
	}
	return instance.Variables.GetVariable(name), nil
}

// FindProcessInstance returns a snapshot of a live or ended instance.
func (engine *Engine) FindProcessInstance(ctx context.Context, processInstanceKey int64) (runtime.ProcessInstance, error) {
	var snapshot runtime.ProcessInstance
	err := engine.inspect(ctx, processInstanceKey, func(pi *runtime.ProcessInstance) {
		snapshot = pi.Snapshot()
	})
	if err == nil {
		return snapshot, nil
	}
	if ended, ok := engine.completed.Get(processInstanceKey); ok {
		return ended, nil
	}
	ended, storageErr := engine.persistence.FindProcessInstanceByKey(ctx, processInstanceKey)
	if storageErr == nil {
		return ended, nil
	}
	return runtime.ProcessInstance{}, fmt.Errorf("%w: %d", ErrInstanceNotFound, processInstanceKey)
}

// ProcessInstanceState returns the current state of an instance.
func (engine *Engine) ProcessInstanceState(ctx context.Context, processInstanceKey int64) (runtime.ProcessState, error) {
	instance, err := engine.FindProcessInstance(ctx, processInstanceKey)
	if err != nil {
		return 0, err
	}
	return instance.State, nil
}

// AbortProcessInstance cancels everything running in the instance and ends it as ABORTED, together
// with the processes waiting for it through call activities. Ended instances are left alone.
func (engine *Engine) AbortProcessInstance(ctx context.Context, processInstanceKey int64) (err error) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("abort-instance:%d", processInstanceKey), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, processInstanceKey),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	_, err = engine.execute(ctx, processInstanceKey, func(exec *execution, pi *runtime.ProcessInstance) error {
		for current := pi; current != nil; {
			parent, _ := exec.callingActivity(current)
			exec.abortInstance(current)
			current = parent
		}
		return nil
	})
	if errors.Is(err, ErrInstanceTerminated) {
		return nil
	}
	return err
}

// SuspendProcessInstance stops an ACTIVE instance from reacting to stimuli. Timers due meanwhile
// fire on resume.
func (engine *Engine) SuspendProcessInstance(ctx context.Context, processInstanceKey int64) error {
	_, err := engine.execute(ctx, processInstanceKey, func(exec *execution, pi *runtime.ProcessInstance) error {
		switch pi.State {
		case runtime.ProcessStateSuspended:
			return nil
		case runtime.ProcessStateActive:
			pi.State = runtime.ProcessStateSuspended
			engine.exportProcessInstanceEvent(pi)
			return nil
		}
		return newEngineErrorf("process instance %d is %s and cannot be suspended", pi.Key, pi.State)
	})
	return err
}

// ResumeProcessInstance reactivates a suspended instance.
func (engine *Engine) ResumeProcessInstance(ctx context.Context, processInstanceKey int64) error {
	_, err := engine.execute(ctx, processInstanceKey, func(exec *execution, pi *runtime.ProcessInstance) error {
		switch pi.State {
		case runtime.ProcessStateActive:
			return nil
		case runtime.ProcessStateSuspended:
			pi.State = runtime.ProcessStateActive
			engine.exportProcessInstanceEvent(pi)
			now := time.Now()
			for _, t := range engine.Timers(pi.Key) {
				if !t.DueAt.After(now) {
					engine.scheduler.Schedule(t)
				}
			}
			return nil
		}
		return newEngineErrorf("process instance %d is %s and cannot be resumed", pi.Key, pi.State)
	})
	return err
}
