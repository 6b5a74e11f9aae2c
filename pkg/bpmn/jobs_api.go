// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenengine/pkg/otel"
)

// CompleteWorkItem finishes a pending work item with results and continues after its task.
func (engine *Engine) CompleteWorkItem(ctx context.Context, workItemKey int64, results map[string]any) error {
	return engine.onWorkItem(ctx, "complete", workItemKey, func(exec *execution, pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) {
		if err := exec.completeWorkItem(pi, ni, node, results); err != nil {
			exec.handleError(pi, ni, err)
		}
	})
}

// AbortWorkItem finishes a pending work item without results. The flow continues after the task.
func (engine *Engine) AbortWorkItem(ctx context.Context, workItemKey int64) error {
	return engine.onWorkItem(ctx, "abort", workItemKey, func(exec *execution, pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) {
		exec.closeWorkItem(ni, runtime.WorkItemAborted)
		exec.completeAndContinue(pi, ni, node)
	})
}

// FailWorkItem reports an execution fault of a work item, the process instance goes to ERROR.
func (engine *Engine) FailWorkItem(ctx context.Context, workItemKey int64, reason string) error {
	err := engine.onWorkItem(ctx, "fail", workItemKey, func(exec *execution, pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) {
		exec.closeWorkItem(ni, runtime.WorkItemFailed)
		exec.engine.count(exec.ctx, exec.engine.metrics.WorkItemsFailed, pi.ProcessId)
		exec.handleError(pi, ni, &ExecutionFaultError{ProcessInstanceKey: pi.Key, NodeId: node.Id, Msg: reason})
	})
	var fault *ExecutionFaultError
	if errors.As(err, &fault) {
		return nil
	}
	return err
}

// ThrowWorkItemError raises a business error with code at the task of the work item.
func (engine *Engine) ThrowWorkItemError(ctx context.Context, workItemKey int64, code string, message string) error {
	return engine.onWorkItem(ctx, "throw-error", workItemKey, func(exec *execution, pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) {
		exec.closeWorkItem(ni, runtime.WorkItemFailed)
		exec.handleError(pi, ni, &WorkItemExecutionError{Code: code, Msg: message})
	})
}

func (engine *Engine) onWorkItem(ctx context.Context, action string, workItemKey int64, fn func(exec *execution, pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node)) (err error) {
	workItem, ok := engine.workItem(workItemKey)
	if !ok {
		return fmt.Errorf("%w: %d", ErrWorkItemNotFound, workItemKey)
	}
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("work-item:%s:%d", action, workItemKey), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeWorkItemKey, workItemKey),
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, workItem.ProcessInstanceKey),
		attribute.String(otelPkg.AttributeElementId, workItem.NodeId),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	snapshot, err := engine.execute(ctx, workItem.ProcessInstanceKey, func(exec *execution, pi *runtime.ProcessInstance) error {
		if pi.State == runtime.ProcessStateSuspended {
			return ErrInstanceSuspended
		}
		ni := pi.NodeInstance(workItem.NodeInstanceKey)
		if ni == nil || !ni.State.IsLive() || ni.WorkItemKey != workItemKey {
			return fmt.Errorf("%w: %d", ErrWorkItemNotFound, workItemKey)
		}
		fn(exec, pi, ni, pi.Definition.Node(ni.NodeId))
		return nil
	})
	if err != nil {
		return err
	}
	return faultOf(snapshot)
}

// PendingWorkItems returns the open work items of a process instance, all of them for key 0, in
// creation order.
func (engine *Engine) PendingWorkItems(processInstanceKey int64) []runtime.WorkItem {
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	var res []runtime.WorkItem
	for _, workItem := range engine.workItems {
		if processInstanceKey == 0 || workItem.ProcessInstanceKey == processInstanceKey {
			res = append(res, *workItem)
		}
	}
	slices.SortFunc(res, func(a, b runtime.WorkItem) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return res
}
