// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"errors"
	"fmt"
)

var (
	ErrInstanceNotFound   = errors.New("process instance not found")
	ErrWorkItemNotFound   = errors.New("work item not found")
	ErrInstanceSuspended  = errors.New("process instance is suspended")
	ErrInstanceTerminated = errors.New("process instance already reached a terminal state")
)

type BpmnEngineError struct {
	Msg string
}

func (e *BpmnEngineError) Error() string {
	return e.Msg
}

// newEngineErrorf uses fmt.Sprintf(format, a...) to format the message
func newEngineErrorf(format string, a ...interface{}) error {
	return &BpmnEngineError{
		Msg: fmt.Sprintf(format, a...),
	}
}

type ExpressionEvaluationError struct {
	Msg string
	Err error
}

func (e *ExpressionEvaluationError) Error() string {
	if e.Err != nil {
		return e.Msg + "\nerror: " + e.Err.Error()
	}
	return e.Msg
}

func (e *ExpressionEvaluationError) Unwrap() error {
	return e.Err
}

// NoEnabledConnectionError is raised by a diverging gateway when no guard holds and there is no default connection.
type NoEnabledConnectionError struct {
	ProcessId string
	NodeId    string
}

func (e *NoEnabledConnectionError) Error() string {
	return fmt.Sprintf("no enabled connection for gateway '%s' in process '%s': no condition matched and no default connection", e.NodeId, e.ProcessId)
}

// BusinessError is a BPMN error. It is caught by the nearest matching error boundary event or
// error event sub-process, uncaught it aborts the instance.
type BusinessError struct {
	Code    string
	Message string
	NodeId  string
}

func (e *BusinessError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("business error '%s' raised by '%s'", e.Code, e.NodeId)
	}
	return fmt.Sprintf("business error '%s' raised by '%s': %s", e.Code, e.NodeId, e.Message)
}

// WorkItemExecutionError is returned by work item handlers that want a failure to be treated as a
// business error carrying Code instead of an execution fault.
type WorkItemExecutionError struct {
	Code string
	Msg  string
}

func (e *WorkItemExecutionError) Error() string {
	return fmt.Sprintf("work item execution failed with code %s: %s", e.Code, e.Msg)
}

// ExecutionFaultError marks an unrecoverable fault. The owning instance goes to ERROR.
type ExecutionFaultError struct {
	ProcessInstanceKey int64
	NodeId             string
	Msg                string
	Err                error
}

func (e *ExecutionFaultError) Error() string {
	msg := fmt.Sprintf("execution fault in process instance %d at '%s': %s", e.ProcessInstanceKey, e.NodeId, e.Msg)
	if e.Err != nil && e.Err.Error() != e.Msg {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionFaultError) Unwrap() error {
	return e.Err
}
