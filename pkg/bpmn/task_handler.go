// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
)

const (
	// AssigneeParameter and CandidateGroupsParameter are the task parameters user task handlers can
	// be registered for.
	AssigneeParameter        = "assignee"
	CandidateGroupsParameter = "candidateGroups"
)

type taskMatcher func(node *model.Node) bool

type taskHandlerType string

const (
	taskHandlerForId              = "TASK_HANDLER_ID"
	taskHandlerForType            = "TASK_HANDLER_TYPE"
	taskHandlerForAssignee        = "TASK_HANDLER_ASSIGNEE"
	taskHandlerForCandidateGroups = "TASK_HANDLER_CANDIDATE_GROUPS"
)

type taskHandler struct {
	handlerType taskHandlerType
	matches     taskMatcher
	handler     func(job ActivatedJob)
	onAbort     func(job ActivatedJob)
}

// OnAbort registers a callback for work items of this handler that are withdrawn, e.g. by a
// cancelling boundary event. It runs while the process instance is locked and must not call back
// into the engine for the same instance.
func (th *taskHandler) OnAbort(f func(job ActivatedJob)) *taskHandler {
	th.onAbort = f
	return th
}

type newTaskHandlerCommand struct {
	handlerType taskHandlerType
	matcher     taskMatcher
	append      func(handler *taskHandler)
}

type NewTaskHandlerCommand2 interface {
	// Handler is the actual handler to be executed
	Handler(func(job ActivatedJob)) *taskHandler
}

type NewTaskHandlerCommand1 interface {
	// Id defines a handler for a given node ID
	// This is 1:1 relation between a handler and a task definition (since IDs are supposed to be unique).
	Id(id string) NewTaskHandlerCommand2
	// Type defines a handler for tasks with a given task type.
	// This allows a single handler to be used for multiple task definitions.
	Type(taskType string) NewTaskHandlerCommand2
	// Assignee defines a handler for User Tasks whose "assignee" parameter matches.
	Assignee(assignee string) NewTaskHandlerCommand2
	// CandidateGroups defines a handler for User Tasks with given 'candidate groups';
	// For the handler you can specify one or more groups.
	// If at least one matches a given user task, the handler will be called.
	CandidateGroups(groups ...string) NewTaskHandlerCommand2
}

// NewTaskHandler registers a handler function to be called for tasks matching the given criteria
func (engine *Engine) NewTaskHandler() NewTaskHandlerCommand1 {
	cmd := newTaskHandlerCommand{
		append: func(handler *taskHandler) {
			engine.taskhandlersMu.Lock()
			defer engine.taskhandlersMu.Unlock()
			engine.taskHandlers = append(engine.taskHandlers, handler)
		},
	}
	return cmd
}

// Id implements NewTaskHandlerCommand1
func (thc newTaskHandlerCommand) Id(id string) NewTaskHandlerCommand2 {
	thc.matcher = func(node *model.Node) bool {
		return node.Id == id
	}
	thc.handlerType = taskHandlerForId
	return thc
}

// Type implements NewTaskHandlerCommand1
func (thc newTaskHandlerCommand) Type(taskType string) NewTaskHandlerCommand2 {
	thc.matcher = func(node *model.Node) bool {
		return taskTypeOf(node) == taskType
	}
	thc.handlerType = taskHandlerForType
	return thc
}

// Assignee implements NewTaskHandlerCommand1
func (thc newTaskHandlerCommand) Assignee(assignee string) NewTaskHandlerCommand2 {
	thc.matcher = func(node *model.Node) bool {
		if node.Kind != model.KindUserTask {
			return false
		}
		return fmt.Sprint(node.Parameters[AssigneeParameter]) == assignee
	}
	thc.handlerType = taskHandlerForAssignee
	return thc
}

// CandidateGroups implements NewTaskHandlerCommand1
func (thc newTaskHandlerCommand) CandidateGroups(groups ...string) NewTaskHandlerCommand2 {
	thc.matcher = func(node *model.Node) bool {
		if node.Kind != model.KindUserTask {
			return false
		}
		candidates := candidateGroupsOf(node)
		for _, group := range groups {
			if slices.Contains(candidates, group) {
				return true
			}
		}
		return false
	}
	thc.handlerType = taskHandlerForCandidateGroups
	return thc
}

// Handler implements NewTaskHandlerCommand2
func (thc newTaskHandlerCommand) Handler(f func(job ActivatedJob)) *taskHandler {
	th := taskHandler{
		handlerType: thc.handlerType,
		matches:     thc.matcher,
		handler:     f,
	}
	thc.append(&th)
	return &th
}

// RemoveHandler removes the handler created by Handler method
func (engine *Engine) RemoveHandler(handler *taskHandler) {
	engine.taskhandlersMu.Lock()
	defer engine.taskhandlersMu.Unlock()
	for i, hand := range engine.taskHandlers {
		if hand == handler {
			engine.taskHandlers = slices.Delete(engine.taskHandlers, i, i+1)
			return
		}
	}
}

func (engine *Engine) findTaskHandler(node *model.Node) *taskHandler {
	engine.taskhandlersMu.RLock()
	defer engine.taskhandlersMu.RUnlock()
	searchOrder := []taskHandlerType{taskHandlerForId, taskHandlerForType}
	if node.Kind == model.KindUserTask {
		searchOrder = append(searchOrder, taskHandlerForAssignee, taskHandlerForCandidateGroups)
	}
	for _, handlerType := range searchOrder {
		for _, handler := range engine.taskHandlers {
			if handler.handlerType == handlerType && handler.matches(node) {
				return handler
			}
		}
	}
	return nil
}

// taskTypeOf returns the declared task type, user tasks default to "Human Task".
func taskTypeOf(node *model.Node) string {
	if node.TaskType != "" {
		return node.TaskType
	}
	if node.Kind == model.KindUserTask {
		return "Human Task"
	}
	return node.Kind.String()
}

func candidateGroupsOf(node *model.Node) []string {
	switch groups := node.Parameters[CandidateGroupsParameter].(type) {
	case string:
		var res []string
		for _, g := range strings.Split(groups, ",") {
			if g = strings.TrimSpace(g); g != "" {
				res = append(res, g)
			}
		}
		return res
	case []string:
		return groups
	case []any:
		res := make([]string, 0, len(groups))
		for _, g := range groups {
			res = append(res, fmt.Sprint(g))
		}
		return res
	}
	return nil
}
