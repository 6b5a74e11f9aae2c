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
	"slices"

	"github.com/hashicorp/go-hclog"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
)

type command interface {
}

// ---------------------------------------------------------------------

// flowTransitionCommand moves a token over a connection taken by the node instance sourceKey.
type flowTransitionCommand struct {
	instance   *runtime.ProcessInstance
	sourceKey  int64
	scopeKey   int64
	connection *model.Connection
}

// ---------------------------------------------------------------------

// activityCommand activates a node that is not reached over a connection, e.g. a start event.
type activityCommand struct {
	instance *runtime.ProcessInstance
	node     *model.Node
	scopeKey int64
	payload  any
}

// ---------------------------------------------------------------------

type thrownEventType string

const (
	thrownSignal  thrownEventType = "signal"
	thrownMessage thrownEventType = "message"
)

// thrownEvent is a signal or message raised by a throw event, delivered once the execution released its lock.
type thrownEvent struct {
	eventType          thrownEventType
	name               string
	payload            any
	processInstanceKey int64
}

// execution processes one external stimulus. All instances it touches belong to the same family and
// are locked for its whole lifetime.
type execution struct {
	ctx     context.Context
	engine  *Engine
	logger  hclog.Logger
	queue   []command
	touched []*runtime.ProcessInstance
	thrown  []thrownEvent
}

func newExecution(ctx context.Context, engine *Engine) *execution {
	return &execution{
		ctx:    ctx,
		engine: engine,
		logger: engine.logger,
	}
}

func (exec *execution) touch(pi *runtime.ProcessInstance) {
	if !slices.Contains(exec.touched, pi) {
		exec.touched = append(exec.touched, pi)
	}
}

func (exec *execution) enqueue(cmd command) {
	exec.queue = append(exec.queue, cmd)
}

// run drains the command queue and settles the touched instances until nothing can advance.
func (exec *execution) run() {
	for {
		for len(exec.queue) > 0 {
			cmd := exec.queue[0]
			exec.queue = exec.queue[1:]
			exec.process(cmd)
		}
		if !exec.settle() {
			return
		}
	}
}

func (exec *execution) process(cmd command) {
	switch c := cmd.(type) {
	case flowTransitionCommand:
		if !exec.scopeIsLive(c.instance, c.scopeKey) {
			return
		}
		exec.takeConnection(c.instance, c.scopeKey, c.connection)
	case activityCommand:
		if !exec.scopeIsLive(c.instance, c.scopeKey) {
			return
		}
		ni := exec.createNodeInstance(c.instance, c.node, c.scopeKey, "")
		if c.payload != nil {
			if err := exec.setEventPayload(c.instance, c.node, c.scopeKey, c.payload); err != nil {
				exec.fail(c.instance, ni, err)
				return
			}
		}
		exec.activate(c.instance, ni)
	default:
		panic(fmt.Sprintf("[invariant check] command type %T is not implemented", cmd))
	}
}

// scopeIsLive drops tokens whose instance or container ended while they were queued.
func (exec *execution) scopeIsLive(pi *runtime.ProcessInstance, scopeKey int64) bool {
	if pi.State != runtime.ProcessStateActive {
		return false
	}
	if scopeKey == 0 {
		return true
	}
	scope := pi.NodeInstance(scopeKey)
	return scope != nil && scope.State.IsLive()
}

// settle performs the work that only becomes due once the queue is empty: inclusive joins, finished
// containers, conditional events and instance completion. It reports whether anything advanced.
func (exec *execution) settle() bool {
	for i := 0; i < len(exec.touched); i++ {
		pi := exec.touched[i]
		if pi.State != runtime.ProcessStateActive {
			continue
		}
		if exec.fireInclusiveJoins(pi) || exec.completeFinishedScopes(pi) || exec.evaluateConditionals(pi) {
			return true
		}
		if len(pi.LiveNodeInstances()) == 0 {
			exec.completeProcessInstance(pi)
			return true
		}
	}
	return len(exec.queue) > 0
}
