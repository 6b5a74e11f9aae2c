// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import (
	"maps"
	"slices"
	"time"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
)

// ProcessDefinition is a registered, versioned process graph.
type ProcessDefinition struct {
	BpmnProcessId string                   // The ID as defined in the process graph
	Version       int32                    // A version of the process, default=1, incremented, when another process with the same ID is registered
	Key           int64                    // The engines key for this given process with version
	Definition    *model.ProcessDefinition // immutable graph shared by all instances
	RegisteredAt  time.Time
}

// ProcessState is the status of a process instance.
type ProcessState int

const (
	ProcessStatePending ProcessState = iota
	ProcessStateActive
	ProcessStateCompleted
	ProcessStateAborted
	ProcessStateSuspended
	ProcessStateError
)

func (s ProcessState) String() string {
	switch s {
	case ProcessStatePending:
		return "PENDING"
	case ProcessStateActive:
		return "ACTIVE"
	case ProcessStateCompleted:
		return "COMPLETED"
	case ProcessStateAborted:
		return "ABORTED"
	case ProcessStateSuspended:
		return "SUSPENDED"
	case ProcessStateError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// IsTerminal reports states from which an instance never moves again.
func (s ProcessState) IsTerminal() bool {
	return s == ProcessStateCompleted || s == ProcessStateAborted || s == ProcessStateError
}

// NodeInstanceState as per the lifecycle of a token:
//
//	CREATED -> ACTIVE -> COMPLETING -> COMPLETED
//	   \          \
//	    +----------+--> CANCELLED
type NodeInstanceState string

const (
	NodeInstanceCreated    NodeInstanceState = "CREATED"
	NodeInstanceActive     NodeInstanceState = "ACTIVE"
	NodeInstanceCompleting NodeInstanceState = "COMPLETING"
	NodeInstanceCompleted  NodeInstanceState = "COMPLETED"
	NodeInstanceCancelled  NodeInstanceState = "CANCELLED"
)

func (s NodeInstanceState) IsLive() bool {
	return s == NodeInstanceCreated || s == NodeInstanceActive || s == NodeInstanceCompleting
}

// JoinState counts tokens delivered per incoming connection since the last reset of a join.
type JoinState struct {
	Arrived map[string]int
}

func (j *JoinState) Clone() *JoinState {
	if j == nil {
		return nil
	}
	return &JoinState{Arrived: maps.Clone(j.Arrived)}
}

// LoopState is the bookkeeping of a multi-instance wrapper.
type LoopState struct {
	Items           []any
	Next            int
	Active          map[int]int64
	Outputs         map[int]any
	CompletionOrder []int
	Cancelled       bool
}

func (l *LoopState) Clone() *LoopState {
	if l == nil {
		return nil
	}
	c := *l
	c.Items = slices.Clone(l.Items)
	c.Active = maps.Clone(l.Active)
	c.Outputs = maps.Clone(l.Outputs)
	c.CompletionOrder = slices.Clone(l.CompletionOrder)
	return &c
}

// NodeInstance is the live occurrence of a node ("token").
type NodeInstance struct {
	Key                int64
	ProcessInstanceKey int64
	NodeId             string
	Kind               model.NodeKind
	State              NodeInstanceState
	// ParentKey is the node instance of the containing sub-process or multi-instance wrapper, 0 for the process.
	ParentKey int64
	Level     int
	// Variables is set for node instances opening their own variable scope.
	Variables *VariableScope
	// Inner marks a branch of a multi-instance wrapper.
	Inner     bool
	LoopIndex int

	TriggeredBy     string
	WorkItemKey     int64
	ChildProcessKey int64
	AttachedToKey   int64
	Join            *JoinState
	Loop            *LoopState
	SLA             SLARecord

	CreatedAt   time.Time
	CompletedAt time.Time
}

// ErrorRecord keeps the last uncaught error of an instance.
type ErrorRecord struct {
	NodeId          string
	NodeInstanceKey int64
	Code            string
	Message         string
}

// ProcessInstance owns its node instances by key; node instances reference each other by key only.
type ProcessInstance struct {
	Key                      int64
	ProcessId                string
	ProcessDefinitionKey     int64
	ProcessVersion           int32
	Definition               *model.ProcessDefinition `json:"-"`
	Variables                *VariableScope
	State                    ProcessState
	NodeInstances            map[int64]*NodeInstance
	SLA                      SLARecord
	Error                    *ErrorRecord
	ParentProcessInstanceKey int64
	ParentNodeInstanceKey    int64
	RootProcessInstanceKey   int64
	// CompletedNodes lists node ids in the order their instances completed.
	CompletedNodes []string
	CreatedAt      time.Time
	EndedAt        time.Time

	order []int64
}

func NewProcessInstance(key int64, def ProcessDefinition, variables *VariableScope) *ProcessInstance {
	return &ProcessInstance{
		Key:                    key,
		ProcessId:              def.BpmnProcessId,
		ProcessDefinitionKey:   def.Key,
		ProcessVersion:         def.Version,
		Definition:             def.Definition,
		Variables:              variables,
		State:                  ProcessStatePending,
		NodeInstances:          map[int64]*NodeInstance{},
		RootProcessInstanceKey: key,
		SLA:                    SLARecord{Compliance: SLANotApplicable},
		CreatedAt:              time.Now(),
	}
}

func (pi *ProcessInstance) GetInstanceKey() int64 {
	return pi.Key
}

func (pi *ProcessInstance) GetState() ProcessState {
	return pi.State
}

func (pi *ProcessInstance) GetVariable(key string) any {
	return pi.Variables.GetVariable(key)
}

func (pi *ProcessInstance) AddNodeInstance(ni *NodeInstance) {
	pi.NodeInstances[ni.Key] = ni
	pi.order = append(pi.order, ni.Key)
}

func (pi *ProcessInstance) NodeInstance(key int64) *NodeInstance {
	return pi.NodeInstances[key]
}

// RemoveNodeInstance releases a finished node instance.
func (pi *ProcessInstance) RemoveNodeInstance(key int64) {
	delete(pi.NodeInstances, key)
	for i, k := range pi.order {
		if k == key {
			pi.order = append(pi.order[:i], pi.order[i+1:]...)
			break
		}
	}
}

// LiveNodeInstances returns the live node instances in creation order.
func (pi *ProcessInstance) LiveNodeInstances() []*NodeInstance {
	res := make([]*NodeInstance, 0, len(pi.order))
	for _, k := range pi.order {
		if ni := pi.NodeInstances[k]; ni != nil && ni.State.IsLive() {
			res = append(res, ni)
		}
	}
	return res
}

// LiveChildren returns the live node instances directly inside the scope parentKey.
func (pi *ProcessInstance) LiveChildren(parentKey int64) []*NodeInstance {
	var res []*NodeInstance
	for _, ni := range pi.LiveNodeInstances() {
		if ni.ParentKey == parentKey {
			res = append(res, ni)
		}
	}
	return res
}

// FindLiveNodeInstance returns the first live instance of nodeId in the given scope.
func (pi *ProcessInstance) FindLiveNodeInstance(nodeId string, parentKey int64) *NodeInstance {
	for _, ni := range pi.LiveNodeInstances() {
		if ni.NodeId == nodeId && ni.ParentKey == parentKey {
			return ni
		}
	}
	return nil
}

// ActiveNodeIds returns ids of live node instances in creation order.
func (pi *ProcessInstance) ActiveNodeIds() []string {
	var res []string
	for _, ni := range pi.LiveNodeInstances() {
		res = append(res, ni.NodeId)
	}
	return res
}

// Snapshot copies the instance so it can be handed out without holding the instance lock.
func (pi *ProcessInstance) Snapshot() ProcessInstance {
	c := *pi
	scopes := map[*VariableScope]*VariableScope{}
	c.Variables = snapshotScope(pi.Variables, scopes)
	c.NodeInstances = make(map[int64]*NodeInstance, len(pi.NodeInstances))
	for k, ni := range pi.NodeInstances {
		copied := *ni
		copied.Variables = snapshotScope(ni.Variables, scopes)
		copied.Join = ni.Join.Clone()
		copied.Loop = ni.Loop.Clone()
		c.NodeInstances[k] = &copied
	}
	c.order = append([]int64(nil), pi.order...)
	c.CompletedNodes = append([]string(nil), pi.CompletedNodes...)
	if pi.Error != nil {
		e := *pi.Error
		c.Error = &e
	}
	return c
}

// snapshotScope copies vs and its ancestors, reusing copies already made so that node scopes of
// the snapshot chain up to the snapshot's own process scope.
func snapshotScope(vs *VariableScope, copies map[*VariableScope]*VariableScope) *VariableScope {
	if vs == nil {
		return nil
	}
	if c, ok := copies[vs]; ok {
		return c
	}
	c := vs.copyWithParent(snapshotScope(vs.parent, copies))
	copies[vs] = c
	return c
}

type SubscriptionScope int

const (
	// ScopeInstance subscriptions belong to one process instance.
	ScopeInstance SubscriptionScope = iota
	// ScopeGlobal subscriptions are process wide and start new instances.
	ScopeGlobal
)

// EventSubscription binds an event key to the node that reacts to it.
type EventSubscription struct {
	Key                int64
	EventType          model.EventType
	Name               string
	Scope              SubscriptionScope
	ProcessId          string
	ProcessInstanceKey int64
	// NodeInstanceKey is the subscriber; 0 for subscriptions of a process scope (event sub-process starts).
	NodeInstanceKey int64
	NodeId          string
	// ScopeKey is the container node instance an event sub-process start belongs to.
	ScopeKey     int64
	AttachedTo   int64
	GatewayKey   int64
	TimerKey     int64
	VariableName string
	Condition    string
	// ConditionMet remembers the last evaluation so conditionals fire on false -> true edges only.
	ConditionMet bool
	CreatedAt    time.Time
}

// EventKey returns the correlation key, e.g. "signal:Yes".
func (s EventSubscription) EventKey() string {
	return EventKey(s.EventType, s.Name)
}

func EventKey(eventType model.EventType, name string) string {
	return string(eventType) + ":" + name
}

type TimerState string

const (
	TimerStateCreated   TimerState = "CREATED"
	TimerStateTriggered TimerState = "TRIGGERED"
	TimerStateCancelled TimerState = "CANCELLED"
)

type TimerPurpose string

const (
	TimerForEvent TimerPurpose = "EVENT"
	TimerForSLA   TimerPurpose = "SLA"
)

// Timer is created when an instance reaches a timer event or starts an SLA-guarded scope.
// The logic is simple: CreatedAt + Duration = DueAt; cycles are rescheduled until RemainingRepeats is 0.
type Timer struct {
	Key                int64
	ProcessInstanceKey int64
	NodeInstanceKey    int64
	SubscriptionKey    int64
	Purpose            TimerPurpose
	Kind               model.TimerKind
	TimerState         TimerState
	CreatedAt          time.Time
	DueAt              time.Time
	Period             time.Duration
	Cron               string
	// RemainingRepeats counts further firings of a cycle, -1 repeats forever.
	RemainingRepeats int
}

type SLACompliance string

const (
	SLANotApplicable SLACompliance = "NA"
	SLAPending       SLACompliance = "PENDING"
	SLAMet           SLACompliance = "MET"
	SLAViolated      SLACompliance = "VIOLATED"
	SLAAborted       SLACompliance = "ABORTED"
)

// SLARecord tracks the due date of a process or node instance.
type SLARecord struct {
	Deadline   time.Time
	Compliance SLACompliance
	TimerKey   int64
}

type WorkItemState string

const (
	WorkItemActive    WorkItemState = "ACTIVE"
	WorkItemCompleted WorkItemState = "COMPLETED"
	WorkItemAborted   WorkItemState = "ABORTED"
	WorkItemFailed    WorkItemState = "FAILED"
)

// WorkItem is the unit of work handed to the work item coordinator for a task node instance.
type WorkItem struct {
	Key                int64
	ProcessInstanceKey int64
	NodeInstanceKey    int64
	NodeId             string
	Name               string
	TaskType           string
	Parameters         map[string]any
	Results            map[string]any
	State              WorkItemState
	CreatedAt          time.Time
}
