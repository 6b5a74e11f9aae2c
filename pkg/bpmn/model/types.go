// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package model

// NodeKind is the closed set of node types the engine knows how to execute.
type NodeKind int

const (
	KindStartEvent NodeKind = iota + 1
	KindEndEvent
	KindTask
	KindUserTask
	KindServiceTask
	KindSendTask
	KindReceiveTask
	KindScriptTask
	KindBusinessRuleTask
	KindExclusiveGateway
	KindInclusiveGateway
	KindParallelGateway
	KindEventBasedGateway
	KindSubProcess
	KindEventSubProcess
	KindCallActivity
	KindBoundaryEvent
	KindIntermediateCatchEvent
	KindIntermediateThrowEvent
)

var nodeKindNames = map[NodeKind]string{
	KindStartEvent:             "START_EVENT",
	KindEndEvent:               "END_EVENT",
	KindTask:                   "TASK",
	KindUserTask:               "USER_TASK",
	KindServiceTask:            "SERVICE_TASK",
	KindSendTask:               "SEND_TASK",
	KindReceiveTask:            "RECEIVE_TASK",
	KindScriptTask:             "SCRIPT_TASK",
	KindBusinessRuleTask:       "BUSINESS_RULE_TASK",
	KindExclusiveGateway:       "EXCLUSIVE_GATEWAY",
	KindInclusiveGateway:       "INCLUSIVE_GATEWAY",
	KindParallelGateway:        "PARALLEL_GATEWAY",
	KindEventBasedGateway:      "EVENT_BASED_GATEWAY",
	KindSubProcess:             "SUB_PROCESS",
	KindEventSubProcess:        "EVENT_SUB_PROCESS",
	KindCallActivity:           "CALL_ACTIVITY",
	KindBoundaryEvent:          "BOUNDARY_EVENT",
	KindIntermediateCatchEvent: "INTERMEDIATE_CATCH_EVENT",
	KindIntermediateThrowEvent: "INTERMEDIATE_THROW_EVENT",
}

func (k NodeKind) String() string {
	if s, ok := nodeKindNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseNodeKind maps the textual representation back to a NodeKind, returns 0 when unknown.
func ParseNodeKind(s string) NodeKind {
	for k, name := range nodeKindNames {
		if name == s {
			return k
		}
	}
	return 0
}

// IsTask reports kinds that are delegated to the work item coordinator or executed inline as a task.
func (k NodeKind) IsTask() bool {
	switch k {
	case KindTask, KindUserTask, KindServiceTask, KindSendTask, KindReceiveTask, KindScriptTask, KindBusinessRuleTask:
		return true
	}
	return false
}

// IsActivity reports kinds a boundary event may be attached to.
func (k NodeKind) IsActivity() bool {
	return k.IsTask() || k == KindSubProcess || k == KindCallActivity
}

// IsGateway reports gateway kinds.
func (k NodeKind) IsGateway() bool {
	switch k {
	case KindExclusiveGateway, KindInclusiveGateway, KindParallelGateway, KindEventBasedGateway:
		return true
	}
	return false
}

// IsContainer reports kinds that own child nodes.
func (k NodeKind) IsContainer() bool {
	return k == KindSubProcess || k == KindEventSubProcess
}

type EventType string

const (
	EventNone        EventType = ""
	EventSignal      EventType = "signal"
	EventMessage     EventType = "message"
	EventTimer       EventType = "timer"
	EventError       EventType = "error"
	EventConditional EventType = "conditional"
	EventTerminate   EventType = "terminate"
)

type TimerKind string

const (
	TimerDate     TimerKind = "date"
	TimerDuration TimerKind = "duration"
	TimerCycle    TimerKind = "cycle"
)

// EventDefinition describes what a start, end, intermediate or boundary event reacts to or throws.
type EventDefinition struct {
	Type EventType `yaml:"type"`
	// Ref is the signal name, message name or error code depending on Type.
	Ref string `yaml:"ref,omitempty"`
	// Timer settings, used when Type == EventTimer.
	TimerKind       TimerKind `yaml:"timerKind,omitempty"`
	TimerExpression string    `yaml:"timer,omitempty"`
	// Condition is evaluated for EventConditional.
	Condition string `yaml:"condition,omitempty"`
	// VariableName receives the event payload when set.
	VariableName string `yaml:"variable,omitempty"`
	// Message is the error message carried by an error end event.
	Message string `yaml:"message,omitempty"`
}

// Mapping copies the value of the Source expression into the Target variable.
type Mapping struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// MultiInstance holds the loop characteristics of an activity.
type MultiInstance struct {
	Sequential          bool   `yaml:"sequential,omitempty"`
	InputCollection     string `yaml:"inputCollection"`
	InputElement        string `yaml:"inputElement,omitempty"`
	OutputCollection    string `yaml:"outputCollection,omitempty"`
	OutputElement       string `yaml:"outputElement,omitempty"`
	CompletionCondition string `yaml:"completionCondition,omitempty"`
}

// Node is a static element of the process graph.
type Node struct {
	Id       string   `yaml:"id"`
	Name     string   `yaml:"name,omitempty"`
	Kind     NodeKind `yaml:"-"`
	Parent   string   `yaml:"parent,omitempty"`
	Incoming []string `yaml:"-"`
	Outgoing []string `yaml:"-"`

	TaskType       string            `yaml:"taskType,omitempty"`
	Parameters     map[string]any    `yaml:"parameters,omitempty"`
	InputMappings  []Mapping         `yaml:"inputs,omitempty"`
	OutputMappings []Mapping         `yaml:"outputs,omitempty"`
	Script         string            `yaml:"script,omitempty"`
	RuleFlowGroup  string            `yaml:"ruleFlowGroup,omitempty"`
	Event          *EventDefinition  `yaml:"event,omitempty"`
	AttachedTo     string            `yaml:"attachedTo,omitempty"`
	CancelActivity bool              `yaml:"cancelActivity,omitempty"`
	Interrupting   bool              `yaml:"interrupting,omitempty"`
	Default        string            `yaml:"default,omitempty"`
	Loop           *MultiInstance    `yaml:"loop,omitempty"`
	CalledProcess  string            `yaml:"calledProcess,omitempty"`
	Independent    bool              `yaml:"independent,omitempty"`
	SLA            string            `yaml:"sla,omitempty"`
	Metadata       map[string]string `yaml:"metadata,omitempty"`
}

// Connection is a directed sequence flow between two nodes.
type Connection struct {
	Id        string `yaml:"id"`
	Source    string `yaml:"source"`
	Target    string `yaml:"target"`
	Condition string `yaml:"condition,omitempty"`
	Priority  int    `yaml:"priority,omitempty"`

	order int
}

// VariableDeclaration declares a process variable, its type and default value.
type VariableDeclaration struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type,omitempty"`
	Default any    `yaml:"default,omitempty"`
}
