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

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenengine/pkg/rules"
)

func scriptProcess(script string) *model.Builder {
	b := model.NewBuilder("scripted")
	b.StartEvent("start")
	b.ScriptTask("compute", script)
	b.EndEvent("end")
	b.Chain("start", "compute", "end")
	return b
}

func TestScriptTaskWritesVariables(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, scriptProcess(`setVariable("total", price * quantity); price * quantity + 5`))

	// when
	instance, err := engine.StartProcess(t.Context(), "scripted", map[string]any{"price": 20, "quantity": 3})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, instance.State)
	assert.EqualValues(t, 60, instance.Variables.GetVariable("total"))
	assert.Nil(t, instance.Variables.GetVariable(ScriptResultVariable))
}

func TestScriptTaskResultIsAvailableToOutputMappings(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	b := model.NewBuilder("scripted")
	b.StartEvent("start")
	b.ScriptTask("compute", `price * quantity + 5`).OutputMappings = []model.Mapping{{Source: ScriptResultVariable, Target: "withFee"}}
	b.EndEvent("end")
	b.Chain("start", "compute", "end")
	engine.register(t, b)

	// when
	instance, err := engine.StartProcess(t.Context(), "scripted", map[string]any{"price": 20, "quantity": 3})

	// then
	require.NoError(t, err)
	assert.EqualValues(t, 65, instance.Variables.GetVariable("withFee"))
}

func TestScriptTaskThrowErrorIsCaughtByBoundary(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	cp := CallPath{}
	b := scriptProcess(`if (quantity <= 0) { throwError("EMPTY_ORDER", "nothing ordered") }`)
	b.BoundaryEvent("on-empty", "compute", model.EventDefinition{Type: model.EventError, Ref: "EMPTY_ORDER"}, true)
	b.ServiceTask("reject", "reject")
	b.EndEvent("end-rejected")
	b.Chain("on-empty", "reject", "end-rejected")
	engine.register(t, b)
	engine.NewTaskHandler().Id("reject").Handler(cp.TaskHandler)

	// when
	instance, err := engine.StartProcess(t.Context(), "scripted", map[string]any{"quantity": 0})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, instance.State)
	assert.Equal(t, "reject", cp.String())
	assert.Contains(t, instance.CompletedNodes, "end-rejected")
}

func TestBrokenScriptMovesInstanceToError(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.register(t, scriptProcess(`undefinedFunction()`))

	// when
	instance, err := engine.StartProcess(t.Context(), "scripted", nil)

	// then
	var fault *ExecutionFaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "compute", fault.NodeId)
	assert.Equal(t, runtime.ProcessStateError, instance.State)
}

func businessRuleProcess() *model.Builder {
	b := model.NewBuilder("pricing")
	b.StartEvent("start")
	rate := b.BusinessRuleTask("rate", "pricing")
	rate.InputMappings = []model.Mapping{{Source: "orderAmount", Target: "amount"}}
	rate.OutputMappings = []model.Mapping{{Source: "discount", Target: "discount"}}
	b.EndEvent("end")
	b.Chain("start", "rate", "end")
	return b
}

func TestBusinessRuleTaskFiresRulesOfItsGroup(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	session := engine.RuleSession()
	require.NoError(t, session.AddRule(rules.Rule{
		Name:  "big-order-discount",
		Group: "pricing",
		Condition: func(facts map[string]any) bool {
			amount, _ := facts["amount"].(int)
			_, discounted := facts["discount"]
			return amount > 100 && !discounted
		},
		Then: func(wm *rules.WorkingMemory) error {
			wm.Insert("discount", 10)
			return nil
		},
	}))
	require.NoError(t, session.AddRule(rules.Rule{
		Name:      "other-group",
		Group:     "shipping",
		Condition: func(facts map[string]any) bool { return true },
		Then: func(wm *rules.WorkingMemory) error {
			wm.Insert("shipping", "express")
			return nil
		},
	}))
	engine.register(t, businessRuleProcess())

	// when
	instance, err := engine.StartProcess(t.Context(), "pricing", map[string]any{"orderAmount": 150})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, instance.State)
	assert.Equal(t, 10, instance.Variables.GetVariable("discount"))
	_, ok := session.Fact("shipping")
	assert.False(t, ok)
	amount, ok := session.Fact("amount")
	assert.True(t, ok)
	assert.Equal(t, 150, amount)
}

func TestBusinessRuleTaskExceedingFireLimitFails(t *testing.T) {
	// setup
	engine := newTestEngine(t, EngineWithRuleFireLimit(5))
	require.NoError(t, engine.RuleSession().AddRule(rules.Rule{
		Name:      "runaway",
		Group:     "pricing",
		Condition: func(facts map[string]any) bool { return true },
		Then: func(wm *rules.WorkingMemory) error {
			n, _ := wm.Get("counter")
			count, _ := n.(int)
			wm.Update("counter", count+1)
			return nil
		},
	}))
	engine.register(t, businessRuleProcess())

	// when
	instance, err := engine.StartProcess(t.Context(), "pricing", map[string]any{"orderAmount": 1})

	// then
	var fault *ExecutionFaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "rate", fault.NodeId)
	assert.Contains(t, fault.Msg, "fire limit exceeded")
	assert.Equal(t, runtime.ProcessStateError, instance.State)
}

func TestFiredRuleSatisfiesConditionalEvent(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	require.NoError(t, engine.RuleSession().AddRule(rules.Rule{
		Name: "overheating",
		Condition: func(facts map[string]any) bool {
			temperature, _ := facts["temperature"].(int)
			_, raised := facts["alarm"]
			return temperature > 30 && !raised
		},
		Then: func(wm *rules.WorkingMemory) error {
			wm.Insert("alarm", true)
			return nil
		},
	}))
	engine.register(t, catchEventProcess("conditional", model.EventDefinition{Type: model.EventConditional, Condition: "= alarm = true"}))
	instance, err := engine.StartProcess(t.Context(), "conditional", nil)
	require.NoError(t, err)
	engine.InsertFact(t.Context(), "temperature", 35)
	require.Equal(t, runtime.ProcessStateActive, engine.state(t, instance.Key))

	// when
	fired, err := engine.FireAllRules(t.Context())

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, runtime.ProcessStateCompleted, engine.state(t, instance.Key))
}
