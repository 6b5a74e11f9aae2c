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
	"maps"
	"slices"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenengine/pkg/rules"
)

// ScriptResultVariable holds the completion value of a script task for its output mappings.
const ScriptResultVariable = "result"

// executeScriptTask runs the script with the visible variables bound as globals. Writes done through
// setVariable are applied in name order, throwError raises a business error.
func (exec *execution) executeScriptTask(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error {
	if err := exec.mapTaskInputs(pi, ni, node); err != nil {
		return err
	}
	variables := exec.nodeVariables(pi, ni)
	result, err := exec.engine.scriptRuntime.RunScript(exec.ctx, node.Script, variables.Variables())
	if err != nil {
		return &ExecutionFaultError{ProcessInstanceKey: pi.Key, NodeId: node.Id, Msg: "script failed", Err: err}
	}
	if result.Thrown != nil {
		return &BusinessError{Code: result.Thrown.Code, Message: result.Thrown.Message, NodeId: node.Id}
	}
	for _, name := range slices.Sorted(maps.Keys(result.Variables)) {
		if err := variables.SetVariable(name, result.Variables[name]); err != nil {
			return err
		}
	}
	if len(node.OutputMappings) > 0 {
		if err := exec.applyOutputs(pi, ni, node, map[string]any{ScriptResultVariable: result.Value}); err != nil {
			return &ExpressionEvaluationError{Msg: fmt.Sprintf("failed to evaluate output mappings of %s", node.Id), Err: err}
		}
	}
	exec.completeAndContinue(pi, ni, node)
	return nil
}

// executeBusinessRuleTask inserts the mapped inputs as facts and fires the rules of the rule flow
// group of the task. Output mappings are evaluated against the facts and variables afterwards.
func (exec *execution) executeBusinessRuleTask(pi *runtime.ProcessInstance, ni *runtime.NodeInstance, node *model.Node) error {
	if err := exec.mapTaskInputs(pi, ni, node); err != nil {
		return err
	}
	session := exec.engine.ruleSession
	if ni.Variables != nil && len(node.InputMappings) > 0 {
		for _, mapping := range node.InputMappings {
			session.Insert(mapping.Target, ni.Variables.GetLocalVariable(mapping.Target))
		}
	}
	fired, err := session.FireAllRulesInGroup(exec.ctx, node.RuleFlowGroup)
	if err != nil {
		var limitErr *rules.FireLimitExceededError
		if errors.As(err, &limitErr) {
			return &ExecutionFaultError{ProcessInstanceKey: pi.Key, NodeId: node.Id, Msg: limitErr.Error(), Err: err}
		}
		return &ExecutionFaultError{ProcessInstanceKey: pi.Key, NodeId: node.Id, Msg: "rule evaluation failed", Err: err}
	}
	exec.logger.Debug(fmt.Sprintf("Rule flow group '%s' of %s fired %d rules", node.RuleFlowGroup, node.Id, fired))
	if len(node.OutputMappings) > 0 {
		if err := exec.applyOutputs(pi, ni, node, session.Facts()); err != nil {
			return &ExpressionEvaluationError{Msg: fmt.Sprintf("failed to evaluate output mappings of %s", node.Id), Err: err}
		}
	}
	exec.completeAndContinue(pi, ni, node)
	return nil
}
