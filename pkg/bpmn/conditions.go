// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
)

// exclusivelyFilterByConditionExpression
// [From BPMN 2.0 Specification, chapter 10.5.2 Exclusive Gateway]
// A diverging Exclusive Gateway (Decision) is used to create alternative paths within a Process flow. For a given
// instance of the Process, only one of the paths can be taken.
// A default path can optionally be identified, to be taken in the event that none of the conditional Expressions evaluate
// to true. If a default path is not specified and the Process is executed such that none of the conditional Expressions
// evaluates to true, a runtime exception occurs.
// flows must be ordered by priority; the first flow whose condition holds wins.
func exclusivelyFilterByConditionExpression(processId string, gatewayId string, flows []*model.Connection, defaultFlow *model.Connection, variableContext map[string]interface{}) ([]*model.Connection, error) {
	for _, flow := range flows {
		if defaultFlow != nil && flow.Id == defaultFlow.Id {
			continue
		}
		if flow.Condition == "" {
			// one unconditional flow is enough to proceed further
			return []*model.Connection{flow}, nil
		}
		out, err := evaluateCondition(flow.Condition, variableContext)
		if err != nil {
			return nil, &ExpressionEvaluationError{
				Msg: fmt.Sprintf("Error evaluating expression in flow element id='%s'", flow.Id),
				Err: err,
			}
		}
		if out {
			return []*model.Connection{flow}, nil
		}
	}
	if defaultFlow != nil {
		return []*model.Connection{defaultFlow}, nil
	}
	return nil, &NoEnabledConnectionError{ProcessId: processId, NodeId: gatewayId}
}

// inclusivelyFilterByConditionExpression
// [From BPMN 2.0 Specification, chapter 10.5.3 Inclusive Gateway]
// A diverging Inclusive Gateway (Inclusive Decision) can be used to create alternative but also parallel paths within a
// Process flow. Unlike the Exclusive Gateway, all condition Expressions are evaluated. All Sequence Flows with
// a true evaluation will be traversed by a token.
func inclusivelyFilterByConditionExpression(processId string, gatewayId string, flows []*model.Connection, defaultFlow *model.Connection, variableContext map[string]interface{}) ([]*model.Connection, error) {
	var ret []*model.Connection
	for _, flow := range flows {
		if defaultFlow != nil && flow.Id == defaultFlow.Id {
			continue
		}
		if flow.Condition == "" {
			ret = append(ret, flow)
			continue
		}
		out, err := evaluateCondition(flow.Condition, variableContext)
		if err != nil {
			return nil, &ExpressionEvaluationError{
				Msg: fmt.Sprintf("Error evaluating expression in flow element id='%s'", flow.Id),
				Err: err,
			}
		}
		if out {
			ret = append(ret, flow)
		}
	}
	if len(ret) == 0 {
		if defaultFlow == nil {
			return nil, &NoEnabledConnectionError{ProcessId: processId, NodeId: gatewayId}
		}
		ret = append(ret, defaultFlow)
	}
	return ret, nil
}
