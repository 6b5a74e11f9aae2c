// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pbinitiative/feel"
)

// evaluateExpression evaluates FEEL expressions prefixed with "=", anything else is a constant.
func evaluateExpression(expression string, variableContext map[string]interface{}) (interface{}, error) {
	expression = strings.TrimSpace(expression)
	//check if is expression if not treat as constant
	if !strings.HasPrefix(expression, "=") {
		return expression, nil
	}

	expression = strings.TrimPrefix(expression, "=")
	res, err := feel.EvalStringWithScope(expression, variableContext)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %s with variables %v : %w", expression, variableContext, err)
	}
	return res, nil
}

// evaluateCondition evaluates a guard. Constants "true" and "false" are accepted without the "=" prefix.
func evaluateCondition(expression string, variableContext map[string]interface{}) (bool, error) {
	switch strings.TrimSpace(expression) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	out, err := evaluateExpression(expression, variableContext)
	if err != nil {
		return false, err
	}
	return out == true, nil
}

// evaluateMapping resolves the source of a data mapping: a FEEL expression when prefixed with "=",
// the value of the named variable otherwise.
func evaluateMapping(source string, variableContext map[string]interface{}) (interface{}, error) {
	source = strings.TrimSpace(source)
	if strings.HasPrefix(source, "=") {
		return evaluateExpression(source, variableContext)
	}
	return variableContext[source], nil
}

// evaluateCollection resolves the input collection of a multi-instance activity.
func evaluateCollection(source string, variableContext map[string]interface{}) ([]any, error) {
	value, err := evaluateMapping(source, variableContext)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return []any{}, nil
	}
	if items, ok := value.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("input collection %s is %T, not a list", source, value)
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}
