// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import (
	"fmt"
	"maps"
	"reflect"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
)

// VariableChangeListener is notified after a variable was written to a scope.
type VariableChangeListener func(name string, oldValue any, newValue any)

// VariableTypeError is returned by strict scopes when a value does not match the declared type.
type VariableTypeError struct {
	Name     string
	Declared string
	Actual   string
}

func (e *VariableTypeError) Error() string {
	return fmt.Sprintf("variable '%s' is declared as %s but got %s", e.Name, e.Declared, e.Actual)
}

// VariableScope is a hierarchical key/value store. Reads fall through to the parent scope,
// writes go to the nearest scope that already holds the variable.
type VariableScope struct {
	parent         *VariableScope
	localVariables map[string]any
	types          map[string]string
	strict         bool
	listeners      []VariableChangeListener
}

// NewVariableScope creates a scope with a given parent and localVariables map.
func NewVariableScope(parent *VariableScope, localVariables map[string]any) *VariableScope {
	if localVariables == nil {
		localVariables = make(map[string]any)
	} else {
		localVariables = maps.Clone(localVariables)
	}
	return &VariableScope{
		parent:         parent,
		localVariables: localVariables,
		types:          map[string]string{},
	}
}

// NewProcessVariableScope creates the root scope of a process instance seeded with declared defaults.
func NewProcessVariableScope(declarations []model.VariableDeclaration, strict bool) *VariableScope {
	vs := NewVariableScope(nil, nil)
	vs.strict = strict
	for _, d := range declarations {
		if d.Type != "" {
			vs.types[d.Name] = d.Type
		}
		if d.Default != nil {
			vs.localVariables[d.Name] = d.Default
		}
	}
	return vs
}

// copyWithParent copies the local variables and declarations of vs under parent. Listeners are not copied.
func (vs *VariableScope) copyWithParent(parent *VariableScope) *VariableScope {
	c := NewVariableScope(parent, vs.localVariables)
	c.types = maps.Clone(vs.types)
	if c.types == nil {
		c.types = map[string]string{}
	}
	c.strict = vs.strict
	return c
}

func (vs *VariableScope) Parent() *VariableScope {
	return vs.parent
}

// OnChange registers a listener notified of every write in this scope and its descendants.
func (vs *VariableScope) OnChange(listener VariableChangeListener) {
	vs.listeners = append(vs.listeners, listener)
}

func (vs *VariableScope) LocalVariables() map[string]any {
	return vs.localVariables
}

// Variables returns all visible variables, inner scopes shadowing outer ones.
func (vs *VariableScope) Variables() map[string]any {
	res := map[string]any{}
	if vs.parent != nil {
		res = vs.parent.Variables()
	}
	maps.Copy(res, vs.localVariables)
	return res
}

func (vs *VariableScope) GetVariable(key string) any {
	v, _ := vs.Lookup(key)
	return v
}

func (vs *VariableScope) Lookup(key string) (any, bool) {
	for s := vs; s != nil; s = s.parent {
		if v, ok := s.localVariables[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func (vs *VariableScope) GetLocalVariable(key string) any {
	return vs.localVariables[key]
}

// SetVariable writes into the nearest scope holding key, or into the root scope when no scope does.
func (vs *VariableScope) SetVariable(key string, value any) error {
	target := vs
	for s := vs; s != nil; s = s.parent {
		if _, ok := s.localVariables[key]; ok {
			target = s
			break
		}
		if s.parent == nil {
			target = s
		}
	}
	return target.SetLocalVariable(key, value)
}

func (vs *VariableScope) SetLocalVariable(key string, value any) error {
	if err := vs.checkType(key, value); err != nil {
		return err
	}
	old := vs.localVariables[key]
	vs.localVariables[key] = value
	vs.notify(key, old, value)
	return nil
}

func (vs *VariableScope) SetLocalVariables(variables map[string]any) error {
	for k, v := range variables {
		if err := vs.SetLocalVariable(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (vs *VariableScope) DeleteLocalVariable(key string) {
	delete(vs.localVariables, key)
}

// TypeOf returns the declared type of key, if any scope declares one.
func (vs *VariableScope) TypeOf(key string) string {
	for s := vs; s != nil; s = s.parent {
		if t, ok := s.types[key]; ok {
			return t
		}
	}
	return ""
}

func (vs *VariableScope) isStrict() bool {
	for s := vs; s != nil; s = s.parent {
		if s.strict {
			return true
		}
	}
	return false
}

func (vs *VariableScope) checkType(key string, value any) error {
	declared := vs.TypeOf(key)
	if declared == "" || value == nil || !vs.isStrict() {
		return nil
	}
	if !matchesType(declared, value) {
		return &VariableTypeError{Name: key, Declared: declared, Actual: reflect.TypeOf(value).String()}
	}
	return nil
}

func (vs *VariableScope) notify(key string, old, value any) {
	for s := vs; s != nil; s = s.parent {
		for _, l := range s.listeners {
			l(key, old, value)
		}
	}
}

func matchesType(declared string, value any) bool {
	kind := reflect.TypeOf(value).Kind()
	switch declared {
	case "string":
		return kind == reflect.String
	case "integer", "int", "long":
		switch kind {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return true
		}
		return false
	case "float", "double", "number":
		switch kind {
		case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int32, reflect.Int64:
			return true
		}
		return false
	case "boolean", "bool":
		return kind == reflect.Bool
	case "list":
		return kind == reflect.Slice || kind == reflect.Array
	case "map":
		return kind == reflect.Map
	default:
		return true
	}
}

// EvaluateAndSetMappingsToLocalVariables sets local variables according to mappings evaluated against
// the variables visible from this scope.
// uses a replaceable evaluateExpression() function eg. engine.evaluateExpression()
func (vs *VariableScope) EvaluateAndSetMappingsToLocalVariables(mappings []model.Mapping, evaluateExpression func(expression string, variableContext map[string]any) (any, error)) error {
	source := vs.Variables()
	for _, mapping := range mappings {
		evalResult, err := evaluateExpression(mapping.Source, source)
		if err != nil {
			return err
		}
		if err := vs.SetLocalVariable(mapping.Target, evalResult); err != nil {
			return err
		}
	}
	return nil
}

// PropagateOutputVariables writes outputVariables into target according to mappings. Without mappings
// every output variable is written as is.
func PropagateOutputVariables(target *VariableScope, local map[string]any, mappings []model.Mapping, outputVariables map[string]any, evaluateExpression func(expression string, variableContext map[string]any) (any, error)) (map[string]any, error) {
	if len(mappings) == 0 {
		for k, v := range outputVariables {
			if err := target.SetVariable(k, v); err != nil {
				return nil, err
			}
		}
		return outputVariables, nil
	}

	localScope := mergeLocalVariablesWithOutputVariables(local, outputVariables)
	outputVariablesWithOutputMappings := make(map[string]any)
	for _, mapping := range mappings {
		evalResult, err := evaluateExpression(mapping.Source, localScope)
		if err != nil {
			return nil, err
		}
		outputVariablesWithOutputMappings[mapping.Target] = evalResult
		if err := target.SetVariable(mapping.Target, evalResult); err != nil {
			return nil, err
		}
	}
	return outputVariablesWithOutputMappings, nil
}

func mergeLocalVariablesWithOutputVariables(localVariables map[string]any, outputVariables map[string]any) map[string]any {
	localScope := make(map[string]any)
	maps.Copy(localScope, localVariables)
	maps.Copy(localScope, outputVariables)
	return localScope
}
