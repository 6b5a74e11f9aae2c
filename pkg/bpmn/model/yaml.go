// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type yamlNode struct {
	Node `yaml:",inline"`
	Kind string `yaml:"kind"`
}

type yamlDefinition struct {
	Id          string                `yaml:"id"`
	Name        string                `yaml:"name"`
	SLA         string                `yaml:"sla"`
	Metadata    map[string]string     `yaml:"metadata"`
	Variables   []VariableDeclaration `yaml:"variables"`
	Nodes       []yamlNode            `yaml:"nodes"`
	Connections []Connection          `yaml:"connections"`
}

// LoadYAMLFile reads a process definition document from disk.
func LoadYAMLFile(filename string, opts BuildOptions) (*ProcessDefinition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read process definition %s: %w", filename, err)
	}
	return LoadYAML(data, opts)
}

// LoadYAML builds a process definition out of its YAML document form.
func LoadYAML(data []byte, opts BuildOptions) (*ProcessDefinition, error) {
	var doc yamlDefinition
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal process definition: %w", err)
	}
	if doc.Id == "" {
		return nil, newValidationError("", "", "process definition without id")
	}
	b := NewBuilder(doc.Id)
	if doc.Name != "" {
		b.Name(doc.Name)
	}
	b.SLA(doc.SLA)
	for k, v := range doc.Metadata {
		b.Metadata(k, v)
	}
	for _, v := range doc.Variables {
		b.Variable(v.Name, v.Type, v.Default)
	}
	for _, yn := range doc.Nodes {
		kind := ParseNodeKind(yn.Kind)
		if kind == 0 {
			return nil, newValidationError(doc.Id, yn.Id, fmt.Sprintf("unknown node kind '%s'", yn.Kind))
		}
		n := yn.Node
		n.Kind = kind
		b.Add(&n)
	}
	for _, c := range doc.Connections {
		var conn *Connection
		if c.Id == "" {
			conn = b.Connect(c.Source, c.Target)
		} else {
			conn = b.ConnectId(c.Id, c.Source, c.Target)
		}
		conn.Condition = c.Condition
		conn.Priority = c.Priority
	}
	return b.Build(opts)
}
