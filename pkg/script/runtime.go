// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package script

import "context"

// ThrownError is a business error raised by a script through throwError(code, message).
type ThrownError struct {
	Code    string
	Message string
}

func (e *ThrownError) Error() string {
	return "script threw error " + e.Code + ": " + e.Message
}

type Result struct {
	// Value is the completion value of the script.
	Value any
	// Variables are the writes done through setVariable(name, value), in call order per name.
	Variables map[string]any
	// Thrown is set when the script raised a business error.
	Thrown *ThrownError
}

type ScriptRuntime interface {
	// RunScript executes script with variables exposed as globals.
	RunScript(ctx context.Context, script string, variables map[string]any) (Result, error)
}
