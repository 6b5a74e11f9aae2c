// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package js

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/pbinitiative/zenengine/pkg/script"
)

type JsRunnerFactory struct {
}

func (JsRunnerFactory) NewRunner() script.Runner {
	return newJsRunner()
}

type JsRuntime struct {
	pool *script.RunnerPool
}

var _ script.ScriptRuntime = &JsRuntime{}

func NewJsRuntime(ctx context.Context, maxVmPoolSize int, minVmPoolSize int) *JsRuntime {
	return &JsRuntime{
		pool: script.NewRunnerPool(ctx, JsRunnerFactory{}, maxVmPoolSize, minVmPoolSize),
	}
}

func (r *JsRuntime) RunScript(ctx context.Context, source string, variables map[string]any) (script.Result, error) {
	var runner = r.pool.GetRunnerFromPool()
	defer r.pool.ReturnRunnerToPool(runner)

	return runner.(*JsRunner).runScript(ctx, source, variables)
}

type JsRunner struct {
	vm *goja.Runtime
}

func (r *JsRunner) Runner() {}

func newJsRunner() *JsRunner {
	r := JsRunner{vm: goja.New()}
	return &r
}

var errThrown = errors.New("business error thrown")

func (r *JsRunner) runScript(ctx context.Context, source string, variables map[string]any) (script.Result, error) {
	result := script.Result{Variables: map[string]any{}}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	global := r.vm.GlobalObject()
	bound := make([]string, 0, len(variables)+2)
	defer func() {
		for _, name := range bound {
			_ = global.Delete(name)
		}
		r.vm.ClearInterrupt()
	}()

	bind := func(name string, value any) error {
		if err := r.vm.Set(name, value); err != nil {
			return fmt.Errorf("failed to bind %s: %w", name, err)
		}
		bound = append(bound, name)
		return nil
	}
	for k, v := range variables {
		if err := bind(k, v); err != nil {
			return result, err
		}
	}
	err := bind("setVariable", func(name string, value goja.Value) {
		result.Variables[name] = value.Export()
	})
	if err != nil {
		return result, err
	}
	err = bind("throwError", func(code string, message string) {
		result.Thrown = &script.ThrownError{Code: code, Message: message}
		panic(r.vm.NewGoError(errThrown))
	})
	if err != nil {
		return result, err
	}

	stop := context.AfterFunc(ctx, func() {
		r.vm.Interrupt(ctx.Err())
	})
	defer stop()

	resp, err := r.vm.RunString(source)
	if result.Thrown != nil {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("error running script \"%s\" : %w", source, err)
	}
	if resp != nil {
		result.Value = resp.Export()
	}
	return result, nil
}
