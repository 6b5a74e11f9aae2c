// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pbinitiative/zenengine/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenengine/pkg/rules"
	"github.com/pbinitiative/zenengine/pkg/script"
	"github.com/pbinitiative/zenengine/pkg/storage"
)

type EngineOption = func(*Engine)

func EngineWithName(name string) EngineOption {
	return func(engine *Engine) {
		engine.name = name
	}
}

func EngineWithExporter(exporter exporter.EventExporter) EngineOption {
	return func(engine *Engine) { engine.AddEventExporter(exporter) }
}

// EngineWithStorage sets where definitions and finished instances are kept, in memory by default.
func EngineWithStorage(persistence storage.Storage) EngineOption {
	return func(engine *Engine) {
		engine.persistence = persistence
	}
}

// EngineWithScheduler replaces the wall clock timer scheduler, e.g. by a manually driven one in tests.
func EngineWithScheduler(scheduler Scheduler) EngineOption {
	return func(engine *Engine) {
		engine.scheduler = scheduler
	}
}

func EngineWithRuleSession(session *rules.Session) EngineOption {
	return func(engine *Engine) {
		engine.ruleSession = session
	}
}

// EngineWithRuleFireLimit bounds rule firings per FireAllRules call of the default rule session.
func EngineWithRuleFireLimit(limit int) EngineOption {
	return func(engine *Engine) {
		engine.ruleFireLimit = limit
	}
}

func EngineWithScriptRuntime(runtime script.ScriptRuntime) EngineOption {
	return func(engine *Engine) {
		engine.scriptRuntime = runtime
	}
}

// EngineWithMultiConnection allows tasks and start events with several outgoing connections when
// definitions are loaded through the engine.
func EngineWithMultiConnection(enabled bool) EngineOption {
	return func(engine *Engine) {
		engine.multiConnection = enabled
	}
}

// EngineWithStrictVariables rejects writes that do not match the declared variable type.
func EngineWithStrictVariables(enabled bool) EngineOption {
	return func(engine *Engine) {
		engine.strictVariables = enabled
	}
}

func EngineWithCompletedCacheSize(size int) EngineOption {
	return func(engine *Engine) {
		if size > 0 {
			engine.completedCacheSize = size
		}
	}
}

func EngineWithTracer(tracer trace.Tracer) EngineOption {
	return func(engine *Engine) {
		engine.tracer = tracer
	}
}

func EngineWithMeter(meter metric.Meter) EngineOption {
	return func(engine *Engine) {
		engine.meter = meter
	}
}

func EngineWithLogger(logger hclog.Logger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}
