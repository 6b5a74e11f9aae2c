// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pbinitiative/zenengine/internal/config"
	"github.com/pbinitiative/zenengine/internal/log"
	"github.com/pbinitiative/zenengine/internal/otel"
	"github.com/pbinitiative/zenengine/internal/rest"
	"github.com/pbinitiative/zenengine/pkg/bpmn"
	"github.com/pbinitiative/zenengine/pkg/bpmn/exporter"
)

func main() {
	conf, err := config.InitConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %s\n", err)
		os.Exit(1)
	}
	logger := log.Init(conf.Log)

	appContext, ctxCancel := context.WithCancel(context.Background())

	openTelemetry, err := otel.SetupOtel(conf.Tracing)
	if err != nil {
		log.Error("Failed to set up OTEL: %s", err)
		os.Exit(1)
	}

	engine := bpmn.NewEngine(
		bpmn.EngineWithName(conf.Name),
		bpmn.EngineWithLogger(logger.Named("engine")),
		bpmn.EngineWithExporter(exporter.NewLogExporter(logger.Named("exporter"))),
		bpmn.EngineWithMultiConnection(conf.Engine.MultiConnection),
		bpmn.EngineWithStrictVariables(conf.Engine.StrictVariables),
		bpmn.EngineWithRuleFireLimit(conf.Engine.RuleFireLimit),
		bpmn.EngineWithCompletedCacheSize(conf.Engine.CompletedCacheSize),
	)
	if err := registerDefinitions(appContext, engine, conf.Engine.DefinitionsDir); err != nil {
		log.Error("Failed to register process definitions: %s", err)
		os.Exit(1)
	}
	engine.Start()

	// Start the public API
	svr := rest.NewServer(engine, conf, openTelemetry.Requests)
	if _, err := svr.Start(); err != nil {
		log.Error("Failed to start REST server: %s", err)
		os.Exit(1)
	}

	appStop := make(chan os.Signal, 2)
	handleSigterm(appStop, appContext)

	ctxCancel()
	// cleanup
	svr.Stop(context.Background())
	engine.Stop()
	openTelemetry.Stop(context.Background())
}

// registerDefinitions registers every YAML process definition found in dir, in file name order.
func registerDefinitions(ctx context.Context, engine *bpmn.Engine, dir string) error {
	if dir == "" {
		return nil
	}
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return err
		}
		files = append(files, matches...)
	}
	for _, file := range files {
		definition, err := engine.RegisterProcessFromFile(ctx, file)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		log.Info("Loaded %s as %s version %d", file, definition.BpmnProcessId, definition.Version)
	}
	return nil
}

func handleSigterm(appStop chan os.Signal, ctx context.Context) {
	signal.Notify(appStop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-appStop
	log.Infof(ctx, "Received %s. Shutting down", sig.String())
}
