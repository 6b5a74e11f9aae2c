// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package log configures the default hclog logger of the binary.
package log

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/pbinitiative/zenengine/internal/config"
)

type correlationKey struct{}

// Init replaces the default logger; components derive named loggers from it.
func Init(conf config.Log) hclog.Logger {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "zenengine",
		Level:      hclog.LevelFromString(conf.Level),
		JSONFormat: conf.Json,
		Output:     os.Stderr,
	})
	hclog.SetDefault(logger)
	return logger
}

// WithCorrelationId stores the request correlation id for Infof and Errorf.
func WithCorrelationId(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func CorrelationId(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func Info(format string, args ...any) {
	hclog.Default().Info(fmt.Sprintf(format, args...))
}

func Error(format string, args ...any) {
	hclog.Default().Error(fmt.Sprintf(format, args...))
}

func Infof(ctx context.Context, format string, args ...any) {
	hclog.Default().Info(fmt.Sprintf(format, args...), contextArgs(ctx)...)
}

func Errorf(ctx context.Context, format string, args ...any) {
	hclog.Default().Error(fmt.Sprintf(format, args...), contextArgs(ctx)...)
}

func contextArgs(ctx context.Context) []any {
	if id := CorrelationId(ctx); id != "" {
		return []any{"correlationId", id}
	}
	return nil
}
