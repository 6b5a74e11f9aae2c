// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigFromFile(t *testing.T) {
	// setup
	dir := t.TempDir()
	fileName := filepath.Join(dir, "conf.yaml")
	content := `
name: orders
server:
  addr: ":9090"
engine:
  strictVariables: true
  ruleFireLimit: 50
  definitionsDir: /processes
log:
  level: DEBUG
`
	require.NoError(t, os.WriteFile(fileName, []byte(content), 0o600))

	// when
	conf, err := ReadConfig(fileName)

	// then
	require.NoError(t, err)
	assert.Equal(t, "orders", conf.Name)
	assert.Equal(t, ":9090", conf.Server.Addr)
	assert.True(t, conf.Engine.StrictVariables)
	assert.Equal(t, 50, conf.Engine.RuleFireLimit)
	assert.Equal(t, 1000, conf.Engine.CompletedCacheSize)
	assert.Equal(t, "/processes", conf.Engine.DefinitionsDir)
	assert.Equal(t, "DEBUG", conf.Log.Level)
	assert.Equal(t, "orders", conf.Tracing.Name)
}

func TestReadConfigFromEnvWithoutFile(t *testing.T) {
	// given
	t.Setenv("REST_API_ADDR", ":7070")
	t.Setenv("ENGINE_MULTI_CONNECTION", "true")

	// when
	conf, err := ReadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	// then
	require.NoError(t, err)
	assert.Equal(t, ":7070", conf.Server.Addr)
	assert.True(t, conf.Engine.MultiConnection)
	assert.Equal(t, "zenengine", conf.Name)
	assert.Equal(t, "INFO", conf.Log.Level)
}
