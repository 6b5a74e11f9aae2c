// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package js

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_script_reads_globals_and_sets_variables(t *testing.T) {
	rt := NewJsRuntime(t.Context(), 2, 1)

	res, err := rt.RunScript(t.Context(), `setVariable("greeting", "hello " + name); name.length`, map[string]any{"name": "world"})

	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Variables["greeting"])
	assert.EqualValues(t, 5, res.Value)
	assert.Nil(t, res.Thrown)
}

func Test_script_globals_do_not_leak_between_runs(t *testing.T) {
	rt := NewJsRuntime(t.Context(), 1, 1)

	_, err := rt.RunScript(t.Context(), `1`, map[string]any{"secret": "x"})
	require.NoError(t, err)

	res, err := rt.RunScript(t.Context(), `typeof secret`, nil)
	require.NoError(t, err)
	assert.Equal(t, "undefined", res.Value)
}

func Test_script_throw_error(t *testing.T) {
	rt := NewJsRuntime(t.Context(), 1, 1)

	res, err := rt.RunScript(t.Context(), `throwError("E42", "broken"); setVariable("never", true)`, nil)

	require.NoError(t, err)
	require.NotNil(t, res.Thrown)
	assert.Equal(t, "E42", res.Thrown.Code)
	assert.Equal(t, "broken", res.Thrown.Message)
	assert.NotContains(t, res.Variables, "never")
}

func Test_script_syntax_error(t *testing.T) {
	rt := NewJsRuntime(t.Context(), 1, 1)

	_, err := rt.RunScript(t.Context(), `this is not javascript`, nil)

	assert.Error(t, err)
}

func Test_script_interrupted_by_context(t *testing.T) {
	rt := NewJsRuntime(t.Context(), 1, 1)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := rt.RunScript(ctx, `while(true) {}`, nil)

	assert.Error(t, err)
}
