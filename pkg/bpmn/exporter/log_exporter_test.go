// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package exporter

import (
	"bytes"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
)

func Test_log_exporter_writes_sla_violations_as_warnings(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := hclog.New(&hclog.LoggerOptions{Output: buf, Level: hclog.Warn})
	exp := NewLogExporter(logger)

	exp.NewElementEvent(&ProcessInstanceEvent{ProcessInstanceKey: 1}, &ElementInfo{ElementId: "task", Intent: string(ElementActivated)})
	exp.NewSLAViolationEvent(&ProcessInstanceEvent{ProcessInstanceKey: 1}, &SLAInfo{ElementId: "task"})

	assert.NotContains(t, buf.String(), string(ElementActivated))
	assert.Contains(t, buf.String(), "SLA violated")
	assert.Contains(t, buf.String(), "elementId=task")
}
