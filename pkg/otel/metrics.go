// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

import (
	"errors"

	"go.opentelemetry.io/otel/metric"
)

type EngineMetrics struct {
	ProcessesStarted   metric.Int64Counter
	ProcessesEnded     metric.Int64Counter
	ProcessesRunning   metric.Int64UpDownCounter
	WorkItemsCreated   metric.Int64Counter
	WorkItemsCompleted metric.Int64Counter
	WorkItemsFailed    metric.Int64Counter
	EventsDispatched   metric.Int64Counter
	TimersFired        metric.Int64Counter
	SLAViolations      metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*EngineMetrics, error) {
	var errJoin error

	processesStartedTotal, err := meter.Int64Counter("processes_started", metric.WithDescription("Number of processes started"))
	errJoin = errors.Join(errJoin, err)

	processesEndedTotal, err := meter.Int64Counter("processes_ended", metric.WithDescription("Number of processes that reached a terminal state"))
	errJoin = errors.Join(errJoin, err)

	processesRunning, err := meter.Int64UpDownCounter("processes_running", metric.WithDescription("Number of processes currently running"))
	errJoin = errors.Join(errJoin, err)

	workItemsCreated, err := meter.Int64Counter("work_items_created", metric.WithDescription("Number of work items created"))
	errJoin = errors.Join(errJoin, err)

	workItemsCompleted, err := meter.Int64Counter("work_items_completed", metric.WithDescription("Number of work items completed"))
	errJoin = errors.Join(errJoin, err)

	workItemsFailed, err := meter.Int64Counter("work_items_failed", metric.WithDescription("Number of work items failed"))
	errJoin = errors.Join(errJoin, err)

	eventsDispatched, err := meter.Int64Counter("events_dispatched", metric.WithDescription("Number of event subscriptions triggered by signals, messages and conditions"))
	errJoin = errors.Join(errJoin, err)

	timersFired, err := meter.Int64Counter("timers_fired", metric.WithDescription("Number of timers fired"))
	errJoin = errors.Join(errJoin, err)

	slaViolations, err := meter.Int64Counter("sla_violations", metric.WithDescription("Number of SLA violations"))
	errJoin = errors.Join(errJoin, err)

	metrics := EngineMetrics{
		ProcessesStarted:   processesStartedTotal,
		ProcessesEnded:     processesEndedTotal,
		ProcessesRunning:   processesRunning,
		WorkItemsCreated:   workItemsCreated,
		WorkItemsCompleted: workItemsCompleted,
		WorkItemsFailed:    workItemsFailed,
		EventsDispatched:   eventsDispatched,
		TimersFired:        timersFired,
		SLAViolations:      slaViolations,
	}
	return &metrics, errJoin
}
