// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/senseyeio/duration"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type timerSchedule struct {
	kind    model.TimerKind
	dueAt   time.Time
	period  time.Duration
	cron    string
	repeats int
}

// parseTimerExpression understands ISO 8601 dates, durations and repeating intervals ("R3/PT10S",
// "R/PT1H"), Go durations ("90s") and cron expressions for cycles. An empty kind is inferred.
func parseTimerExpression(kind model.TimerKind, expression string, now time.Time) (timerSchedule, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return timerSchedule{}, newEngineErrorf("empty timer expression")
	}
	if kind == "" {
		kind = inferTimerKind(expression)
	}
	switch kind {
	case model.TimerDate:
		dueAt, err := time.Parse(time.RFC3339, expression)
		if err != nil {
			return timerSchedule{}, fmt.Errorf("invalid timer date '%s': %w", expression, err)
		}
		return timerSchedule{kind: kind, dueAt: dueAt}, nil
	case model.TimerDuration:
		dueAt, err := shiftByDuration(expression, now)
		if err != nil {
			return timerSchedule{}, err
		}
		return timerSchedule{kind: kind, dueAt: dueAt}, nil
	case model.TimerCycle:
		return parseCycle(expression, now)
	}
	return timerSchedule{}, newEngineErrorf("unknown timer kind '%s'", kind)
}

func inferTimerKind(expression string) model.TimerKind {
	if strings.HasPrefix(expression, "R") || strings.HasPrefix(expression, "@") || strings.Count(expression, " ") >= 4 {
		return model.TimerCycle
	}
	if _, err := time.Parse(time.RFC3339, expression); err == nil {
		return model.TimerDate
	}
	return model.TimerDuration
}

func shiftByDuration(expression string, from time.Time) (time.Time, error) {
	if d, err := duration.ParseISO8601(expression); err == nil {
		return d.Shift(from), nil
	}
	d, err := time.ParseDuration(expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timer duration '%s': %w", expression, err)
	}
	return from.Add(d), nil
}

func parseCycle(expression string, now time.Time) (timerSchedule, error) {
	if !strings.HasPrefix(expression, "R") {
		schedule, err := cronParser.Parse(expression)
		if err != nil {
			return timerSchedule{}, fmt.Errorf("invalid timer cycle '%s': %w", expression, err)
		}
		return timerSchedule{kind: model.TimerCycle, dueAt: schedule.Next(now), cron: expression, repeats: -1}, nil
	}
	parts := strings.Split(expression, "/")
	if len(parts) < 2 || len(parts) > 3 {
		return timerSchedule{}, newEngineErrorf("invalid timer cycle '%s'", expression)
	}
	repeats := -1
	if parts[0] != "R" {
		n, err := strconv.Atoi(parts[0][1:])
		if err != nil || n < 1 {
			return timerSchedule{}, newEngineErrorf("invalid repetition count in timer cycle '%s'", expression)
		}
		repeats = n
	}
	start := now
	if len(parts) == 3 {
		var err error
		start, err = time.Parse(time.RFC3339, parts[1])
		if err != nil {
			return timerSchedule{}, fmt.Errorf("invalid start of timer cycle '%s': %w", expression, err)
		}
	}
	first, err := shiftByDuration(parts[len(parts)-1], start)
	if err != nil {
		return timerSchedule{}, err
	}
	period := first.Sub(start)
	if period <= 0 {
		return timerSchedule{}, newEngineErrorf("timer cycle '%s' has no positive period", expression)
	}
	remaining := -1
	if repeats > 0 {
		remaining = repeats - 1
	}
	return timerSchedule{kind: model.TimerCycle, dueAt: first, period: period, repeats: remaining}, nil
}

// nextFiring returns when a cycle timer fires next, false when it is done.
func nextFiring(timer runtime.Timer, now time.Time) (time.Time, bool) {
	if timer.Kind != model.TimerCycle || timer.RemainingRepeats == 0 {
		return time.Time{}, false
	}
	if timer.Cron != "" {
		schedule, err := cronParser.Parse(timer.Cron)
		if err != nil {
			return time.Time{}, false
		}
		return schedule.Next(now), true
	}
	next := timer.DueAt.Add(timer.Period)
	if next.Before(now) {
		next = now
	}
	return next, true
}

// newTimer builds an event timer; FEEL timer expressions are evaluated against variables first.
func (engine *Engine) newTimer(def *model.EventDefinition, variables map[string]any, now time.Time) (runtime.Timer, error) {
	expression := def.TimerExpression
	if strings.HasPrefix(strings.TrimSpace(expression), "=") {
		value, err := evaluateExpression(expression, variables)
		if err != nil {
			return runtime.Timer{}, &ExpressionEvaluationError{Msg: "failed to evaluate timer expression", Err: err}
		}
		expression = fmt.Sprint(value)
	}
	schedule, err := parseTimerExpression(def.TimerKind, expression, now)
	if err != nil {
		return runtime.Timer{}, err
	}
	return runtime.Timer{
		Key:              engine.generateKey(),
		Purpose:          runtime.TimerForEvent,
		Kind:             schedule.kind,
		TimerState:       runtime.TimerStateCreated,
		CreatedAt:        now,
		DueAt:            schedule.dueAt,
		Period:           schedule.period,
		Cron:             schedule.cron,
		RemainingRepeats: schedule.repeats,
	}, nil
}

func (engine *Engine) addTimer(timer runtime.Timer) {
	engine.mu.Lock()
	engine.timers[timer.Key] = timer
	engine.mu.Unlock()
	engine.scheduler.Schedule(timer)
}

func (engine *Engine) cancelTimer(key int64) {
	engine.mu.Lock()
	_, ok := engine.timers[key]
	delete(engine.timers, key)
	engine.mu.Unlock()
	if ok {
		engine.scheduler.Cancel(key)
	}
}

// removeTimer forgets a timer that fired for the last time.
func (engine *Engine) removeTimer(key int64) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	delete(engine.timers, key)
}

func (engine *Engine) timer(key int64) (runtime.Timer, bool) {
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	t, ok := engine.timers[key]
	return t, ok
}

// rescheduleOrRemove arms the next firing of a cycle timer or forgets a timer that is done. It
// reports whether the timer fires again.
func (engine *Engine) rescheduleOrRemove(timer runtime.Timer) bool {
	next, ok := nextFiring(timer, time.Now())
	if !ok {
		engine.removeTimer(timer.Key)
		return false
	}
	if timer.RemainingRepeats > 0 {
		timer.RemainingRepeats--
	}
	timer.DueAt = next
	engine.mu.Lock()
	if _, alive := engine.timers[timer.Key]; !alive {
		engine.mu.Unlock()
		return false
	}
	engine.timers[timer.Key] = timer
	engine.mu.Unlock()
	engine.scheduler.Schedule(timer)
	return true
}

// Timers returns the pending timers of a process instance ordered by due date.
func (engine *Engine) Timers(processInstanceKey int64) []runtime.Timer {
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	var res []runtime.Timer
	for _, t := range engine.timers {
		if t.ProcessInstanceKey == processInstanceKey {
			res = append(res, t)
		}
	}
	slices.SortFunc(res, func(a, b runtime.Timer) int {
		return a.DueAt.Compare(b.DueAt)
	})
	return res
}
