// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
)

// ProcessTimerFunc should asynchronously execute the timer and continue processing the process instance
type ProcessTimerFunc func(ctx context.Context, timer runtime.Timer)

// Scheduler fires timers when they are due. Schedule is called again with the same key when a cycle
// timer is rescheduled.
type Scheduler interface {
	Schedule(timer runtime.Timer)
	Cancel(timerKey int64)
	Start(fire ProcessTimerFunc)
	Stop()
}

type waitingTimer struct {
	cancel context.CancelFunc
	timer  runtime.Timer
}

// timerManager is the wall clock Scheduler. Each scheduled timer waits in its own goroutine and is
// handed to the run loop when due, so timers fire one at a time.
type timerManager struct {
	mu               *sync.RWMutex
	ctx              context.Context
	ctxCancelFunc    context.CancelFunc
	ch               chan runtime.Timer
	logger           hclog.Logger
	processTimerFunc ProcessTimerFunc
	waitingTimers    map[int64]waitingTimer
	started          bool
}

func newTimerManager() *timerManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &timerManager{
		ctx:           ctx,
		ctxCancelFunc: cancel,
		mu:            &sync.RWMutex{},
		ch:            make(chan runtime.Timer),
		logger:        hclog.Default().Named("timer-manager"),
		waitingTimers: map[int64]waitingTimer{},
	}
}

// Schedule implements Scheduler
func (tm *timerManager) Schedule(timer runtime.Timer) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if wt, ok := tm.waitingTimers[timer.Key]; ok {
		wt.cancel()
	}
	timerCtx, timerCancel := context.WithCancel(tm.ctx)
	tm.waitingTimers[timer.Key] = waitingTimer{
		cancel: timerCancel,
		timer:  timer,
	}
	go func() {
		t := time.NewTimer(time.Until(timer.DueAt))
		defer t.Stop()
		select {
		case <-t.C:
			select {
			case tm.ch <- timer:
			case <-timerCtx.Done():
			}
		case <-timerCtx.Done():
		}
	}()
}

// Cancel implements Scheduler
func (tm *timerManager) Cancel(timerKey int64) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if wt, ok := tm.waitingTimers[timerKey]; ok {
		wt.cancel()
		delete(tm.waitingTimers, timerKey)
	}
}

// Start implements Scheduler
func (tm *timerManager) Start(fire ProcessTimerFunc) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.started {
		return
	}
	tm.started = true
	tm.processTimerFunc = fire
	go tm.run()
}

// Stop implements Scheduler
func (tm *timerManager) Stop() {
	tm.ctxCancelFunc()
}

func (tm *timerManager) waiting() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.waitingTimers)
}

func (tm *timerManager) run() {
	for {
		select {
		case <-tm.ctx.Done():
			return
		case timer := <-tm.ch:
			tm.mu.Lock()
			if wt, ok := tm.waitingTimers[timer.Key]; ok && wt.timer.DueAt.Equal(timer.DueAt) {
				delete(tm.waitingTimers, timer.Key)
			}
			tm.mu.Unlock()
			tm.logger.Debug("Firing timer", "key", timer.Key, "dueAt", timer.DueAt)
			tm.processTimerFunc(context.Background(), timer)
		}
	}
}
