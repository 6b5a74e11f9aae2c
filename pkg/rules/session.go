// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package rules provides a small forward chaining rule session. Facts are named values, rules are
// matched against the whole working memory and fired one at a time by salience until no rule is
// eligible or the fire limit is reached.
package rules

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/feel"
)

const DefaultFireLimit = 10000

type Rule struct {
	Name string
	// Group is the agenda group. Rules without a group are always eligible, grouped rules only
	// when their group has the focus.
	Group    string
	Salience int
	// When is a FEEL expression evaluated with facts as variables. Condition is used instead when set.
	When      string
	Condition func(facts map[string]any) bool
	Then      func(wm *WorkingMemory) error
}

type FireLimitExceededError struct {
	Limit int
}

func (e *FireLimitExceededError) Error() string {
	return fmt.Sprintf("fire limit exceeded: rules fired more than %d times, possible infinite loop", e.Limit)
}

// WorkingMemory is handed to rule consequences; writes are visible to subsequent matches of the same firing cycle.
type WorkingMemory struct {
	facts   map[string]any
	version uint64
}

func (wm *WorkingMemory) Get(name string) (any, bool) {
	v, ok := wm.facts[name]
	return v, ok
}

func (wm *WorkingMemory) Insert(name string, value any) {
	wm.facts[name] = value
	wm.version++
}

func (wm *WorkingMemory) Update(name string, value any) {
	wm.Insert(name, value)
}

func (wm *WorkingMemory) Retract(name string) {
	if _, ok := wm.facts[name]; !ok {
		return
	}
	delete(wm.facts, name)
	wm.version++
}

type SessionOption = func(*Session)

func WithFireLimit(limit int) SessionOption {
	return func(s *Session) {
		if limit > 0 {
			s.fireLimit = limit
		}
	}
}

func WithLogger(logger hclog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session is safe for concurrent use. Change listeners are invoked after the session lock is released.
type Session struct {
	mu        *sync.Mutex
	wm        *WorkingMemory
	rules     []Rule
	firedAt   map[string]uint64
	fireLimit int
	listeners []func()
	logger    hclog.Logger
}

func NewSession(options ...SessionOption) *Session {
	s := &Session{
		mu:        &sync.Mutex{},
		wm:        &WorkingMemory{facts: map[string]any{}},
		firedAt:   map[string]uint64{},
		fireLimit: DefaultFireLimit,
		logger:    hclog.Default().Named("rule-session"),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *Session) FireLimit() int {
	return s.fireLimit
}

func (s *Session) AddRule(rule Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("rule without name")
	}
	if rule.When == "" && rule.Condition == nil {
		return fmt.Errorf("rule %s has no condition", rule.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if r.Name == rule.Name {
			return fmt.Errorf("rule %s already exists", rule.Name)
		}
	}
	s.rules = append(s.rules, rule)
	slices.SortStableFunc(s.rules, func(a, b Rule) int {
		return b.Salience - a.Salience
	})
	return nil
}

// OnChange registers a listener called after every change of the working memory.
func (s *Session) OnChange(listener func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

func (s *Session) Insert(name string, value any) {
	s.mu.Lock()
	s.wm.Insert(name, value)
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	notify(listeners)
}

func (s *Session) Update(name string, value any) {
	s.Insert(name, value)
}

func (s *Session) Retract(name string) {
	s.mu.Lock()
	before := s.wm.version
	s.wm.Retract(name)
	changed := before != s.wm.version
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	if changed {
		notify(listeners)
	}
}

func (s *Session) Fact(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wm.Get(name)
}

// Facts returns a copy of the working memory.
func (s *Session) Facts() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.wm.facts)
}

// FireAllRules fires the rules without agenda group.
func (s *Session) FireAllRules(ctx context.Context) (int, error) {
	return s.FireAllRulesInGroup(ctx, "")
}

// FireAllRulesInGroup gives focus to group and fires eligible rules until none is left. A rule is
// eligible when its condition holds and the working memory changed since it last fired.
func (s *Session) FireAllRulesInGroup(ctx context.Context, group string) (int, error) {
	s.mu.Lock()
	startVersion := s.wm.version
	fired, err := s.fire(ctx, group)
	changed := startVersion != s.wm.version
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	if changed {
		notify(listeners)
	}
	return fired, err
}

func (s *Session) fire(ctx context.Context, group string) (int, error) {
	fired := 0
	for {
		if err := ctx.Err(); err != nil {
			return fired, err
		}
		rule, err := s.nextEligible(group)
		if err != nil {
			return fired, err
		}
		if rule == nil {
			return fired, nil
		}
		if fired >= s.fireLimit {
			s.logger.Error(fmt.Sprintf("Rule %s would exceed fire limit of %d", rule.Name, s.fireLimit))
			return fired, &FireLimitExceededError{Limit: s.fireLimit}
		}
		s.firedAt[rule.Name] = s.wm.version
		fired++
		if rule.Then != nil {
			if err := rule.Then(s.wm); err != nil {
				return fired, fmt.Errorf("rule %s consequence failed: %w", rule.Name, err)
			}
		}
	}
}

func (s *Session) nextEligible(group string) (*Rule, error) {
	for i := range s.rules {
		rule := &s.rules[i]
		if rule.Group != "" && rule.Group != group {
			continue
		}
		if v, ok := s.firedAt[rule.Name]; ok && v == s.wm.version {
			continue
		}
		matches, err := s.matches(rule)
		if err != nil {
			return nil, err
		}
		if matches {
			return rule, nil
		}
	}
	return nil, nil
}

func (s *Session) matches(rule *Rule) (bool, error) {
	if rule.Condition != nil {
		return rule.Condition(maps.Clone(s.wm.facts)), nil
	}
	expression := strings.TrimPrefix(strings.TrimSpace(rule.When), "=")
	res, err := feel.EvalStringWithScope(expression, maps.Clone(s.wm.facts))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition of rule %s: %w", rule.Name, err)
	}
	return res == true, nil
}

func notify(listeners []func()) {
	for _, l := range listeners {
		l()
	}
}
