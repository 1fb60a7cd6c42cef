// Package tests holds assertions for machines, views and events that are
// shared by the tests of packages built on fsm.
package tests

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stateforward/go-fsm"
)

// Lawful checks both lens laws of view for every state and part:
// Extract(Inject(s, t)) == t and Inject(s, Extract(s)) == s.
func Lawful[S, T any](t testing.TB, view fsm.View[S, T], states []S, parts []T) bool {
	t.Helper()
	lawful := true
	for _, state := range states {
		lawful = assert.Equal(t, state, view.Inject(state, view.Extract(state)), "inject of the extracted part must keep the state") && lawful
		for _, part := range parts {
			lawful = assert.Equal(t, part, view.Extract(view.Inject(state, part)), "extract must observe the injected part") && lawful
		}
	}
	return lawful
}

// Deterministic fires event against state n times and checks every
// transition equals the first one.
func Deterministic[E fsm.Event[S], S any](t testing.TB, state S, event E, n int) bool {
	t.Helper()
	first := event.Fire(state)
	for i := 1; i < n; i++ {
		if !assert.Equal(t, first, event.Fire(state), "fire %d differs from the first", i) {
			return false
		}
	}
	return true
}

// Expect checks the results of fsm.Step. A nil wantEvent expects the command
// to be rejected.
func Expect[E any, S any](t testing.TB, event E, transition fsm.Transition[S], ok bool, wantEvent *E, wantTransition fsm.Transition[S]) bool {
	t.Helper()
	if wantEvent == nil {
		return assert.False(t, ok, "command should be rejected, got %v", event) &&
			assert.True(t, transition.IsSame(), "rejected command must not transition, got %v", transition)
	}
	return assert.True(t, ok, "command should produce an event") &&
		assert.Equal(t, *wantEvent, event) &&
		assert.Equal(t, wantTransition, transition)
}
