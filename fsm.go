// Package fsm provides event-sourced finite state machines.
//
// A Machine receives a command, lets the command perform at most one effect
// through a caller supplied handler, and turns the resulting event into a
// Transition. Events never perform effects, so the same events can be replayed
// to rebuild a state.
//
// Commands and events may be written against a narrow part of a larger state.
// A View maps the whole state to that part and back, and the Machine lifts every
// transition over the part into a transition over the whole:
//
//	type Toggle int
//
//	type Device struct {
//	    Power Toggle
//	    Label string
//	}
//
//	power := fsm.NewLens(
//	    func(device Device) Toggle { return device.Power },
//	    func(device Device, power Toggle) Device { device.Power = power; return device },
//	)
//	machine := fsm.Focus[Device, Toggle, *Effects](power)
//	event, transition, ok := fsm.Step[Switched](machine, device, Switch{}, effects)
//
// The caller owns the state. A Machine never stores it.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

/******* Transition *******/

// Transition is the outcome of firing an event: either the next state or no
// change. Next and Same are the only ways to build one.
type Transition[S any] struct {
	next S
	ok   bool
}

func Next[S any](state S) Transition[S] {
	return Transition[S]{next: state, ok: true}
}

func Same[S any]() Transition[S] {
	return Transition[S]{}
}

func (transition Transition[S]) Get() (S, bool) {
	return transition.next, transition.ok
}

func (transition Transition[S]) IsNext() bool {
	return transition.ok
}

func (transition Transition[S]) IsSame() bool {
	return !transition.ok
}

// Apply returns the next state, or state unchanged when the transition is Same.
func (transition Transition[S]) Apply(state S) S {
	if transition.ok {
		return transition.next
	}
	return state
}

func (transition Transition[S]) String() string {
	if !transition.ok {
		return "Same"
	}
	return fmt.Sprintf("Next(%v)", transition.next)
}

/******* View *******/

// View projects a whole state S onto a part T and injects an updated part back.
// Implementations must be lawful: Extract(Inject(s, t)) == t and
// Inject(s, Extract(s)) == s.
type View[S, T any] interface {
	Extract(state S) T
	Inject(state S, part T) S
}

// Identity views a state as itself.
type Identity[S any] struct{}

func (Identity[S]) Extract(state S) S {
	return state
}

func (Identity[S]) Inject(_ S, part S) S {
	return part
}

type Lens[S, T any] struct {
	extract func(state S) T
	inject  func(state S, part T) S
}

func NewLens[S, T any](extract func(state S) T, inject func(state S, part T) S) Lens[S, T] {
	if extract == nil || inject == nil {
		slog.Error("lens requires both extract and inject")
		panic(fmt.Errorf("lens requires both extract and inject"))
	}
	return Lens[S, T]{extract: extract, inject: inject}
}

func (lens Lens[S, T]) Extract(state S) T {
	return lens.extract(state)
}

func (lens Lens[S, T]) Inject(state S, part T) S {
	return lens.inject(state, part)
}

// Compose chains two views so that a part nested two levels deep can be
// reached from the outermost state. The result is lawful when both views are.
func Compose[A, B, C any](outer View[A, B], inner View[B, C]) Lens[A, C] {
	if outer == nil || inner == nil {
		slog.Error("compose requires both views")
		panic(fmt.Errorf("compose requires both views"))
	}
	return NewLens(
		func(state A) C {
			return inner.Extract(outer.Extract(state))
		},
		func(state A, part C) A {
			return outer.Inject(state, inner.Inject(outer.Extract(state), part))
		},
	)
}

func lift[S, T any](view View[S, T], state S, transition Transition[T]) Transition[S] {
	next, ok := transition.Get()
	if !ok {
		return Same[S]()
	}
	return Next(view.Inject(state, next))
}

/******* Events & Commands *******/

// Event decides a transition for the state it is fired against. Fire must be
// free of side effects and return the same result for the same arguments.
type Event[S any] interface {
	Fire(state S) Transition[S]
}

// Command optionally performs an effect through handler and reports the event
// it produced. Returning false rejects the command; it is not an error.
type Command[S, H any, E Event[S]] interface {
	Execute(state S, handler H) (E, bool)
}

/******* Machine *******/

type Element interface {
	Name() string
	Id() string
}

// Hook runs after a transition to a new state was computed, with the whole
// states on both sides.
type Hook[S, H any] func(old, next S, handler H)

// Reaction is a Hook that also receives the command and the event that caused
// the transition, for effects that depend on them.
type Reaction[S, H any] func(old, next S, command, event any, handler H)

// ErrAborted is the only result passed to a trace's end func when the step
// did not return, for example because a hook panicked.
var ErrAborted = errors.New("fsm: step aborted")

// Trace is called when a step begins, with the context of the enclosing step.
// It returns the context nested steps are traced in and a func, which may be
// nil, called with the step's results when the step ends.
type Trace func(ctx context.Context, element Element, step string, values ...any) (context.Context, func(...any))

// Traces fans a trace point out to every trace in order and ends them in
// reverse.
func Traces(traces ...Trace) Trace {
	return func(ctx context.Context, element Element, step string, values ...any) (context.Context, func(...any)) {
		ends := make([]func(...any), 0, len(traces))
		for _, trace := range traces {
			if trace == nil {
				continue
			}
			var end func(...any)
			ctx, end = trace(ctx, element, step, values...)
			if end != nil {
				ends = append(ends, end)
			}
		}
		return ctx, func(results ...any) {
			for i := len(ends) - 1; i >= 0; i-- {
				ends[i](results...)
			}
		}
	}
}

// Machine runs commands and events defined over T against a whole state S
// through a View. H is the effect handler, usually a pointer.
type Machine[S, T, H any] struct {
	name      string
	id        string
	view      View[S, T]
	hooks     []Hook[S, H]
	reactions []Reaction[S, H]
	trace     Trace
	logger    *slog.Logger
}

// New creates a machine whose commands and events operate on S directly.
func New[S, H any](maybeHooks ...Hook[S, H]) *Machine[S, S, H] {
	return Focus[S, S, H](Identity[S]{}, maybeHooks...)
}

// Focus creates a machine whose commands and events operate on the part of S
// selected by view.
func Focus[S, T, H any](view View[S, T], maybeHooks ...Hook[S, H]) *Machine[S, T, H] {
	if view == nil {
		slog.Error("machine requires a view")
		panic(fmt.Errorf("machine requires a view"))
	}
	hooks := make([]Hook[S, H], 0, len(maybeHooks))
	for _, hook := range maybeHooks {
		if hook != nil {
			hooks = append(hooks, hook)
		}
	}
	return &Machine[S, T, H]{
		name:  "fsm",
		id:    uuid.NewString(),
		view:  view,
		hooks: hooks,
	}
}

func WithName[S, T, H any](machine *Machine[S, T, H], name string) *Machine[S, T, H] {
	machine.name = name
	return machine
}

func WithTrace[S, T, H any](machine *Machine[S, T, H], trace Trace) *Machine[S, T, H] {
	machine.trace = trace
	return machine
}

func WithLogger[S, T, H any](machine *Machine[S, T, H], logger *slog.Logger) *Machine[S, T, H] {
	machine.logger = logger
	return machine
}

// WithReactions adds reactions, which run after the hooks on every transition
// to a new state.
func WithReactions[S, T, H any](machine *Machine[S, T, H], reactions ...Reaction[S, H]) *Machine[S, T, H] {
	for _, reaction := range reactions {
		if reaction != nil {
			machine.reactions = append(machine.reactions, reaction)
		}
	}
	return machine
}

func (machine *Machine[S, T, H]) Name() string {
	if machine == nil {
		return ""
	}
	return machine.name
}

func (machine *Machine[S, T, H]) Id() string {
	if machine == nil {
		return ""
	}
	return machine.id
}

func (machine *Machine[S, T, H]) View() View[S, T] {
	if machine == nil {
		return nil
	}
	return machine.view
}

func (machine *Machine[S, T, H]) debug(msg string, args ...any) {
	if machine.logger == nil {
		return
	}
	machine.logger.Debug(msg, append([]any{"name", machine.name, "id", machine.id}, args...)...)
}

// begin starts tracing step. The returned end func is nil when the machine is
// not traced.
func (machine *Machine[S, T, H]) begin(ctx context.Context, step string, values ...any) (context.Context, func(...any)) {
	if machine.trace == nil {
		return ctx, nil
	}
	return machine.trace(ctx, machine, step, values...)
}

// abort ends a step with ErrAborted unless *completed was set.
func abort(end func(...any), completed *bool) {
	if !*completed {
		end(ErrAborted)
	}
}

func (machine *Machine[S, T, H]) onTransition(ctx context.Context, old, next S, command, event any, handler H) {
	_, end := machine.begin(ctx, "OnTransition", old, next)
	if end == nil {
		machine.react(old, next, command, event, handler)
		return
	}
	completed := false
	defer abort(end, &completed)
	machine.react(old, next, command, event, handler)
	completed = true
	end()
}

func (machine *Machine[S, T, H]) react(old, next S, command, event any, handler H) {
	for _, hook := range machine.hooks {
		hook(old, next, handler)
	}
	for _, reaction := range machine.reactions {
		reaction(old, next, command, event, handler)
	}
}

func forCommand[E Event[T], C Command[T, H, E], S, T, H any](ctx context.Context, machine *Machine[S, T, H], state S, command C, handler H) (event E, ok bool) {
	_, end := machine.begin(ctx, "ForCommand", state, command)
	if end == nil {
		return command.Execute(machine.view.Extract(state), handler)
	}
	completed := false
	defer abort(end, &completed)
	event, ok = command.Execute(machine.view.Extract(state), handler)
	completed = true
	end(event, ok)
	return event, ok
}

func forEvent[E Event[T], S, T, H any](ctx context.Context, machine *Machine[S, T, H], state S, event E) Transition[S] {
	_, end := machine.begin(ctx, "ForEvent", state, event)
	if end == nil {
		return lift(machine.view, state, event.Fire(machine.view.Extract(state)))
	}
	completed := false
	defer abort(end, &completed)
	transition := lift(machine.view, state, event.Fire(machine.view.Extract(state)))
	completed = true
	end(transition)
	return transition
}

// ForCommand executes command against the viewed part of state. It may
// perform effects through handler.
func ForCommand[E Event[T], C Command[T, H, E], S, T, H any](machine *Machine[S, T, H], state S, command C, handler H) (E, bool) {
	return forCommand[E](context.Background(), machine, state, command, handler)
}

// ForEvent fires event against the viewed part of state and lifts the result
// back into a transition over the whole state. It has no side effects.
func ForEvent[E Event[T], S, T, H any](machine *Machine[S, T, H], state S, event E) Transition[S] {
	return forEvent(context.Background(), machine, state, event)
}

// Step runs command, fires the event it produced and, on a transition to a
// new state, invokes the machine's hooks. ok is false when the command
// produced no event, in which case the transition is always Same.
func Step[E Event[T], C Command[T, H, E], S, T, H any](machine *Machine[S, T, H], state S, command C, handler H) (E, Transition[S], bool) {
	return StepContext[E](context.Background(), machine, state, command, handler)
}

// StepContext is Step with the traces of the step nested under ctx. ctx is
// never used for cancellation.
func StepContext[E Event[T], C Command[T, H, E], S, T, H any](ctx context.Context, machine *Machine[S, T, H], state S, command C, handler H) (E, Transition[S], bool) {
	ctx, end := machine.begin(ctx, "Step", state, command)
	if end == nil {
		return step[E](ctx, machine, state, command, handler)
	}
	completed := false
	defer abort(end, &completed)
	event, transition, ok := step[E](ctx, machine, state, command, handler)
	completed = true
	end(event, transition, ok)
	return event, transition, ok
}

func step[E Event[T], C Command[T, H, E], S, T, H any](ctx context.Context, machine *Machine[S, T, H], state S, command C, handler H) (E, Transition[S], bool) {
	event, ok := forCommand[E](ctx, machine, state, command, handler)
	if !ok {
		machine.debug("command rejected", "command", command)
		var zero E
		return zero, Same[S](), false
	}
	transition := forEvent(ctx, machine, state, event)
	next, changed := transition.Get()
	if !changed {
		machine.debug("event ignored", "command", command, "event", event)
		return event, transition, true
	}
	machine.debug("transition", "command", command, "event", event, "old", state, "next", next)
	machine.onTransition(ctx, state, next, command, event, handler)
	return event, transition, true
}

// Replay folds events over state the way they were originally applied. Hooks
// are not invoked and no handler is involved.
func Replay[E Event[T], S, T, H any](machine *Machine[S, T, H], state S, events ...E) S {
	return ReplayContext(context.Background(), machine, state, events...)
}

func ReplayContext[E Event[T], S, T, H any](ctx context.Context, machine *Machine[S, T, H], state S, events ...E) S {
	ctx, end := machine.begin(ctx, "Replay", state, len(events))
	completed := false
	if end != nil {
		defer abort(end, &completed)
	}
	for _, event := range events {
		state = forEvent(ctx, machine, state, event).Apply(state)
	}
	completed = true
	if end != nil {
		end(state)
	}
	return state
}
