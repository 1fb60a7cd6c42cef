package fsm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stateforward/go-fsm"
	"github.com/stateforward/go-fsm/pkg/tests"
)

type Device struct {
	Power State
	Label string
}

var power = fsm.NewLens(
	func(device Device) State { return device.Power },
	func(device Device, power State) Device {
		device.Power = power
		return device
	},
)

type Rack struct {
	Device Device
	Slot   int
}

var device = fsm.NewLens(
	func(rack Rack) Device { return rack.Device },
	func(rack Rack, device Device) Rack {
		rack.Device = device
		return rack
	},
)

func TestLensLaws(t *testing.T) {
	devices := []Device{{Power: Started, Label: "a"}, {Power: Stopped, Label: "b"}, {}}
	states := []State{Started, Stopped}
	tests.Lawful[Device, State](t, power, devices, states)
	tests.Lawful[State, State](t, fsm.Identity[State]{}, states, states)

	racks := []Rack{{Device: devices[0], Slot: 1}, {Device: devices[1], Slot: 7}}
	tests.Lawful[Rack, Device](t, device, racks, devices)
	tests.Lawful[Rack, State](t, fsm.Compose[Rack, Device, State](device, power), racks, states)
}

func TestFocus(t *testing.T) {
	var seen []Device
	machine := fsm.Focus[Device, State, *EffectHandlers](power, func(old, next Device, handlers *EffectHandlers) {
		seen = append(seen, old, next)
		onTransition(old.Power, next.Power, handlers)
	})
	handlers := &EffectHandlers{}
	current := Device{Power: Stopped, Label: "pump"}

	event, transition, ok := fsm.Step[Event](machine, current, Start, handlers)
	tests.Expect(t, event, transition, ok, ptr(StartedEvent), fsm.Next(Device{Power: Started, Label: "pump"}))
	require.Len(t, seen, 2)
	assert.Equal(t, current, seen[0])
	assert.Equal(t, Device{Power: Started, Label: "pump"}, seen[1])
	assert.Equal(t, Stopped, current.Power, "the caller's state must not be mutated")
	current = transition.Apply(current)

	event, transition, ok = fsm.Step[Event](machine, current, Start, handlers)
	tests.Expect(t, event, transition, ok, nil, fsm.Same[Device]())
	assert.Len(t, seen, 2)

	_, transition, _ = fsm.Step[stopped](machine, current, stop{}, handlers)
	assert.Equal(t, fsm.Next(Device{Power: Stopped, Label: "pump"}), transition)
	handlers.expect(t, 1, 1, 1, 1)
}

func TestFocusComposed(t *testing.T) {
	machine := fsm.Focus[Rack, State, *EffectHandlers](fsm.Compose[Rack, Device, State](device, power))
	rack := Rack{Device: Device{Power: Stopped, Label: "fan"}, Slot: 3}

	_, transition, ok := fsm.Step[Event](machine, rack, Start, &EffectHandlers{})
	require.True(t, ok)
	assert.Equal(t, fsm.Next(Rack{Device: Device{Power: Started, Label: "fan"}, Slot: 3}), transition)

	replayed := fsm.Replay(machine, rack, StartedEvent, StoppedEvent, StartedEvent)
	assert.Equal(t, Rack{Device: Device{Power: Started, Label: "fan"}, Slot: 3}, replayed)
}

// A machine over the identity view behaves exactly like calling Execute and
// Fire directly.
func TestIdentityIsTransparent(t *testing.T) {
	machine := fsm.New[State, *EffectHandlers]()
	for _, state := range []State{Started, Stopped} {
		for _, command := range []Command{Start, Stop} {
			direct := &EffectHandlers{}
			wantEvent, wantOk := command.Execute(state, direct)
			wantTransition := fsm.Same[State]()
			if wantOk {
				wantTransition = wantEvent.Fire(state)
			}

			stepped := &EffectHandlers{}
			event, transition, ok := fsm.Step[Event](machine, state, command, stepped)
			assert.Equal(t, wantOk, ok)
			assert.Equal(t, wantTransition, transition)
			if ok {
				assert.Equal(t, wantEvent, event)
			}
			assert.Equal(t, direct, stepped)
		}
	}
}

func TestEventsAreDeterministic(t *testing.T) {
	for _, state := range []State{Started, Stopped} {
		tests.Deterministic(t, state, StartedEvent, 5)
		tests.Deterministic(t, state, StoppedEvent, 5)
		tests.Deterministic(t, state, started{}, 5)
	}
}

func TestNewLensRequiresFunctions(t *testing.T) {
	assert.Panics(t, func() {
		fsm.NewLens[Device, State](nil, func(device Device, power State) Device { return device })
	})
	assert.Panics(t, func() {
		fsm.Compose[Rack, Device, State](nil, power)
	})
}

func ptr[T any](value T) *T {
	return &value
}
