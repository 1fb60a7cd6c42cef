// Package plantuml renders the transitions a machine has taken as a PlantUML
// state diagram.
package plantuml

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/stateforward/go-fsm"
)

func idFromState(state any) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, fmt.Sprint(state))
}

type edge[S comparable] struct {
	source S
	target S
}

// Diagram collects states and transitions in the order they were first seen.
type Diagram[S comparable] struct {
	mutex     sync.Mutex
	name      string
	initial   *S
	states    []S
	visited   map[S]struct{}
	edges     []edge[S]
	traversed map[edge[S]]struct{}
}

func New[S comparable](name string, maybeInitial ...S) *Diagram[S] {
	diagram := &Diagram[S]{
		name:      name,
		visited:   map[S]struct{}{},
		traversed: map[edge[S]]struct{}{},
	}
	if len(maybeInitial) > 0 {
		initial := maybeInitial[0]
		diagram.initial = &initial
		diagram.visit(initial)
	}
	return diagram
}

func (diagram *Diagram[S]) visit(state S) {
	if _, ok := diagram.visited[state]; ok {
		return
	}
	diagram.visited[state] = struct{}{}
	diagram.states = append(diagram.states, state)
}

func (diagram *Diagram[S]) Observe(source, target S) {
	diagram.mutex.Lock()
	defer diagram.mutex.Unlock()
	diagram.visit(source)
	diagram.visit(target)
	edge := edge[S]{source: source, target: target}
	if _, ok := diagram.traversed[edge]; ok {
		return
	}
	diagram.traversed[edge] = struct{}{}
	diagram.edges = append(diagram.edges, edge)
}

// Hook observes every transition of a machine into diagram.
func Hook[S comparable, H any](diagram *Diagram[S]) fsm.Hook[S, H] {
	return func(old, next S, _ H) {
		diagram.Observe(old, next)
	}
}

func (diagram *Diagram[S]) Generate(writer io.Writer) error {
	diagram.mutex.Lock()
	defer diagram.mutex.Unlock()
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "@startuml %s\n", idFromState(diagram.name))
	for _, state := range diagram.states {
		id := idFromState(state)
		if label := fmt.Sprint(state); label != id {
			fmt.Fprintf(builder, "state \"%s\" as %s\n", label, id)
		} else {
			fmt.Fprintf(builder, "state %s\n", id)
		}
	}
	if diagram.initial != nil {
		fmt.Fprintf(builder, "[*] --> %s\n", idFromState(*diagram.initial))
	}
	for _, edge := range diagram.edges {
		fmt.Fprintf(builder, "%s --> %s\n", idFromState(edge.source), idFromState(edge.target))
	}
	builder.WriteString("@enduml\n")
	_, err := io.WriteString(writer, builder.String())
	return err
}
