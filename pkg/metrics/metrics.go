// Package metrics counts machine steps and transitions with Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stateforward/go-fsm"
)

// Step outcomes.
const (
	OutcomeRejected     = "rejected"
	OutcomeIgnored      = "ignored"
	OutcomeTransitioned = "transitioned"
	OutcomeAborted      = "aborted"
)

type Collector struct {
	steps       *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

func New(registerer prometheus.Registerer, namespace string) (*Collector, error) {
	collector := &Collector{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fsm_steps_total",
			Help:      "Total number of steps by machine and outcome (rejected, ignored, transitioned or aborted)",
		}, []string{"machine", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fsm_transitions_total",
			Help:      "Total number of transitions by from and to state",
		}, []string{"from", "to"}),
	}
	for _, counter := range []prometheus.Collector{collector.steps, collector.transitions} {
		if err := registerer.Register(counter); err != nil {
			return nil, fmt.Errorf("failed to register fsm metrics: %w", err)
		}
	}
	return collector, nil
}

func (collector *Collector) Steps() *prometheus.CounterVec {
	return collector.steps
}

func (collector *Collector) Transitions() *prometheus.CounterVec {
	return collector.transitions
}

// Hook counts every transition by the labels of its states. Without a label
// func states are labelled with fmt.Sprint, which suits small enumerated
// states; pass a label func for states carrying data so the number of label
// values stays bounded.
func Hook[S, H any](collector *Collector, maybeLabel ...func(S) string) fsm.Hook[S, H] {
	label := func(state S) string { return fmt.Sprint(state) }
	if len(maybeLabel) > 0 && maybeLabel[0] != nil {
		label = maybeLabel[0]
	}
	return func(old, next S, _ H) {
		collector.transitions.WithLabelValues(label(old), label(next)).Inc()
	}
}

// Trace counts the outcome of every Step of the traced machines.
func (collector *Collector) Trace() fsm.Trace {
	return func(ctx context.Context, element fsm.Element, step string, _ ...any) (context.Context, func(...any)) {
		if step != "Step" {
			return ctx, nil
		}
		return ctx, func(results ...any) {
			collector.steps.WithLabelValues(element.Name(), outcome(results)).Inc()
		}
	}
}

// outcome reads the results of a Step: the event, the transition and whether
// an event was produced.
func outcome(results []any) string {
	if len(results) == 1 {
		if err, ok := results[0].(error); ok && errors.Is(err, fsm.ErrAborted) {
			return OutcomeAborted
		}
	}
	if len(results) != 3 {
		return OutcomeRejected
	}
	if ok, _ := results[2].(bool); !ok {
		return OutcomeRejected
	}
	if transition, isTransition := results[1].(interface{ IsNext() bool }); isTransition && transition.IsNext() {
		return OutcomeTransitioned
	}
	return OutcomeIgnored
}
