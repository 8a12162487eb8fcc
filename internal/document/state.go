package document

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// stateMachine wraps the declared state graph of a document. Documents whose
// type declares no states accept any transition.
type stateMachine struct {
	fsm *fsm.FSM
}

func newStateMachine(b *Behaviours) *stateMachine {
	if len(b.States) == 0 {
		return nil
	}
	current := b.State
	if current == "" {
		current = b.States[0].Name
	}

	// One event per reachable target state, sources merged across the graph.
	sources := make(map[string][]string)
	order := make([]string, 0, len(b.States))
	for _, s := range b.States {
		for _, to := range s.To {
			if _, seen := sources[to]; !seen {
				order = append(order, to)
			}
			sources[to] = append(sources[to], s.Name)
		}
	}
	events := make(fsm.Events, 0, len(order))
	for _, to := range order {
		events = append(events, fsm.EventDesc{Name: to, Src: sources[to], Dst: to})
	}
	return &stateMachine{fsm: fsm.NewFSM(current, events, fsm.Callbacks{})}
}

// SetState transitions the document to the target state. Setting the current
// state again is a no-op, which keeps change-log replay idempotent. A
// transition the declared state graph does not allow is an error and leaves
// the document's state untouched.
func (d *Document) SetState(ctx context.Context, toState string) error {
	if toState == "" || d.State() == toState {
		return nil
	}
	if d.Behaviours == nil {
		d.Behaviours = &Behaviours{}
	}
	if d.machine == nil {
		d.Behaviours.State = toState
		return nil
	}
	if err := d.machine.fsm.Event(ctx, toState); err != nil {
		return fmt.Errorf("document %s: transition %q -> %q: %w", d.ID, d.State(), toState, err)
	}
	d.Behaviours.State = toState
	return nil
}
