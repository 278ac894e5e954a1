package engine

import (
	"errors"
	"fmt"
	"sync"
)

// State is a pipeline state.
type State string

const (
	StateInit                  State = "init"
	StateResolvingRequirements State = "resolving_requirements"
	StateGathering             State = "gathering"
	StateComputing             State = "computing"
	StateValidating            State = "validating"
	StateBuildingEvidence      State = "building_evidence"
	StateScoring               State = "scoring"
	StateAssembling            State = "assembling"
	StateDone                  State = "done"
	StateAborted               State = "aborted"
)

// ErrIllegalTransition is a programming error in the orchestrator.
var ErrIllegalTransition = errors.New("illegal pipeline transition")

type transitions map[State][]State

// intentTransitions is walked by every planned intent. Aborted is terminal
// and reachable from the three working states only.
var intentTransitions = transitions{
	StateInit:                  {StateResolvingRequirements},
	StateResolvingRequirements: {StateGathering},
	StateGathering:             {StateComputing, StateAborted},
	StateComputing:             {StateValidating, StateAborted},
	StateValidating:            {StateDone, StateAborted},
}

// questionTransitions is walked once per question after every intent is
// terminal, whatever the intents' outcomes.
var questionTransitions = transitions{
	StateInit:             {StateBuildingEvidence},
	StateBuildingEvidence: {StateScoring},
	StateScoring:          {StateAssembling},
	StateAssembling:       {StateDone},
}

// machine tracks one state machine and its trail.
type machine struct {
	mu     sync.Mutex
	name   string
	table  transitions
	state  State
	trail  []State
	reason string
}

func newMachine(name string, table transitions) *machine {
	return &machine{name: name, table: table, state: StateInit, trail: []State{StateInit}}
}

// to moves the machine to next.
func (m *machine) to(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, allowed := range m.table[m.state] {
		if allowed == next {
			m.state = next
			m.trail = append(m.trail, next)
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, m.name, m.state, next)
}

// abort moves to Aborted and keeps the first reason.
func (m *machine) abort(reason string) error {
	if err := m.to(StateAborted); err != nil {
		return err
	}
	m.mu.Lock()
	m.reason = reason
	m.mu.Unlock()
	return nil
}

func (m *machine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *machine) aborted() bool { return m.current() == StateAborted }

// Trail returns the visited states as strings.
func (m *machine) Trail() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.trail))
	for _, s := range m.trail {
		out = append(out, string(s))
	}
	return out
}
