package transfer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the lifecycle state of a transfer session.
type State int

const (
	Pending State = iota
	Running
	Pausing
	Paused
	Aborting
	Aborted
	Completed
	Failed
)

var stateNames = map[State]string{
	Pending:   "PENDING",
	Running:   "RUNNING",
	Pausing:   "PAUSING",
	Paused:    "PAUSED",
	Aborting:  "ABORTING",
	Aborted:   "ABORTED",
	Completed: "COMPLETED",
	Failed:    "FAILED",
}

var stateFromName = map[string]State{
	"PENDING":   Pending,
	"RUNNING":   Running,
	"PAUSING":   Pausing,
	"PAUSED":    Paused,
	"ABORTING":  Aborting,
	"ABORTED":   Aborted,
	"COMPLETED": Completed,
	"FAILED":    Failed,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// ParseState accepts a state name in any case.
func ParseState(name string) (State, error) {
	if s, ok := stateFromName[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return s, nil
	}
	return Pending, fmt.Errorf("unknown transfer session state %q", name)
}

// IsTerminal reports whether no further action is possible. The logs of a
// terminal session can still be read.
func (s State) IsTerminal() bool {
	return s == Completed || s == Failed || s == Aborted
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Action is what the user asked for when the session view was opened.
type Action int

const (
	ActionNone Action = iota
	ActionStart
	ActionResume
	ActionAbort
)

var actionNames = map[Action]string{
	ActionNone:   "",
	ActionStart:  "start",
	ActionResume: "resume",
	ActionAbort:  "abort",
}

func (a Action) String() string {
	return actionNames[a]
}

// ParseAction maps a requested action name to an Action. The empty string
// is ActionNone.
func ParseAction(name string) (Action, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}
	return ActionNone, fmt.Errorf("unknown requested action %q", name)
}
