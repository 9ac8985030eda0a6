package orchestrator

import "github.com/envforge/envforge/pkg/types"

// transitions is the Environment lifecycle's legal-move table. A move not
// listed here (other than the universal escapes below) is rejected.
var transitions = map[types.EnvironmentStatus][]types.EnvironmentStatus{
	types.StatusCreating: {types.StatusRunning, types.StatusFailed, types.StatusStopping},
	types.StatusRunning:  {types.StatusStopping},
	types.StatusStopping: {types.StatusStopped},
	types.StatusStopped:  {types.StatusStarting},
	types.StatusStarting: {types.StatusRunning},
	types.StatusFailed:   {types.StatusStarting},
	types.StatusDeleting: {types.StatusDestroyed, types.StatusError},
	types.StatusError:    {types.StatusDeleting},
}

// terminal states the universal "delete" and "error" escapes cannot
// originate from. DELETING still reaches ERROR through its own entry in
// transitions, when teardown fails.
func isTerminal(s types.EnvironmentStatus) bool {
	return s == types.StatusDeleting || s == types.StatusDestroyed
}

// canTransition reports whether moving from -> to is a legal edge: either
// listed explicitly in transitions, or one of the two universal escapes
// (any non-terminal state -> DELETING on user delete, any non-terminal
// state -> ERROR on unhandled driver failure).
func canTransition(from, to types.EnvironmentStatus) bool {
	if to == types.StatusDeleting && !isTerminal(from) {
		return true
	}
	if to == types.StatusError && !isTerminal(from) {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
