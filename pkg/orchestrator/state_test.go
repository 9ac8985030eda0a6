package orchestrator

import (
	"testing"

	"github.com/envforge/envforge/pkg/types"
)

func TestCanTransitionLegalMoves(t *testing.T) {
	cases := []struct {
		from types.EnvironmentStatus
		to   types.EnvironmentStatus
	}{
		{types.StatusCreating, types.StatusRunning},
		{types.StatusCreating, types.StatusFailed},
		{types.StatusCreating, types.StatusStopping},
		{types.StatusRunning, types.StatusStopping},
		{types.StatusStopping, types.StatusStopped},
		{types.StatusStopped, types.StatusStarting},
		{types.StatusStarting, types.StatusRunning},
		{types.StatusFailed, types.StatusStarting},
		{types.StatusDeleting, types.StatusDestroyed},
		{types.StatusDeleting, types.StatusError},
		{types.StatusError, types.StatusDeleting},
	}
	for _, c := range cases {
		if !canTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s to be legal", c.from, c.to)
		}
	}
}

func TestCanTransitionIllegalMoves(t *testing.T) {
	cases := []struct {
		from types.EnvironmentStatus
		to   types.EnvironmentStatus
	}{
		{types.StatusRunning, types.StatusStarting},
		{types.StatusStopped, types.StatusRunning},
		{types.StatusCreating, types.StatusStopped},
		{types.StatusDestroyed, types.StatusRunning},
		{types.StatusDestroyed, types.StatusDeleting},
	}
	for _, c := range cases {
		if canTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s to be illegal", c.from, c.to)
		}
	}
}

func TestCanTransitionUniversalEscapes(t *testing.T) {
	nonTerminal := []types.EnvironmentStatus{
		types.StatusCreating, types.StatusStarting, types.StatusRunning,
		types.StatusStopping, types.StatusStopped, types.StatusFailed, types.StatusError,
	}
	for _, from := range nonTerminal {
		if !canTransition(from, types.StatusDeleting) {
			t.Errorf("expected %s -> DELETING to be legal (universal escape)", from)
		}
	}
	for _, from := range nonTerminal {
		if from == types.StatusError {
			continue // ERROR -> ERROR isn't meaningful, not tested here
		}
		if !canTransition(from, types.StatusError) {
			t.Errorf("expected %s -> ERROR to be legal (universal escape)", from)
		}
	}
}

func TestCanTransitionTerminalStatesRejectEscapes(t *testing.T) {
	terminal := []types.EnvironmentStatus{types.StatusDeleting, types.StatusDestroyed}
	for _, from := range terminal {
		if canTransition(from, types.StatusDeleting) && from == types.StatusDestroyed {
			t.Errorf("expected DESTROYED -> DELETING to be illegal")
		}
		if canTransition(from, types.StatusError) && from == types.StatusDestroyed {
			t.Errorf("expected DESTROYED -> ERROR to be illegal: a destroyed environment doesn't escalate")
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if !isTerminal(types.StatusDeleting) {
		t.Error("DELETING should be terminal")
	}
	if !isTerminal(types.StatusDestroyed) {
		t.Error("DESTROYED should be terminal")
	}
	if isTerminal(types.StatusRunning) {
		t.Error("RUNNING should not be terminal")
	}
}
