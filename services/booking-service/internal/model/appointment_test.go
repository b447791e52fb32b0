package model

import "testing"

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePending, StateConfirmed, true},
		{StatePending, StateAwaitingDeposit, true},
		{StatePending, StateCancelled, true},
		{StateAwaitingDeposit, StateConfirmed, true},
		{StateAwaitingDeposit, StateCancelled, true},
		{StateAwaitingDeposit, StatePending, false},
		{StateConfirmed, StateCancelled, true},
		{StateConfirmed, StatePending, false},
		{StateConfirmed, StateAwaitingDeposit, false},
		{StateCancelled, StatePending, false},
		{StateCancelled, StateConfirmed, false},
		{StateCancelled, StateCancelled, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestInitialState_DepositPolicyWins(t *testing.T) {
	tests := []struct {
		name            string
		manual, deposit bool
		want            State
	}{
		{"no policy", false, false, StateConfirmed},
		{"manual only", true, false, StatePending},
		{"deposit only", false, true, StateAwaitingDeposit},
		{"deposit beats manual", true, true, StateAwaitingDeposit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InitialState(tt.manual, tt.deposit); got != tt.want {
				t.Fatalf("InitialState(%v, %v) = %s, want %s", tt.manual, tt.deposit, got, tt.want)
			}
		})
	}
}

func TestStateValid(t *testing.T) {
	for _, s := range []State{StatePending, StateAwaitingDeposit, StateConfirmed, StateCancelled} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if State("booked").Valid() {
		t.Error("unknown state should be invalid")
	}
	if !StateCancelled.Terminal() || StateConfirmed.Terminal() {
		t.Error("only cancelled is terminal")
	}
}
