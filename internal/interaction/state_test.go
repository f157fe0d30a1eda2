package interaction

import (
	"errors"
	"testing"
)

func TestAdvance(t *testing.T) {
	tests := []struct {
		from    State
		ev      Event
		want    State
		wantErr error
	}{
		{AwaitingEmail, EventLoginPrompt, AwaitingEmail, nil},
		{AwaitingEmail, EventEmailSubmitted, AwaitingCode, nil},
		{AwaitingCode, EventCodeRejected, AwaitingCode, nil},
		{AwaitingCode, EventCodeAccepted, Resolved, nil},
		{AwaitingEmail, EventProviderChosen, AwaitingFederatedRedirect, nil},
		{AwaitingFederatedRedirect, EventRedirected, AwaitingFederatedCallback, nil},
		{AwaitingFederatedCallback, EventCallbackVerified, Resolved, nil},
		{AwaitingFederatedCallback, EventAbortRequested, Aborted, nil},
		{AwaitingCode, EventAbortRequested, Aborted, nil},
		{Resolved, EventAbortRequested, Resolved, ErrFinished},
		{Aborted, EventEmailSubmitted, Aborted, ErrFinished},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			got, err := Advance(tt.from, tt.ev)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected err %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestStateOf(t *testing.T) {
	if s := StateOf(&Details{}); s != AwaitingEmail {
		t.Errorf("expected AwaitingEmail, got %s", s)
	}
	if s := StateOf(&Details{Result: &Result{Login: &LoginResult{AccountID: "a"}}}); s != Resolved {
		t.Errorf("expected Resolved, got %s", s)
	}
	abort := AbortResult()
	if s := StateOf(&Details{Result: &abort}); s != Aborted {
		t.Errorf("expected Aborted, got %s", s)
	}
}
