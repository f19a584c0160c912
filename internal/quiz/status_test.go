package quiz

import (
	"errors"
	"testing"
	"time"

	"github.com/edubridge/classquiz/internal/model"
)

var t0 = time.Date(2025, 5, 12, 9, 0, 0, 0, time.UTC)

func hourQuiz() Schedule {
	return Schedule{Start: t0, Duration: 60 * time.Minute}
}

func TestStatusAt(t *testing.T) {
	s := hourQuiz()
	tests := []struct {
		name      string
		at        time.Time
		submitted bool
		want      model.QuizStatus
	}{
		{"well before", t0.Add(-time.Hour), false, model.StatusUpcoming},
		{"just before buffer", t0.Add(-10*time.Minute - time.Second), false, model.StatusUpcoming},
		{"buffer start inclusive", t0.Add(-10 * time.Minute), false, model.StatusAvailable},
		{"five minutes early", t0.Add(-5 * time.Minute), false, model.StatusAvailable},
		{"midway", t0.Add(30 * time.Minute), false, model.StatusAvailable},
		{"buffer end inclusive", t0.Add(70 * time.Minute), false, model.StatusAvailable},
		{"after buffer", t0.Add(70*time.Minute + time.Second), false, model.StatusMissed},
		{"long after", t0.Add(75 * time.Minute), false, model.StatusMissed},
		{"submitted early", t0.Add(-time.Hour), true, model.StatusSubmitted},
		{"submitted late", t0.Add(48 * time.Hour), true, model.StatusSubmitted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusAt(s, tt.submitted, tt.at); got != tt.want {
				t.Errorf("StatusAt() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusPartition(t *testing.T) {
	s := hourQuiz()
	for m := -120; m <= 180; m++ {
		at := t0.Add(time.Duration(m) * time.Minute)
		got := StatusAt(s, false, at)
		switch got {
		case model.StatusUpcoming, model.StatusAvailable, model.StatusMissed:
		default:
			t.Fatalf("minute %d: unexpected status %q without submission", m, got)
		}
		if StatusAt(s, true, at) != model.StatusSubmitted {
			t.Fatalf("minute %d: submission did not stick", m)
		}
	}
}

func TestEndToEndScenario(t *testing.T) {
	s := hourQuiz()

	// The buffer opens the quiz ten minutes early.
	if got := StatusAt(s, false, t0.Add(-5*time.Minute)); got != model.StatusAvailable {
		t.Errorf("T-5m: got %q, want available", got)
	}
	if got := StatusAt(s, false, t0.Add(-11*time.Minute)); got != model.StatusUpcoming {
		t.Errorf("T-11m: got %q, want upcoming", got)
	}
	if got := StatusAt(s, false, t0.Add(30*time.Minute)); got != model.StatusAvailable {
		t.Errorf("T+30m: got %q, want available", got)
	}
	if err := CanSubmit(s, false, t0.Add(30*time.Minute)); err != nil {
		t.Fatalf("submit at T+30m: %v", err)
	}
	if got := StatusAt(s, true, t0.Add(31*time.Minute)); got != model.StatusSubmitted {
		t.Errorf("after submit: got %q, want submitted", got)
	}
	if got := StatusAt(s, false, t0.Add(75*time.Minute)); got != model.StatusMissed {
		t.Errorf("second participant at T+75m: got %q, want missed", got)
	}
}

func TestCanStartLeniency(t *testing.T) {
	s := hourQuiz()
	p := Policy{Buffer: 10 * time.Minute, StartLeniency: 5 * time.Minute}

	tests := []struct {
		name    string
		at      time.Time
		wantErr error
	}{
		{"too early", t0.Add(-11 * time.Minute), model.ErrNotAvailable},
		{"in window", t0, nil},
		{"in leniency", t0.Add(74 * time.Minute), nil},
		{"past leniency", t0.Add(76 * time.Minute), model.ErrNotAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.CanStart(s, false, tt.at)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CanStart() = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// Leniency never extends the submission deadline.
	if err := p.CanSubmit(s, false, t0.Add(74*time.Minute)); !errors.Is(err, model.ErrNotAvailable) {
		t.Errorf("CanSubmit in leniency = %v, want ErrNotAvailable", err)
	}
	if err := p.CanStart(s, true, t0); !errors.Is(err, model.ErrAlreadySubmitted) {
		t.Errorf("CanStart after submit = %v, want ErrAlreadySubmitted", err)
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultPolicy.Validate(); err != nil {
		t.Errorf("default policy invalid: %v", err)
	}
	if err := (Policy{Buffer: DefaultBuffer, StartLeniency: 20 * time.Minute}).Validate(); err == nil {
		t.Error("expected error for leniency over 15 minutes")
	}
}
