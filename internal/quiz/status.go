package quiz

import (
	"fmt"
	"time"

	"github.com/edubridge/classquiz/internal/model"
)

// DefaultBuffer is the grace period on both sides of a quiz window.
const DefaultBuffer = 10 * time.Minute

// MaxStartLeniency bounds the extra time granted to start attempts.
const MaxStartLeniency = 15 * time.Minute

// Schedule is the time window of a quiz.
type Schedule struct {
	Start    time.Time
	Duration time.Duration
}

// End returns the nominal end of the window.
func (s Schedule) End() time.Time {
	return s.Start.Add(s.Duration)
}

// ScheduleOf returns the schedule of q.
func ScheduleOf(q *model.Quiz) Schedule {
	return Schedule{Start: q.StartTime, Duration: time.Duration(q.Duration) * time.Minute}
}

// Policy holds the buffers applied around a quiz window. Start attempts may
// additionally be accepted up to StartLeniency after the missed boundary;
// the submission deadline always stays at end + Buffer.
type Policy struct {
	Buffer        time.Duration
	StartLeniency time.Duration
}

// DefaultPolicy is a 10 minute buffer with 5 minutes of start leniency.
var DefaultPolicy = Policy{Buffer: DefaultBuffer, StartLeniency: 5 * time.Minute}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.Buffer < 0 {
		return fmt.Errorf("status buffer must not be negative")
	}
	if p.StartLeniency < 0 || p.StartLeniency > MaxStartLeniency {
		return fmt.Errorf("start leniency must be between 0 and %s", MaxStartLeniency)
	}
	return nil
}

// StatusAt evaluates the participant-facing status at t. A submission wins
// over everything else and never expires.
func (p Policy) StatusAt(s Schedule, submitted bool, t time.Time) model.QuizStatus {
	switch {
	case submitted:
		return model.StatusSubmitted
	case t.Before(s.Start.Add(-p.Buffer)):
		return model.StatusUpcoming
	case t.After(s.End().Add(p.Buffer)):
		return model.StatusMissed
	}
	return model.StatusAvailable
}

// CanStart reports whether a start attempt at t is accepted.
func (p Policy) CanStart(s Schedule, submitted bool, t time.Time) error {
	if submitted {
		return model.ErrAlreadySubmitted
	}
	if t.Before(s.Start.Add(-p.Buffer)) {
		return fmt.Errorf("%w: quiz opens at %s", model.ErrNotAvailable, s.Start.Format(time.RFC3339))
	}
	if t.After(s.End().Add(p.Buffer + p.StartLeniency)) {
		return fmt.Errorf("%w: quiz closed at %s", model.ErrNotAvailable, s.End().Format(time.RFC3339))
	}
	return nil
}

// CanSubmit reports whether a submission at t is accepted.
func (p Policy) CanSubmit(s Schedule, submitted bool, t time.Time) error {
	switch p.StatusAt(s, submitted, t) {
	case model.StatusSubmitted:
		return model.ErrAlreadySubmitted
	case model.StatusUpcoming:
		return fmt.Errorf("%w: quiz opens at %s", model.ErrNotAvailable, s.Start.Format(time.RFC3339))
	case model.StatusMissed:
		return fmt.Errorf("%w: submission deadline passed", model.ErrNotAvailable)
	}
	return nil
}

// StatusAt evaluates status with DefaultPolicy.
func StatusAt(s Schedule, submitted bool, t time.Time) model.QuizStatus {
	return DefaultPolicy.StatusAt(s, submitted, t)
}

// CanStart checks a start attempt with DefaultPolicy.
func CanStart(s Schedule, submitted bool, t time.Time) error {
	return DefaultPolicy.CanStart(s, submitted, t)
}

// CanSubmit checks a submission with DefaultPolicy.
func CanSubmit(s Schedule, submitted bool, t time.Time) error {
	return DefaultPolicy.CanSubmit(s, submitted, t)
}
