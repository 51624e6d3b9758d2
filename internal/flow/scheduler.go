package flow

import "time"

// Timer is a pending scheduled call.
type Timer interface {
	// Stop prevents the call from running. It reports false if the call
	// already ran or was stopped.
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler schedules on the wall clock with time.AfterFunc.
type RealScheduler struct{}

// AfterFunc implements Scheduler.
func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Delays are the simulated composing times before each agent turn.
type Delays struct {
	Start      time.Duration
	Subject    time.Duration
	Preference time.Duration
	Profile    time.Duration
	// Directions is measured from the moment the profile turn lands.
	Directions time.Duration
	Direction  time.Duration
	Another    time.Duration
	Select     time.Duration
	Confirm    time.Duration
}

// DefaultDelays returns the stock composing times.
func DefaultDelays() Delays {
	return Delays{
		Start:      600 * time.Millisecond,
		Subject:    800 * time.Millisecond,
		Preference: 600 * time.Millisecond,
		Profile:    1000 * time.Millisecond,
		Directions: 4200 * time.Millisecond,
		Direction:  800 * time.Millisecond,
		Another:    800 * time.Millisecond,
		Select:     600 * time.Millisecond,
		Confirm:    800 * time.Millisecond,
	}
}

// Scale multiplies every delay by f. f <= 0 yields zero delays: agent turns
// still arrive asynchronously, just without waiting.
func (d Delays) Scale(f float64) Delays {
	s := func(v time.Duration) time.Duration {
		if f <= 0 {
			return 0
		}
		return time.Duration(float64(v) * f)
	}
	return Delays{
		Start:      s(d.Start),
		Subject:    s(d.Subject),
		Preference: s(d.Preference),
		Profile:    s(d.Profile),
		Directions: s(d.Directions),
		Direction:  s(d.Direction),
		Another:    s(d.Another),
		Select:     s(d.Select),
		Confirm:    s(d.Confirm),
	}
}
