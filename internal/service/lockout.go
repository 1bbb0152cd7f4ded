package service

import (
	"time"

	"authcore/internal/entity"
)

type LockStatus string

const (
	LockStatusActive LockStatus = "active"
	LockStatusLocked LockStatus = "locked"
)

// LockoutPolicy drives Active -> Locked after MaxAttempts consecutive failures inside
// Window, and Locked -> Active once Cooldown has passed. MaxAttempts <= 0 disables it.
type LockoutPolicy struct {
	MaxAttempts int
	Window      time.Duration
	Cooldown    time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: 5, Window: 15 * time.Minute, Cooldown: 30 * time.Minute}
}

func (p LockoutPolicy) Status(state entity.LockState, now time.Time) LockStatus {
	if state.LockedUntil != nil && now.Before(*state.LockedUntil) {
		return LockStatusLocked
	}
	return LockStatusActive
}

// RecordFailure returns the state after one more failed attempt at now.
func (p LockoutPolicy) RecordFailure(state entity.LockState, now time.Time) entity.LockState {
	if p.MaxAttempts <= 0 {
		return state
	}
	windowExpired := state.FirstFailedAt == nil || now.Sub(*state.FirstFailedAt) > p.Window
	cooledDown := state.LockedUntil != nil && !now.Before(*state.LockedUntil)
	if windowExpired || cooledDown {
		start := now
		state = entity.LockState{FirstFailedAt: &start}
	}
	state.FailedAttempts++
	if state.FailedAttempts >= p.MaxAttempts {
		until := now.Add(p.Cooldown)
		state.LockedUntil = &until
	}
	return state
}

// Dirty reports whether state holds anything a successful login should clear.
func (p LockoutPolicy) Dirty(state entity.LockState) bool {
	return state.FailedAttempts > 0 || state.FirstFailedAt != nil || state.LockedUntil != nil
}
