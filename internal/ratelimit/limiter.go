// Package ratelimit flags actors that answer faster than a person plausibly can.
package ratelimit

import (
	"time"
)

type Policy struct {
	// Cooldown suppresses actions closer than this to the previous accepted one.
	Cooldown time.Duration
	// RapidWindow is the gap under which consecutive accepted actions count as rapid.
	RapidWindow time.Duration
	// MaxRapidActions consecutive rapid actions flag the actor for a ban.
	MaxRapidActions int
}

func DefaultPolicy() Policy {
	return Policy{
		Cooldown:        time.Second,
		RapidWindow:     3 * time.Second,
		MaxRapidActions: 7,
	}
}

type Decision struct {
	// Accepted is false when the action fell inside the cooldown and must be ignored.
	Accepted   bool
	FlagForBan bool
}

type entry struct {
	lastAction time.Time
	rapidCount int
}

// Limiter keeps one small record per actor. It is not safe for concurrent use.
type Limiter struct {
	policy Policy
	actors map[string]*entry
}

func New(policy Policy) *Limiter {
	return &Limiter{policy: policy, actors: make(map[string]*entry)}
}

// Record registers an action by actor at now.
func (l *Limiter) Record(actor string, now time.Time) Decision {
	e, ok := l.actors[actor]
	if !ok {
		l.actors[actor] = &entry{lastAction: now, rapidCount: 1}
		return Decision{Accepted: true, FlagForBan: 1 >= l.policy.MaxRapidActions}
	}

	gap := now.Sub(e.lastAction)
	if gap < l.policy.Cooldown {
		return Decision{Accepted: false}
	}

	if gap <= l.policy.RapidWindow {
		e.rapidCount++
	} else {
		e.rapidCount = 1
	}
	e.lastAction = now

	// The count is left as is once flagged; a banned actor never gets here again.
	return Decision{Accepted: true, FlagForBan: e.rapidCount >= l.policy.MaxRapidActions}
}

