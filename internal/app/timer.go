package app

import "time"

// countdown tracks one timing unit (a question, or the whole quiz under the
// total policy). Remaining time is always recomputed from the anchor, never
// accumulated by repeated decrement, so suspends and slow ticks cannot drift.
type countdown struct {
	anchor time.Time
	budget time.Duration
}

func startCountdown(now time.Time, budgetSeconds int) countdown {
	return countdown{anchor: now, budget: time.Duration(budgetSeconds) * time.Second}
}

// unlimited reports whether the unit has no budget; an unlimited countdown
// never expires and never drives a tick display.
func (c countdown) unlimited() bool {
	return c.budget <= 0
}

func (c countdown) deadline() time.Time {
	return c.anchor.Add(c.budget)
}

// remaining returns whole seconds left, clamped to zero.
func (c countdown) remaining(now time.Time) int {
	if c.unlimited() {
		return 0
	}
	left := c.deadline().Sub(now)
	if left <= 0 {
		return 0
	}
	// Round up so a freshly started 30s unit displays 30, not 29.
	return int((left + time.Second - 1) / time.Second)
}

// expired reports whether the deadline has passed.
func (c countdown) expired(now time.Time) bool {
	return !c.unlimited() && !now.Before(c.deadline())
}

// elapsedSeconds returns whole seconds since the anchor, clamped to the
// budget when one exists.
func (c countdown) elapsedSeconds(now time.Time) int {
	elapsed := now.Sub(c.anchor)
	if elapsed < 0 {
		elapsed = 0
	}
	if !c.unlimited() && elapsed > c.budget {
		elapsed = c.budget
	}
	return int(elapsed / time.Second)
}
