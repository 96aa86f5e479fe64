package main

import (
	"testing"
	"time"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*breakerTable, *time.Time) {
	b := newBreakerTable(threshold, cooldown)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Second)

	for i := 0; i < 4; i++ {
		b.recordFailure("/candles/days")
	}
	if !b.allow("/candles/days") {
		t.Error("breaker should stay closed below the failure threshold")
	}
	if got := b.failureCount("/candles/days"); got != 4 {
		t.Errorf("expected 4 recorded failures, got %d", got)
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Second)

	for i := 0; i < 5; i++ {
		b.recordFailure("/candles/days")
	}
	if b.allow("/candles/days") {
		t.Error("breaker should be open after reaching the threshold")
	}
	// Other endpoints keep their own circuit.
	if !b.allow("/ticker") {
		t.Error("unrelated endpoint should not be affected")
	}
}

func TestBreakerRecoversAfterCooldown(t *testing.T) {
	b, now := newTestBreaker(3, 30*time.Second)

	for i := 0; i < 3; i++ {
		b.recordFailure("/ticker")
	}
	if b.allow("/ticker") {
		t.Fatal("breaker should be open")
	}

	*now = now.Add(29 * time.Second)
	if b.allow("/ticker") {
		t.Error("breaker should still be open before the cooldown elapses")
	}

	*now = now.Add(2 * time.Second)
	if !b.allow("/ticker") {
		t.Error("breaker should allow calls once the cooldown has elapsed")
	}
}

func TestBreakerSuccessResets(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second)

	b.recordFailure("/ticker")
	b.recordFailure("/ticker")
	b.recordSuccess("/ticker")

	if got := b.failureCount("/ticker"); got != 0 {
		t.Errorf("success should clear the failure count, got %d", got)
	}

	// A fresh streak starts from zero again.
	b.recordFailure("/ticker")
	b.recordFailure("/ticker")
	if !b.allow("/ticker") {
		t.Error("two failures after a reset should not trip a threshold of 3")
	}
}
