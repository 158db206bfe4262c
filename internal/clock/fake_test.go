package clock

import (
	"testing"
	"time"
)

func TestFake_AdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := NewFake(start)

	fired := []string{}
	clk.AfterFunc(5*time.Second, func() { fired = append(fired, "a") })
	clk.AfterFunc(10*time.Second, func() { fired = append(fired, "b") })

	clk.Advance(4 * time.Second)
	if len(fired) != 0 {
		t.Fatalf("fired %v before any deadline", fired)
	}

	clk.Advance(1 * time.Second)
	if len(fired) != 1 || fired[0] != "a" {
		t.Fatalf("fired = %v, want [a]", fired)
	}

	clk.Advance(10 * time.Second)
	if len(fired) != 2 || fired[1] != "b" {
		t.Fatalf("fired = %v, want [a b]", fired)
	}

	if got := clk.Now(); !got.Equal(start.Add(15 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(15*time.Second))
	}
}

func TestFake_StopPreventsFiring(t *testing.T) {
	clk := NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	fired := false
	timer := clk.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("Stop() = false, want true for pending timer")
	}
	clk.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
	if timer.Stop() {
		t.Error("Stop() = true on already-stopped timer")
	}
}

func TestFake_CallbackCanReschedule(t *testing.T) {
	clk := NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			clk.AfterFunc(time.Second, tick)
		}
	}
	clk.AfterFunc(time.Second, tick)

	clk.Advance(10 * time.Second)
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if clk.PendingTimers() != 0 {
		t.Errorf("PendingTimers() = %d, want 0", clk.PendingTimers())
	}
}
