package jobs_test

import (
	"testing"
	"time"

	"github.com/reviso/reviso/internal/jobs"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*jobs.Breaker, *time.Time) {
	b := jobs.NewBreaker(threshold, cooldown)
	now := time.Now()
	b.SetClock(func() time.Time { return now })
	return b, &now
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(5, time.Minute)

	for i := 0; i < 4; i++ {
		if !b.Allow() {
			t.Fatalf("call %d rejected while closed", i)
		}
		b.Failure()
	}
	if b.State() != jobs.BreakerClosed {
		t.Fatalf("state %s after 4 failures, want closed", b.State())
	}

	b.Failure()
	if b.State() != jobs.BreakerOpen {
		t.Fatalf("state %s after 5 failures, want open", b.State())
	}
	if b.Allow() {
		t.Error("open breaker admitted a call before cooldown")
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()

	if b.State() != jobs.BreakerClosed {
		t.Errorf("state %s, want closed: success must reset the consecutive count", b.State())
	}
}

func TestBreakerSingleProbeAfterCooldown(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	b.Failure()

	if b.Allow() {
		t.Fatal("open breaker admitted a call inside cooldown")
	}

	*now = now.Add(time.Minute + time.Second)

	if !b.Allow() {
		t.Fatal("cooldown elapsed but probe rejected")
	}
	if b.State() != jobs.BreakerHalfOpen {
		t.Fatalf("state %s, want half_open", b.State())
	}
	if b.Allow() {
		t.Error("second caller admitted while probe in flight")
	}
}

func TestBreakerProbeOutcome(t *testing.T) {
	t.Run("probe success closes", func(t *testing.T) {
		b, now := newTestBreaker(1, time.Minute)
		b.Failure()
		*now = now.Add(2 * time.Minute)

		if !b.Allow() {
			t.Fatal("probe rejected")
		}
		b.Success()

		if b.State() != jobs.BreakerClosed {
			t.Errorf("state %s, want closed", b.State())
		}
		if !b.Allow() {
			t.Error("closed breaker rejected a call")
		}
	})

	t.Run("probe failure reopens and restarts cooldown", func(t *testing.T) {
		b, now := newTestBreaker(1, time.Minute)
		b.Failure()
		*now = now.Add(2 * time.Minute)

		if !b.Allow() {
			t.Fatal("probe rejected")
		}
		b.Failure()

		if b.State() != jobs.BreakerOpen {
			t.Fatalf("state %s, want open", b.State())
		}
		if b.Allow() {
			t.Error("reopened breaker admitted a call before the new cooldown elapsed")
		}

		*now = now.Add(2 * time.Minute)
		if !b.Allow() {
			t.Error("second cooldown elapsed but probe rejected")
		}
	})
}
