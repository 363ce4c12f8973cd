package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinBudget(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 5})

	for i := 0; i < 5; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.allow("10.0.0.1") {
		t.Error("request over budget should be denied")
	}
}

func TestAllowIsPerClient(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1})

	if !rl.allow("10.0.0.1") {
		t.Fatal("first client's first request should pass")
	}
	if rl.allow("10.0.0.1") {
		t.Error("first client should be throttled")
	}
	if !rl.allow("10.0.0.2") {
		t.Error("second client has its own bucket")
	}
}

func TestAllowRefills(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 2, WindowDuration: 20 * time.Millisecond})

	rl.allow("10.0.0.1")
	rl.allow("10.0.0.1")
	if rl.allow("10.0.0.1") {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(25 * time.Millisecond)
	if !rl.allow("10.0.0.1") {
		t.Error("bucket should refill after the window elapses")
	}
}
