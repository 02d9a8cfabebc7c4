package api

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestThrottlePerClient(t *testing.T) {
	now := time.Unix(1000, 0)
	th := NewThrottle(1, 2)
	th.now = func() time.Time { return now }

	if !th.Allow("a") || !th.Allow("a") {
		t.Fatal("burst of 2 should be allowed")
	}
	if th.Allow("a") {
		t.Error("third request within the same instant should be refused")
	}
	if !th.Allow("b") {
		t.Error("other clients have their own bucket")
	}

	now = now.Add(time.Second)
	if !th.Allow("a") {
		t.Error("token should refill after one second")
	}
}

func TestThrottleDisabled(t *testing.T) {
	th := NewThrottle(0, 0)
	for i := 0; i < 100; i++ {
		if !th.Allow("a") {
			t.Fatal("disabled throttle refused a request")
		}
	}
	var nilThrottle *Throttle
	if !nilThrottle.Allow("a") {
		t.Error("nil throttle should allow")
	}
}

func TestThrottleSweep(t *testing.T) {
	now := time.Unix(1000, 0)
	th := NewThrottle(5, 5)
	th.now = func() time.Time { return now }

	th.Allow("old")
	now = now.Add(10 * time.Minute)
	th.Allow("new")

	if removed := th.Sweep(5 * time.Minute); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if th.Clients() != 1 {
		t.Errorf("expected 1 client left, got %d", th.Clients())
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientKey(req); got != "addr:10.0.0.1" {
		t.Errorf("expected addr key, got %s", got)
	}
	req.Header.Set(userHeader, "u-9")
	if got := clientKey(req); got != "user:u-9" {
		t.Errorf("expected user key, got %s", got)
	}
}
