package security

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestAlerterTriggersOnRepeatedLoginFailures(t *testing.T) {
	srv := miniredis.RunT(t)
	alerter := NewAlerter(srv.Addr(), "", "test:alerts")

	for i := 0; i < 9; i++ {
		res, err := alerter.Observe("login", "failure", "203.0.113.9")
		if err != nil {
			t.Fatalf("observe %d: %v", i+1, err)
		}
		if res.Triggered {
			t.Fatalf("alert tripped too early at count %d", res.Count)
		}
	}
	res, err := alerter.Observe("login", "failure", "203.0.113.9")
	if err != nil {
		t.Fatalf("observe threshold: %v", err)
	}
	if !res.Triggered {
		t.Fatalf("expected alert at threshold, count=%d threshold=%d", res.Count, res.Threshold)
	}
}

func TestAlerterIgnoresUnknownEvents(t *testing.T) {
	srv := miniredis.RunT(t)
	alerter := NewAlerter(srv.Addr(), "", "test:alerts")

	res, err := alerter.Observe("login", "success", "203.0.113.9")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if res.Triggered || res.Count != 0 {
		t.Fatalf("successful logins must not feed alerts: %+v", res)
	}
}

func TestNilAlerterIsNoop(t *testing.T) {
	var alerter *Alerter
	res, err := alerter.Observe("login", "failure", "203.0.113.9")
	if err != nil {
		t.Fatalf("nil alerter: %v", err)
	}
	if res.Triggered {
		t.Fatal("nil alerter must never trigger")
	}
}
