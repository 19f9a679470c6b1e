package backoff

import (
	"testing"
	"time"
)

func TestDelayExponentialBounded(t *testing.T) {
	p := Policy{Curve: Exponential, Base: time.Second, Max: 10 * time.Second}
	want := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for failures, w := range want {
		if got := p.Delay(failures); got != w {
			t.Errorf("Delay(%d) = %s, want %s", failures, got, w)
		}
	}
}

func TestDelayLinear(t *testing.T) {
	p := Policy{Curve: Linear, Base: 3 * time.Second, Max: 7 * time.Second}
	if got := p.Delay(2); got != 6*time.Second {
		t.Errorf("Delay(2) = %s, want 6s", got)
	}
	if got := p.Delay(5); got != 7*time.Second {
		t.Errorf("Delay(5) = %s, want 7s (capped)", got)
	}
}

func TestDelayNonDecreasing(t *testing.T) {
	for _, curve := range []Curve{Exponential, Linear} {
		p := Policy{Curve: curve, Base: 250 * time.Millisecond, Max: time.Minute}
		prev := time.Duration(0)
		for i := 1; i < 200; i++ {
			d := p.Delay(i)
			if d < prev {
				t.Fatalf("%s: Delay(%d) = %s < Delay(%d) = %s", curve, i, d, i-1, prev)
			}
			if d > p.Max {
				t.Fatalf("%s: Delay(%d) = %s exceeds max", curve, i, d)
			}
			prev = d
		}
	}
}

func TestRateLimitedHonorsHintAndFloor(t *testing.T) {
	p := Policy{Curve: Exponential, Base: time.Second, Max: time.Minute, RateLimitFloor: 20 * time.Second}
	if got := p.RateLimited(1, 0); got != 20*time.Second {
		t.Errorf("RateLimited(1, 0) = %s, want floor 20s", got)
	}
	if got := p.RateLimited(1, 45*time.Second); got != 45*time.Second {
		t.Errorf("RateLimited(1, 45s) = %s, want hint 45s", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Policy
		wantErr bool
	}{
		{"default", Default(), false},
		{"unknown curve", Policy{Curve: "cubic", Base: time.Second, Max: time.Second}, true},
		{"zero base", Policy{Curve: Linear, Max: time.Second}, true},
		{"max below base", Policy{Curve: Linear, Base: time.Minute, Max: time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
