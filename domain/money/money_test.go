package money

import "testing"

func TestToMicros_Exact(t *testing.T) {
	tests := []struct {
		amount float64
		want   int64
	}{
		{0, 0},
		{1.0, 1_000_000},
		{0.5, 500_000},
		{0.000001, 1},
		{2.25, 2_250_000},
	}
	for _, tt := range tests {
		if got := ToMicros(tt.amount); got != tt.want {
			t.Errorf("ToMicros(%v) = %d, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestToMicros_RoundsUp(t *testing.T) {
	// Sub-micro fractions must round toward the store, never away.
	got := ToMicros(1.0000005)
	if got < 1_000_001 {
		t.Errorf("ToMicros(1.0000005) = %d, want >= 1000001", got)
	}
}

func TestRoundTrip_NeverUnderCounts(t *testing.T) {
	amounts := []float64{1.0000005, 0.1, 0.0000001, 3.333333}
	for _, a := range amounts {
		back := FromMicros(ToMicros(a))
		if back < a-1e-12 {
			t.Errorf("round trip of %v yielded %v, under-counts", a, back)
		}
	}
}

func TestFromMicros(t *testing.T) {
	if got := FromMicros(1_500_000); got != 1.5 {
		t.Errorf("FromMicros(1500000) = %v, want 1.5", got)
	}
	if got := FromMicros(-2_000_000); got != -2.0 {
		t.Errorf("FromMicros(-2000000) = %v, want -2.0", got)
	}
}

func TestPerSecond(t *testing.T) {
	if got := PerSecond(60); got != 1.0 {
		t.Errorf("PerSecond(60) = %v, want 1.0", got)
	}
}
