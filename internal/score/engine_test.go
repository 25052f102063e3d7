package score

import "testing"

func TestIncrementBands(t *testing.T) {
	cases := []struct {
		score float64
		want  float64
	}{
		{40, 1.0},
		{50, 1.0},
		{59.99, 1.0},
		{60, 0.5}, // exact boundary uses the higher band's smaller rate
		{69.99, 0.5},
		{70, 0.2},
		{80, 0.1},
		{90, 0.01},
		{99.99, 0.01},
	}
	for _, c := range cases {
		if got := Increment(c.score); got != c.want {
			t.Fatalf("Increment(%v) = %v, want %v", c.score, got, c.want)
		}
	}
}

func TestApplyInteractionsSingle(t *testing.T) {
	if got := ApplyInteractions(58, 1); got != 59.00 {
		t.Fatalf("score 58 + 1 interaction = %v, want 59.00", got)
	}
	if got := ApplyInteractions(61.8, 1); got != 62.30 {
		t.Fatalf("score 61.8 + 1 interaction = %v, want 62.30", got)
	}
}

func TestApplyInteractionsCrossesBoundary(t *testing.T) {
	// 59 -> 60 at +1.0, then the 60-band rate applies.
	if got := ApplyInteractions(59, 2); got != 60.50 {
		t.Fatalf("score 59 + 2 interactions = %v, want 60.50", got)
	}
}

func TestApplyInteractionsCeiling(t *testing.T) {
	if got := ApplyInteractions(99.99, 500); got != MaxScore {
		t.Fatalf("ceiling not enforced: got %v", got)
	}
	if got := ApplyInteractions(MaxScore, 10); got != MaxScore {
		t.Fatalf("score above ceiling: got %v", got)
	}
}

func TestApplyInteractionsMonotonic(t *testing.T) {
	start := 50.0
	prev := start
	for n := 1; n <= 200; n++ {
		got := ApplyInteractions(start, n)
		if got < prev {
			t.Fatalf("not non-decreasing at n=%d: %v < %v", n, got, prev)
		}
		if got > MaxScore {
			t.Fatalf("exceeded ceiling at n=%d: %v", n, got)
		}
		prev = got
	}
}
