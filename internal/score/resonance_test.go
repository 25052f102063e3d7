package score

import "testing"

func TestCompute(t *testing.T) {
	r := Compute(50, []float64{40, 60})
	if r.AvgFollower != 50 {
		t.Fatalf("avg follower = %v, want 50", r.AvgFollower)
	}
	if r.Followers != 2 {
		t.Fatalf("follower count = %d, want 2", r.Followers)
	}
	if r.Ledger != 100 {
		t.Fatalf("ledger value = %d, want 100", r.Ledger)
	}
}

func TestComputeNoFollowers(t *testing.T) {
	r := Compute(58.75, nil)
	if r.AvgFollower != 0 || r.Followers != 0 {
		t.Fatalf("unexpected follower stats: %+v", r)
	}
	if r.Ledger != 58 {
		t.Fatalf("ledger value = %d, want 58 (floored)", r.Ledger)
	}
}

func TestShouldSyncMilestones(t *testing.T) {
	g := NewSyncGuard()

	if g.ShouldSync("0xabc", 51, 50) {
		t.Fatalf("odd total must not sync")
	}
	if !g.ShouldSync("0xabc", 52, 50) {
		t.Fatalf("even total above ledger must sync")
	}
	if g.ShouldSync("0xabc", 52, 52) {
		t.Fatalf("unchanged total must not sync")
	}
}

func TestShouldSyncIdempotent(t *testing.T) {
	g := NewSyncGuard()
	if !g.ShouldSync("0xabc", 54, 52) {
		t.Fatalf("first observation should sync")
	}
	// After the ledger caught up, the same total must not fire again.
	if g.ShouldSync("0xabc", 54, 54) {
		t.Fatalf("shouldSync fired twice for unchanged total")
	}
}

func TestShouldSyncDownwardNeedsTwoObservations(t *testing.T) {
	g := NewSyncGuard()

	// First lower reading: treated as read lag, no downward write.
	if g.ShouldSync("0xdef", 48, 52) {
		t.Fatalf("single lower observation must not sync downward")
	}
	// Same lower reading again: the decrease is real.
	if !g.ShouldSync("0xdef", 48, 52) {
		t.Fatalf("persistent decrease must sync")
	}
}

func TestShouldSyncDownwardResetByUpwardReading(t *testing.T) {
	g := NewSyncGuard()
	if g.ShouldSync("0xdef", 48, 52) {
		t.Fatalf("single lower observation must not sync downward")
	}
	// An intervening different reading resets the strike.
	g.ShouldSync("0xdef", 52, 52)
	if g.ShouldSync("0xdef", 48, 52) {
		t.Fatalf("strike should have been reset")
	}
}

func TestLoginSyncTarget(t *testing.T) {
	if _, ok := LoginSyncTarget(51, 50); ok {
		t.Fatalf("diff below milestone must not force sync")
	}
	target, ok := LoginSyncTarget(57, 50)
	if !ok || target != 56 {
		t.Fatalf("got (%d, %v), want (56, true)", target, ok)
	}
	target, ok = LoginSyncTarget(48, 52)
	if !ok || target != 48 {
		t.Fatalf("got (%d, %v), want (48, true)", target, ok)
	}
}
