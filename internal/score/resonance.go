package score

import (
	"math"
	"sync"
)

// Resonance is the aggregate reputation of one wallet: the own score
// plus the arithmetic mean of the current scores of its followers.
type Resonance struct {
	Own         float64
	AvgFollower float64
	Followers   int

	// Ledger is the integer value the external ledger stores:
	// floor(Own + AvgFollower). Fractional resonance stays internal.
	Ledger int
}

// Compute aggregates an own score with the current follower scores.
//
// Follower scores must be the followers' live scores, not cached copies
// taken when the follow edge was created; stale inputs silently skew
// the mean.
func Compute(own float64, followers []float64) Resonance {
	r := Resonance{Own: own, Followers: len(followers)}
	if len(followers) > 0 {
		var sum float64
		for _, f := range followers {
			sum += f
		}
		r.AvgFollower = sum / float64(len(followers))
	}
	r.Ledger = int(math.Floor(own + r.AvgFollower))
	return r
}

// SyncMilestone is the modulus applied to ledger values before an
// external write is considered. Every ledger submission costs a real
// transaction, so values are only pushed at even milestones.
const SyncMilestone = 2

// SyncGuard decides when a computed resonance should be pushed to the
// external ledger. It remembers the previous observation per address so
// that a single lower reading (ledger read lag) never triggers a
// downward write; the decrease has to persist across two consecutive
// observations.
type SyncGuard struct {
	mu       sync.Mutex
	lastSeen map[string]int
}

// NewSyncGuard constructs an empty guard.
func NewSyncGuard() *SyncGuard {
	return &SyncGuard{lastSeen: make(map[string]int)}
}

// ShouldSync reports whether total should be written to the ledger,
// given the last value the ledger is known to hold.
//
// Rules:
//   - never sync a value equal to the ledger value
//   - only sync at even milestones
//   - sync downward only if the same lower total was also observed on
//     the immediately preceding call for this address
func (g *SyncGuard) ShouldSync(address string, total, lastLedger int) bool {
	g.mu.Lock()
	prev, seen := g.lastSeen[address]
	g.lastSeen[address] = total
	g.mu.Unlock()

	if total == lastLedger {
		return false
	}
	if total%SyncMilestone != 0 {
		return false
	}
	if total < lastLedger {
		return seen && prev == total
	}
	return true
}

// Forget drops the remembered observation for an address. Used after a
// committed sync so the next cycle starts clean.
func (g *SyncGuard) Forget(address string) {
	g.mu.Lock()
	delete(g.lastSeen, address)
	g.mu.Unlock()
}

// LoginSyncTarget implements the forced sync performed on dashboard
// login: when the local resonance and the ledger value have drifted by
// at least SyncMilestone points, the milestone rule is bypassed and the
// value rounded down to the nearest even number is pushed.
//
// The boolean result is false when no forced sync is needed.
func LoginSyncTarget(total, lastLedger int) (int, bool) {
	diff := total - lastLedger
	if diff < 0 {
		diff = -diff
	}
	if diff < SyncMilestone {
		return 0, false
	}
	return (total / SyncMilestone) * SyncMilestone, true
}
