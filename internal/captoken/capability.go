// Package captoken issues and verifies capability tokens: short-lived,
// HMAC-signed bearer credentials that encode a permission set derived
// from a resonance score at issuance time.
//
// The score itself is never stored in the token; only the capabilities
// derived from it. A token is valid strictly until its expiry and is
// never re-derived afterwards.
package captoken

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Capability is a closed set of permissions a token can carry.
// The zero value is invalid.
type Capability struct {
	kind  capKind
	level int
}

type capKind uint8

const (
	capInvalid capKind = iota
	capWrite
	capPoll
)

// Write grants posting in the gated channel.
var Write = Capability{kind: capWrite}

// PollLevel grants voting in polls gated at the given score level.
func PollLevel(level int) Capability {
	return Capability{kind: capPoll, level: level}
}

// IsWrite reports whether the capability is the write permission.
func (c Capability) IsWrite() bool { return c.kind == capWrite }

// PollThreshold returns the poll level and true for poll capabilities.
func (c Capability) PollThreshold() (int, bool) {
	if c.kind != capPoll {
		return 0, false
	}
	return c.level, true
}

// String returns the canonical wire form: "write" or "poll_<level>".
func (c Capability) String() string {
	switch c.kind {
	case capWrite:
		return "write"
	case capPoll:
		return "poll_" + strconv.Itoa(c.level)
	default:
		return "invalid"
	}
}

// ParseCapability parses the wire form produced by String.
func ParseCapability(s string) (Capability, error) {
	if s == "write" {
		return Write, nil
	}
	if rest, ok := strings.CutPrefix(s, "poll_"); ok {
		level, err := strconv.Atoi(rest)
		if err != nil || level < 0 {
			return Capability{}, fmt.Errorf("%w: %q", ErrBadCapability, s)
		}
		return PollLevel(level), nil
	}
	return Capability{}, fmt.Errorf("%w: %q", ErrBadCapability, s)
}

// Set is an immutable collection of capabilities.
type Set map[Capability]struct{}

// NewSet builds a set from capabilities.
func NewSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		if c.kind != capInvalid {
			s[c] = struct{}{}
		}
	}
	return s
}

// Has reports membership.
func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// CanWrite reports whether the set grants channel write access.
func (s Set) CanWrite() bool { return s.Has(Write) }

// CanVote reports whether the set grants voting at the given level.
func (s Set) CanVote(level int) bool { return s.Has(PollLevel(level)) }

// Strings returns the sorted canonical wire forms of all members.
// Sorting keeps token payloads byte-stable for signing.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c.String())
	}
	sort.Strings(out)
	return out
}

// GateThresholds is the score shape the derivation needs from a gate's
// configuration.
type GateThresholds struct {
	MinScoreForWrite int
	PollScoreLevels  []int
}

// Derive computes the capability set a score earns under a gate's
// thresholds. Write requires the minimum write score; each configured
// poll level the score meets or exceeds earns the matching poll
// capability.
func Derive(score int, t GateThresholds) Set {
	s := make(Set)
	if score >= t.MinScoreForWrite {
		s[Write] = struct{}{}
	}
	for _, level := range t.PollScoreLevels {
		if score >= level {
			s[PollLevel(level)] = struct{}{}
		}
	}
	return s
}
