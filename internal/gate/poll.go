package gate

import (
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Poll is a score-gated vote inside one channel. Votes are keyed by the
// chat subject id, never by wallet, and the last vote per subject wins.
type Poll struct {
	ID        string
	GateID    string
	CreatorID string
	Question  string
	Options   []string

	// MinScore is the live resonance required to vote.
	MinScore int

	// MessageID binds numeric replies to this poll's announcement post.
	MessageID string

	CreatedAt time.Time
	Closed    bool

	votes map[string]int // subjectID -> option index
}

// Results returns vote counts per option.
func (p *Poll) Results() []int {
	counts := make([]int, len(p.Options))
	for _, opt := range p.votes {
		if opt >= 0 && opt < len(counts) {
			counts[opt]++
		}
	}
	return counts
}

// Announcement renders the channel post members reply to.
func (p *Poll) Announcement() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Poll: %s\n", p.Question)
	for i, opt := range p.Options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, opt)
	}
	fmt.Fprintf(&b, "Reply to this message with an option number to vote. Required score: %d.", p.MinScore)
	return b.String()
}

// ResultText renders the closing summary.
func (p *Poll) ResultText() string {
	counts := p.Results()
	var b strings.Builder
	fmt.Fprintf(&b, "Poll closed: %s\n", p.Question)
	for i, opt := range p.Options {
		fmt.Fprintf(&b, "%d. %s: %d\n", i+1, opt, counts[i])
	}
	fmt.Fprintf(&b, "Total votes: %d", len(p.votes))
	return b.String()
}

// pollSet holds the open and recently closed polls of all gates.
type pollSet struct {
	mu        sync.Mutex
	byID      map[string]*Poll
	byMessage map[string]string // gateID+"\x00"+messageID -> pollID
}

func newPollSet() *pollSet {
	return &pollSet{
		byID:      make(map[string]*Poll),
		byMessage: make(map[string]string),
	}
}

func msgKey(gateID, messageID string) string {
	return gateID + "\x00" + messageID
}

func (ps *pollSet) add(p *Poll) {
	ps.mu.Lock()
	ps.byID[p.ID] = p
	if p.MessageID != "" {
		ps.byMessage[msgKey(p.GateID, p.MessageID)] = p.ID
	}
	ps.mu.Unlock()
}

func (ps *pollSet) get(pollID string) (*Poll, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.byID[pollID]
	return p, ok
}

// byReply resolves a reply target to its poll.
func (ps *pollSet) byReply(gateID, messageID string) (*Poll, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	id, ok := ps.byMessage[msgKey(gateID, messageID)]
	if !ok {
		return nil, false
	}
	p, ok := ps.byID[id]
	return p, ok
}

// vote records a subject's choice. Re-voting replaces the earlier
// choice.
func (ps *pollSet) vote(pollID, subjectID string, option int) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.byID[pollID]
	if !ok {
		return ErrPollNotFound
	}
	if p.Closed {
		return ErrPollClosed
	}
	if option < 0 || option >= len(p.Options) {
		return ErrBadOption
	}
	if p.votes == nil {
		p.votes = make(map[string]int)
	}
	p.votes[subjectID] = option
	return nil
}

// close marks a poll closed; further votes are rejected.
func (ps *pollSet) close(pollID string) (*Poll, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.byID[pollID]
	if !ok {
		return nil, ErrPollNotFound
	}
	if p.Closed {
		return nil, ErrPollClosed
	}
	p.Closed = true
	return p, nil
}

// open returns the open polls for a gate, newest first.
func (ps *pollSet) open(gateID string) []*Poll {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	var out []*Poll
	for _, p := range ps.byID {
		if p.GateID == gateID && !p.Closed {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func newPollID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
