package gate

import (
	"context"
	"strings"
	"testing"
	"time"
)

func lastReply(t *testing.T, msgr *fakeMessenger) string {
	t.Helper()
	msgr.mu.Lock()
	defer msgr.mu.Unlock()
	if len(msgr.sentTo) == 0 {
		t.Fatalf("no reply sent")
	}
	return msgr.sentTo[len(msgr.sentTo)-1]
}

func TestMyStatusCommand(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xalice", 62)
	ctx := context.Background()

	join(t, m, "g1", "alice", "0xalice")
	m.OnMessage(ctx, "g1", "alice", "/mystatus", "")

	reply := lastReply(t, msgr)
	if !strings.Contains(reply, "Score 62") || !strings.Contains(reply, "you can post") {
		t.Fatalf("unexpected /mystatus reply: %q", reply)
	}
}

func TestAdminCommandDeniedForMembers(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xalice", 62)
	ctx := context.Background()

	join(t, m, "g1", "alice", "0xalice")
	m.OnMessage(ctx, "g1", "alice", "/setminscore 90", "")

	if !strings.Contains(lastReply(t, msgr), "admins") {
		t.Fatalf("non-admin was not refused")
	}
	if got := m.GetConfig(ctx, "g1").MinScoreForWrite; got != 50 {
		t.Fatalf("non-admin changed config: %d", got)
	}
}

func TestSetMinScoreCommand(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xalice", 62)
	msgr.admins["alice"] = true
	ctx := context.Background()

	join(t, m, "g1", "alice", "0xalice")
	m.OnMessage(ctx, "g1", "alice", "/setminscore 65", "")

	if got := m.GetConfig(ctx, "g1").MinScoreForWrite; got != 65 {
		t.Fatalf("min score = %d, want 65", got)
	}

	m.OnMessage(ctx, "g1", "alice", "/setminscore nonsense", "")
	if !strings.Contains(lastReply(t, msgr), "Usage") {
		t.Fatalf("bad argument not rejected")
	}
}

func TestSetTimeoutCommand(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xalice", 62)
	msgr.admins["alice"] = true
	ctx := context.Background()

	join(t, m, "g1", "alice", "0xalice")
	m.OnMessage(ctx, "g1", "alice", "/settimeout 10", "")

	if got := m.GetConfig(ctx, "g1").SessionTimeout; got != 10*time.Minute {
		t.Fatalf("timeout = %s, want 10m", got)
	}
}

func TestSetWelcomeCommand(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xalice", 62)
	fs.set("0xbob", 62)
	msgr.admins["alice"] = true
	ctx := context.Background()

	join(t, m, "g1", "alice", "0xalice")
	m.OnMessage(ctx, "g1", "alice", "/setwelcome Greetings, traveler.", "")

	if got := m.GetConfig(ctx, "g1").Welcome; got != "Greetings, traveler." {
		t.Fatalf("welcome = %q", got)
	}

	// The next joiner sees the custom greeting in the join DM.
	join(t, m, "g1", "bob", "0xbob")
	if !strings.Contains(lastReply(t, msgr), "Greetings, traveler.") {
		t.Fatalf("join DM missing custom welcome: %q", lastReply(t, msgr))
	}

	m.OnMessage(ctx, "g1", "alice", "/setwelcome", "")
	if got := m.GetConfig(ctx, "g1").Welcome; got != "" {
		t.Fatalf("welcome not reset: %q", got)
	}
}

func TestPollCommandParsesMinScore(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xalice", 62)
	msgr.admins["alice"] = true
	ctx := context.Background()

	join(t, m, "g1", "alice", "0xalice")
	m.OnMessage(ctx, "g1", "alice", "/poll Raise the bar? | yes | no | 70", "")

	open := m.polls.open("g1")
	if len(open) != 1 {
		t.Fatalf("open polls = %d, want 1", len(open))
	}
	p := open[0]
	if p.Question != "Raise the bar?" || len(p.Options) != 2 || p.MinScore != 70 {
		t.Fatalf("parsed poll = %+v", p)
	}
}

func TestPollCommandDefaultsToWriteThreshold(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xalice", 62)
	msgr.admins["alice"] = true
	ctx := context.Background()

	join(t, m, "g1", "alice", "0xalice")
	m.OnMessage(ctx, "g1", "alice", "/poll Keep going? | yes | no", "")

	open := m.polls.open("g1")
	if len(open) != 1 || open[0].MinScore != 50 {
		t.Fatalf("poll did not default to the write threshold: %+v", open)
	}
}

func TestClosePollCommandClosesNewest(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xalice", 62)
	msgr.admins["alice"] = true
	ctx := context.Background()

	join(t, m, "g1", "alice", "0xalice")
	m.OnMessage(ctx, "g1", "alice", "/poll Q? | a | b", "")
	m.OnMessage(ctx, "g1", "alice", "/closepoll", "")

	if open := m.polls.open("g1"); len(open) != 0 {
		t.Fatalf("poll still open after /closepoll")
	}
}

func TestCommandRateLimit(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xalice", 62)
	ctx := context.Background()

	join(t, m, "g1", "alice", "0xalice")

	msgr.mu.Lock()
	before := len(msgr.sentTo)
	msgr.mu.Unlock()

	for i := 0; i < m.cfg.CommandLimit+3; i++ {
		m.OnMessage(ctx, "g1", "alice", "/mystatus", "")
	}

	msgr.mu.Lock()
	replies := len(msgr.sentTo) - before
	msgr.mu.Unlock()
	if replies != m.cfg.CommandLimit {
		t.Fatalf("replies = %d, want %d (limiter must cut off the rest)", replies, m.cfg.CommandLimit)
	}
}

func TestCommandBotSuffixStripped(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xalice", 62)
	ctx := context.Background()

	join(t, m, "g1", "alice", "0xalice")
	m.OnMessage(ctx, "g1", "alice", "/mystatus@resogate_bot", "")

	if !strings.Contains(lastReply(t, msgr), "Score 62") {
		t.Fatalf("suffixed command not handled")
	}
}
