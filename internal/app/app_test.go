package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testConfig() Config {
	cfg := LoadConfig()
	cfg.TokenSecret = "0123456789abcdef0123456789abcdef"
	return cfg
}

func TestNewWiresInMemoryStack(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(context.Background(), testConfig(), log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if a.dbEnabled {
		t.Fatalf("db should be disabled without a database url")
	}
	if a.queue != nil {
		t.Fatalf("sync queue should be disabled without a ledger url")
	}
	if a.manager == nil || a.api == nil {
		t.Fatalf("manager and api must be wired")
	}
}

func TestNewRejectsMissingSecret(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig()
	cfg.TokenSecret = ""
	if _, err := New(context.Background(), cfg, log); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestLocalScoreSource(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	a, err := New(ctx, testConfig(), log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := a.accounts.Ensure(ctx, "0xaaa", 58); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, err := a.accounts.Ensure(ctx, "0xbbb", 70); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := a.accounts.AddFollower(ctx, "0xaaa", "0xbbb"); err != nil {
		t.Fatalf("AddFollower: %v", err)
	}

	src := localScoreSource{accounts: a.accounts}
	got, err := src.GetLiveScore(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("GetLiveScore: %v", err)
	}
	// own 58 + single follower at 70, floored for the ledger.
	if got != 128 {
		t.Fatalf("live score=%d want=128", got)
	}
}

func TestDropQueueRefusesEnqueue(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	q := dropQueue{log: log}
	if err := q.Enqueue("0xabc", 60); err == nil {
		t.Fatalf("expected enqueue to be refused")
	}
	if q.Depth() != 0 {
		t.Fatalf("depth should be zero")
	}
	if _, ok := q.LastCommitted("0xabc"); ok {
		t.Fatalf("nothing should ever be committed")
	}
}

func TestNoopMessengerInvitesAreUnique(t *testing.T) {
	var m noopMessenger
	ctx := context.Background()

	a, err := m.CreateInvite(ctx, "gate-1")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	b, err := m.CreateInvite(ctx, "gate-1")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if a == b {
		t.Fatalf("invites must be unique: %q", a)
	}
	if !strings.HasPrefix(a, "invite-") {
		t.Fatalf("unexpected invite format: %q", a)
	}
}
