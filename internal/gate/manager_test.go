package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"resogate/internal/captoken"
	"resogate/internal/vault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMessenger struct {
	mu      sync.Mutex
	grants  []string
	revokes []string
	sent    []string
	sentTo  []string
	invites int
	admins  map[string]bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{admins: make(map[string]bool)}
}

func (f *fakeMessenger) GrantWrite(_ context.Context, _, subjectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, subjectID)
	return nil
}

func (f *fakeMessenger) RevokeWrite(_ context.Context, _, subjectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokes = append(f.revokes, subjectID)
	return nil
}

func (f *fakeMessenger) Send(_ context.Context, _, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeMessenger) SendTo(_ context.Context, _, subjectID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTo = append(f.sentTo, subjectID+": "+text)
	return nil
}

func (f *fakeMessenger) CreateInvite(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites++
	return fmt.Sprintf("https://chat.invite/%d", f.invites), nil
}

func (f *fakeMessenger) IsAdmin(_ context.Context, _, subjectID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[subjectID], nil
}

func (f *fakeMessenger) grantCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.grants)
}

func (f *fakeMessenger) revokeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.revokes)
}

type fakeScores struct {
	mu     sync.Mutex
	scores map[string]int
	err    error
	calls  int
}

func (f *fakeScores) GetLiveScore(_ context.Context, wallet string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.scores[wallet], nil
}

func (f *fakeScores) set(wallet string, score int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[wallet] = score
}

func (f *fakeScores) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestManager(t *testing.T) (*Manager, *fakeMessenger, *fakeScores) {
	t.Helper()
	v, err := vault.New()
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	issuer, err := captoken.NewIssuer([]byte(strings.Repeat("s", 32)))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	msgr := newFakeMessenger()
	fs := &fakeScores{scores: make(map[string]int)}
	m, err := NewManager(testLogger(), v, issuer, fs, msgr, NewMemoryConfigStore())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, msgr, fs
}

// join verifies a wallet and walks it through the invite, returning the
// subject's live session.
func join(t *testing.T, m *Manager, gateID, subjectID, wallet string) *Session {
	t.Helper()
	ctx := context.Background()
	offer, err := m.PrepareJoin(ctx, gateID, wallet, 0)
	if err != nil {
		t.Fatalf("PrepareJoin: %v", err)
	}
	if err := m.OnJoin(ctx, gateID, subjectID, offer.InviteLink); err != nil {
		t.Fatalf("OnJoin: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessKey(gateID, subjectID)]
	if !ok {
		t.Fatalf("no session after join")
	}
	return s
}

// forceRefreshDue backdates the session's last score check so the next
// message triggers a live refresh.
func forceRefreshDue(m *Manager, s *Session) {
	m.mu.Lock()
	s.LastScoreCheck = time.Now().UTC().Add(-2 * m.cfg.RefreshInterval)
	m.mu.Unlock()
}

func TestJoinGrantsWriteAboveThreshold(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xalice", 55)

	join(t, m, "g1", "alice", "0xalice")

	if msgr.grantCount() != 1 {
		t.Fatalf("grants = %d, want 1", msgr.grantCount())
	}
	st, err := m.MemberStatus("g1", "alice")
	if err != nil {
		t.Fatalf("MemberStatus: %v", err)
	}
	if st.Score != 55 || !st.CanWrite {
		t.Fatalf("status = %+v, want score 55 and write", st)
	}
}

func TestJoinBelowThresholdStaysMuted(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xbob", 48)

	join(t, m, "g1", "bob", "0xbob")

	if msgr.grantCount() != 0 {
		t.Fatalf("write granted below threshold")
	}
	if msgr.revokeCount() != 1 {
		t.Fatalf("revokes = %d, want 1", msgr.revokeCount())
	}
}

func TestJoinUnknownInviteFailsClosed(t *testing.T) {
	m, msgr, _ := newTestManager(t)

	err := m.OnJoin(context.Background(), "g1", "mallory", "https://chat.invite/999")
	if !errors.Is(err, ErrNoPending) {
		t.Fatalf("err = %v, want ErrNoPending", err)
	}
	if msgr.revokeCount() != 1 {
		t.Fatalf("unknown invite did not end muted")
	}
	if m.SessionCount() != 0 {
		t.Fatalf("session created for unknown invite")
	}
}

func TestInviteClaimOnce(t *testing.T) {
	m, _, fs := newTestManager(t)
	fs.set("0xalice", 60)
	ctx := context.Background()

	offer, err := m.PrepareJoin(ctx, "g1", "0xalice", 60)
	if err != nil {
		t.Fatalf("PrepareJoin: %v", err)
	}
	if err := m.OnJoin(ctx, "g1", "alice", offer.InviteLink); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if err := m.OnJoin(ctx, "g1", "eve", offer.InviteLink); !errors.Is(err, ErrNoPending) {
		t.Fatalf("second claim of the same link succeeded: %v", err)
	}
}

func TestJoinScoreUnavailableFailsClosed(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xalice", 90)
	fs.err = errors.New("upstream down")

	join(t, m, "g1", "alice", "0xalice")

	if msgr.grantCount() != 0 {
		t.Fatalf("write granted without a verifiable score")
	}
	st, err := m.MemberStatus("g1", "alice")
	if err != nil {
		t.Fatalf("MemberStatus: %v", err)
	}
	if st.CanWrite {
		t.Fatalf("session writable despite score fetch failure")
	}
}

func TestScoreDropRevokesExactlyOnce(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xalice", 55)
	ctx := context.Background()

	s := join(t, m, "g1", "alice", "0xalice")
	if msgr.revokeCount() != 0 {
		t.Fatalf("premature revoke")
	}

	fs.set("0xalice", 48)
	forceRefreshDue(m, s)
	m.OnMessage(ctx, "g1", "alice", "hello", "")
	if msgr.revokeCount() != 1 {
		t.Fatalf("revokes = %d, want exactly 1 after the drop", msgr.revokeCount())
	}

	// A second refresh at the same score must not flip again.
	forceRefreshDue(m, s)
	m.OnMessage(ctx, "g1", "alice", "hello again", "")
	if msgr.revokeCount() != 1 {
		t.Fatalf("revokes = %d after second refresh, want 1", msgr.revokeCount())
	}

	// Recovery grants exactly once more.
	fs.set("0xalice", 52)
	forceRefreshDue(m, s)
	m.OnMessage(ctx, "g1", "alice", "back", "")
	if msgr.grantCount() != 2 {
		t.Fatalf("grants = %d, want 2 (join + recovery)", msgr.grantCount())
	}
}

func TestRefreshThrottled(t *testing.T) {
	m, _, fs := newTestManager(t)
	fs.set("0xalice", 55)
	ctx := context.Background()

	join(t, m, "g1", "alice", "0xalice")
	base := fs.callCount()

	m.OnMessage(ctx, "g1", "alice", "one", "")
	m.OnMessage(ctx, "g1", "alice", "two", "")
	if got := fs.callCount(); got != base {
		t.Fatalf("refresh not throttled: %d extra calls", got-base)
	}
}

func TestTamperedHandleInvalidatesSession(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xalice", 55)
	ctx := context.Background()

	s := join(t, m, "g1", "alice", "0xalice")

	m.mu.Lock()
	s.Wallet.Ciphertext[0] ^= 0xff
	m.mu.Unlock()

	forceRefreshDue(m, s)
	m.OnMessage(ctx, "g1", "alice", "hello", "")

	if m.SessionCount() != 0 {
		t.Fatalf("tampered session survived")
	}
	if msgr.revokeCount() == 0 {
		t.Fatalf("tampered session not muted")
	}
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	m, msgr, fs := newTestManager(t)
	fs.set("0xalice", 55)
	ctx := context.Background()

	s := join(t, m, "g1", "alice", "0xalice")
	m.mu.Lock()
	s.ExpiresAt = time.Now().UTC().Add(-time.Second)
	m.mu.Unlock()

	m.sweep(ctx, time.Now().UTC())

	if m.SessionCount() != 0 {
		t.Fatalf("expired session survived the sweep")
	}
	if msgr.revokeCount() == 0 {
		t.Fatalf("expired session not muted")
	}
}

func TestLeaveDropsSession(t *testing.T) {
	m, _, fs := newTestManager(t)
	fs.set("0xalice", 55)

	join(t, m, "g1", "alice", "0xalice")
	m.OnLeave(context.Background(), "g1", "alice")

	if m.SessionCount() != 0 {
		t.Fatalf("session survived leave")
	}
}

func TestGetConfigDefaults(t *testing.T) {
	m, _, _ := newTestManager(t)

	cfg := m.GetConfig(context.Background(), "g1")
	if cfg.MinScoreForWrite != 50 || cfg.SessionTimeout != 30*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestSetConfigPersists(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	cfg := DefaultConfig("g1")
	cfg.MinScoreForWrite = 70
	if err := m.SetConfig(ctx, cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if got := m.GetConfig(ctx, "g1").MinScoreForWrite; got != 70 {
		t.Fatalf("min score = %d, want 70", got)
	}
	if _, err := m.configs.Load(ctx, "g1"); err != nil {
		t.Fatalf("config not persisted: %v", err)
	}
}
