// Package gate runs the admission control for gated channels: pending
// wallet verifications, in-memory sessions, live score refresh, and
// score-gated polls.
//
// Access decisions fail closed. An expired token, an unknown invite
// link, a sealed handle that no longer opens: each one ends with the
// member muted, never with a guess in their favor.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"resogate/internal/captoken"
	"resogate/internal/chat"
	"resogate/internal/ledger"
	"resogate/internal/vault"
)

// ManagerConfig tunes session and verification handling.
type ManagerConfig struct {
	// RefreshInterval throttles per-session live score checks.
	RefreshInterval time.Duration

	// SweepInterval is how often expired sessions and pending joins are
	// collected.
	SweepInterval time.Duration

	// ExpiryWarning is the window before expiry in which a member is
	// warned once per activity burst.
	ExpiryWarning time.Duration

	// PendingTTL bounds how long an issued invite waits for its join.
	PendingTTL time.Duration

	// TokenTTL is the capability token lifetime.
	TokenTTL time.Duration

	// CommandLimit and CommandWindow throttle bot commands per member.
	CommandLimit  int
	CommandWindow time.Duration
}

// DefaultManagerConfig returns production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		RefreshInterval: time.Minute,
		SweepInterval:   time.Minute,
		ExpiryWarning:   5 * time.Minute,
		PendingTTL:      captoken.DefaultTTL,
		TokenTTL:        captoken.DefaultTTL,
		CommandLimit:    5,
		CommandWindow:   10 * time.Second,
	}
}

// JoinOffer is what a verified wallet receives: a single-use invite
// link and the capability token bound to it.
type JoinOffer struct {
	InviteLink string
	Token      string
	ExpiresAt  time.Time
}

// MemberStatus is the self-service view a member gets from the bot.
type MemberStatus struct {
	WalletHash string
	Score      int
	CanWrite   bool
	Remaining  time.Duration
}

// GateStatus is the admin view of one gate.
type GateStatus struct {
	Config    Config
	Sessions  int
	OpenPolls int
	Pending   int
}

// Manager owns every session and poll across all gates served by this
// process.
type Manager struct {
	log *slog.Logger
	cfg ManagerConfig

	vault   *vault.Vault
	issuer  *captoken.Issuer
	scores  ledger.ScoreSource
	msgr    chat.Messenger
	configs ConfigStore

	mu       sync.Mutex
	sessions map[string]*Session // sessKey -> session
	cfgCache map[string]Config

	pending *pendingStore
	polls   *pollSet
	limiter *rateLimiter

	activeSessions  prometheus.Gauge
	permissionFlips *prometheus.CounterVec
	sessionsExpired prometheus.Counter
	refreshFailures prometheus.Counter
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithManagerConfig overrides the defaults.
func WithManagerConfig(cfg ManagerConfig) ManagerOption {
	return func(m *Manager) { m.cfg = cfg }
}

// WithMetrics registers the manager's collectors with reg.
func WithMetrics(reg prometheus.Registerer) ManagerOption {
	return func(m *Manager) { m.registerMetrics(reg) }
}

// NewManager constructs a manager. All collaborators are required.
func NewManager(log *slog.Logger, v *vault.Vault, issuer *captoken.Issuer, scores ledger.ScoreSource, msgr chat.Messenger, configs ConfigStore, opts ...ManagerOption) (*Manager, error) {
	if v == nil || issuer == nil || scores == nil || msgr == nil || configs == nil {
		return nil, errors.New("nil collaborator")
	}
	m := &Manager{
		log:      log,
		cfg:      DefaultManagerConfig(),
		vault:    v,
		issuer:   issuer,
		scores:   scores,
		msgr:     msgr,
		configs:  configs,
		sessions: make(map[string]*Session),
		cfgCache: make(map[string]Config),
		pending:  newPendingStore(),
		polls:    newPollSet(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.cfg.RefreshInterval <= 0 || m.cfg.SweepInterval <= 0 || m.cfg.PendingTTL <= 0 || m.cfg.TokenTTL <= 0 {
		return nil, ErrConfig
	}
	m.limiter = newRateLimiter(m.cfg.CommandLimit, m.cfg.CommandWindow)
	return m, nil
}

func (m *Manager) registerMetrics(reg prometheus.Registerer) {
	m.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "resogate", Subsystem: "gate", Name: "sessions",
		Help: "Verified sessions currently alive.",
	})
	m.permissionFlips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resogate", Subsystem: "gate", Name: "permission_flips_total",
		Help: "Write permission changes applied to live sessions.",
	}, []string{"direction"})
	m.sessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "resogate", Subsystem: "gate", Name: "sessions_expired_total",
		Help: "Sessions removed by the idle sweep.",
	})
	m.refreshFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "resogate", Subsystem: "gate", Name: "refresh_failures_total",
		Help: "Live score refreshes that failed; cached permissions were kept.",
	})
	if reg != nil {
		reg.MustRegister(m.activeSessions, m.permissionFlips, m.sessionsExpired, m.refreshFailures)
	}
}

func sessKey(gateID, subjectID string) string {
	return gateID + "\x00" + subjectID
}

// GetConfig returns the gate's policy, falling back to defaults when
// nothing is stored yet.
func (m *Manager) GetConfig(ctx context.Context, gateID string) Config {
	m.mu.Lock()
	if cfg, ok := m.cfgCache[gateID]; ok {
		m.mu.Unlock()
		return cfg
	}
	m.mu.Unlock()

	cfg, err := m.configs.Load(ctx, gateID)
	if errors.Is(err, ErrConfigNotFound) {
		cfg = DefaultConfig(gateID)
	} else if err != nil {
		m.log.Warn("gate.config_load_fail", "gate_id", gateID, "err", err)
		cfg = DefaultConfig(gateID)
	}

	m.mu.Lock()
	m.cfgCache[gateID] = cfg
	m.mu.Unlock()
	return cfg
}

// SetConfig persists a gate's policy and updates the cache.
func (m *Manager) SetConfig(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := m.configs.Save(ctx, cfg); err != nil {
		return err
	}
	m.mu.Lock()
	m.cfgCache[cfg.GateID] = cfg
	m.mu.Unlock()
	m.log.Info("gate.config_set", "gate_id", cfg.GateID, "min_score", cfg.MinScoreForWrite, "session_timeout", cfg.SessionTimeout)
	return nil
}

// PrepareJoin is called after a wallet proved ownership: it creates a
// single-use invite link, issues the capability token bound to it, and
// records the pending join the link will later claim.
func (m *Manager) PrepareJoin(ctx context.Context, gateID, walletAddress string, score int) (JoinOffer, error) {
	cfg := m.GetConfig(ctx, gateID)
	now := time.Now().UTC()

	link, err := m.msgr.CreateInvite(ctx, gateID)
	if err != nil {
		return JoinOffer{}, fmt.Errorf("create invite: %w", err)
	}

	caps := captoken.Derive(score, cfg.Thresholds())
	token, err := m.issuer.Issue(caps, link, m.cfg.TokenTTL, now)
	if err != nil {
		return JoinOffer{}, err
	}

	m.pending.put(link, pendingJoin{
		gateID:        gateID,
		walletAddress: walletAddress,
		initialScore:  score,
		expiresAt:     now.Add(m.cfg.PendingTTL),
	})

	m.log.Info("gate.join_prepared",
		"gate_id", gateID,
		"wallet", vault.HashAddress(walletAddress),
		"score", score,
		"caps", caps.Strings(),
	)
	return JoinOffer{InviteLink: link, Token: token, ExpiresAt: now.Add(m.cfg.TokenTTL)}, nil
}

// VerifyToken validates a capability token. Any failure is terminal for
// the caller; there is no refresh path for an expired token.
func (m *Manager) VerifyToken(token string) (captoken.Payload, error) {
	return m.issuer.Verify(token, time.Now().UTC())
}

// OnJoin handles a member entering a gated channel through an invite
// link. An unknown or expired link leaves the member muted.
func (m *Manager) OnJoin(ctx context.Context, gateID, subjectID, inviteLink string) error {
	now := time.Now().UTC()
	cfg := m.GetConfig(ctx, gateID)

	pj, ok := m.pending.claim(inviteLink, now)
	if !ok || pj.gateID != gateID {
		_ = m.msgr.RevokeWrite(ctx, gateID, subjectID)
		_ = m.msgr.SendTo(ctx, gateID, subjectID, "No verification found for this invite. Please verify your wallet and rejoin.")
		m.log.Warn("gate.join_rejected", "gate_id", gateID, "subject_id", subjectID)
		return ErrNoPending
	}

	// Permission comes from the live score at the moment of joining,
	// not from the score at verification time.
	score := pj.initialScore
	canWrite := false
	live, err := m.scores.GetLiveScore(ctx, pj.walletAddress)
	if err != nil {
		if m.refreshFailures != nil {
			m.refreshFailures.Inc()
		}
		m.log.Warn("gate.join_score_unavailable", "gate_id", gateID, "wallet", vault.HashAddress(pj.walletAddress), "err", err)
	} else {
		score = live
		canWrite = live >= cfg.MinScoreForWrite
	}

	handle, err := m.vault.Seal(pj.walletAddress)
	if err != nil {
		_ = m.msgr.RevokeWrite(ctx, gateID, subjectID)
		return err
	}

	s := &Session{
		GateID:         gateID,
		SubjectID:      subjectID,
		Wallet:         handle,
		WalletHash:     vault.HashAddress(pj.walletAddress),
		LastKnownScore: score,
		CanWrite:       canWrite,
		StartedAt:      now,
		LastActivity:   now,
		LastScoreCheck: now,
		ExpiresAt:      now.Add(cfg.SessionTimeout),
	}

	m.mu.Lock()
	_, replaced := m.sessions[sessKey(gateID, subjectID)]
	m.sessions[sessKey(gateID, subjectID)] = s
	m.mu.Unlock()
	if m.activeSessions != nil && !replaced {
		m.activeSessions.Inc()
	}

	greet := cfg.Welcome
	if greet == "" {
		greet = "Welcome!"
	}
	if canWrite {
		if err := m.msgr.GrantWrite(ctx, gateID, subjectID); err != nil {
			m.log.Error("gate.grant_fail", "gate_id", gateID, "subject_id", subjectID, "err", err)
		}
		_ = m.msgr.SendTo(ctx, gateID, subjectID,
			fmt.Sprintf("%s Your resonance score is %d. You can post in this channel.", greet, score))
	} else {
		_ = m.msgr.RevokeWrite(ctx, gateID, subjectID)
		_ = m.msgr.SendTo(ctx, gateID, subjectID,
			fmt.Sprintf("%s Your resonance score is %d; posting requires %d. You can read along until it rises.", greet, score, cfg.MinScoreForWrite))
	}

	m.log.Info("gate.session_start",
		"gate_id", gateID,
		"subject_id", subjectID,
		"wallet", s.WalletHash,
		"score", score,
		"can_write", canWrite,
	)
	return nil
}

// OnLeave drops the member's session, if any.
func (m *Manager) OnLeave(_ context.Context, gateID, subjectID string) {
	m.mu.Lock()
	_, ok := m.sessions[sessKey(gateID, subjectID)]
	delete(m.sessions, sessKey(gateID, subjectID))
	m.mu.Unlock()
	if ok {
		if m.activeSessions != nil {
			m.activeSessions.Dec()
		}
		m.log.Info("gate.session_end", "gate_id", gateID, "subject_id", subjectID, "reason", "left")
	}
}

// OnMessage handles channel activity: it extends the session, routes
// commands and poll votes, and refreshes the live score when due.
// Messages from members without a session are ignored; the platform
// mute already denies them.
func (m *Manager) OnMessage(ctx context.Context, gateID, subjectID, text, replyToID string) {
	now := time.Now().UTC()
	cfg := m.GetConfig(ctx, gateID)

	m.mu.Lock()
	s, ok := m.sessions[sessKey(gateID, subjectID)]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.Extend(now, cfg.SessionTimeout)
	remaining := s.Remaining(now)
	m.mu.Unlock()

	if remaining < m.cfg.ExpiryWarning {
		_ = m.msgr.SendTo(ctx, gateID, subjectID,
			fmt.Sprintf("Your session expires in %s. Keep chatting to extend it.", remaining.Round(time.Second)))
	}

	switch {
	case strings.HasPrefix(text, "/"):
		m.handleCommand(ctx, s, cfg, text, now)
	case replyToID != "":
		if p, ok := m.polls.byReply(gateID, replyToID); ok {
			m.handleVoteReply(ctx, s, p, text)
		}
	}

	m.refreshIfDue(ctx, gateID, subjectID, cfg, now)
}

// refreshIfDue re-fetches the live score at most once per refresh
// interval and applies exactly one permission flip when the score
// crossed the write threshold.
func (m *Manager) refreshIfDue(ctx context.Context, gateID, subjectID string, cfg Config, now time.Time) {
	m.mu.Lock()
	s, ok := m.sessions[sessKey(gateID, subjectID)]
	if !ok || !s.RefreshDue(now, m.cfg.RefreshInterval) {
		m.mu.Unlock()
		return
	}
	s.LastScoreCheck = now
	handle := s.Wallet
	m.mu.Unlock()

	addr, err := m.vault.Open(handle)
	if err != nil {
		// A handle that no longer opens was tampered with. The session
		// cannot be trusted and dies immediately.
		m.invalidate(ctx, gateID, subjectID, "vault_open_failed")
		return
	}

	live, err := m.scores.GetLiveScore(ctx, addr)
	if err != nil {
		if m.refreshFailures != nil {
			m.refreshFailures.Inc()
		}
		m.log.Warn("gate.refresh_fail", "gate_id", gateID, "wallet", vault.HashAddress(addr), "err", err)
		return
	}

	eligible := live >= cfg.MinScoreForWrite

	m.mu.Lock()
	s, ok = m.sessions[sessKey(gateID, subjectID)]
	if !ok {
		m.mu.Unlock()
		return
	}
	prev := s.CanWrite
	s.LastKnownScore = live
	s.CanWrite = eligible
	m.mu.Unlock()

	if eligible == prev {
		return
	}

	if eligible {
		if err := m.msgr.GrantWrite(ctx, gateID, subjectID); err != nil {
			m.log.Error("gate.grant_fail", "gate_id", gateID, "subject_id", subjectID, "err", err)
			return
		}
		if m.permissionFlips != nil {
			m.permissionFlips.WithLabelValues("grant").Inc()
		}
		_ = m.msgr.SendTo(ctx, gateID, subjectID,
			fmt.Sprintf("Your resonance score rose to %d. You can post again.", live))
	} else {
		if err := m.msgr.RevokeWrite(ctx, gateID, subjectID); err != nil {
			m.log.Error("gate.revoke_fail", "gate_id", gateID, "subject_id", subjectID, "err", err)
			return
		}
		if m.permissionFlips != nil {
			m.permissionFlips.WithLabelValues("revoke").Inc()
		}
		_ = m.msgr.SendTo(ctx, gateID, subjectID,
			fmt.Sprintf("Your resonance score dropped to %d; posting requires %d. You can still read along.", live, cfg.MinScoreForWrite))
	}
	m.log.Info("gate.permission_flip", "gate_id", gateID, "subject_id", subjectID, "score", live, "can_write", eligible)
}

func (m *Manager) invalidate(ctx context.Context, gateID, subjectID, reason string) {
	m.mu.Lock()
	_, ok := m.sessions[sessKey(gateID, subjectID)]
	delete(m.sessions, sessKey(gateID, subjectID))
	m.mu.Unlock()
	if !ok {
		return
	}
	if m.activeSessions != nil {
		m.activeSessions.Dec()
	}
	_ = m.msgr.RevokeWrite(ctx, gateID, subjectID)
	_ = m.msgr.SendTo(ctx, gateID, subjectID, "Your session is no longer valid. Please verify your wallet again.")
	m.log.Error("gate.session_invalidated", "gate_id", gateID, "subject_id", subjectID, "reason", reason)
}

// OpenPoll creates a score-gated poll and announces it in the channel.
func (m *Manager) OpenPoll(ctx context.Context, gateID, creatorID, question string, options []string, minScore int) (*Poll, error) {
	if len(options) < 2 {
		return nil, ErrBadOption
	}
	if minScore < 0 {
		return nil, ErrScoreTooLow
	}

	p := &Poll{
		ID:        newPollID(),
		GateID:    gateID,
		CreatorID: creatorID,
		Question:  question,
		Options:   options,
		MinScore:  minScore,
		CreatedAt: time.Now().UTC(),
		votes:     make(map[string]int),
	}

	msgID, err := m.msgr.Send(ctx, gateID, p.Announcement())
	if err != nil {
		return nil, err
	}
	p.MessageID = msgID
	m.polls.add(p)

	m.log.Info("gate.poll_open", "gate_id", gateID, "poll_id", p.ID, "min_score", minScore, "options", len(options))
	return p, nil
}

// Vote records a member's choice after re-checking the live score
// against the poll's threshold. A vote with an unverifiable score is
// rejected.
func (m *Manager) Vote(ctx context.Context, gateID, subjectID, pollID string, option int) error {
	p, ok := m.polls.get(pollID)
	if !ok || p.GateID != gateID {
		return ErrPollNotFound
	}

	m.mu.Lock()
	s, ok := m.sessions[sessKey(gateID, subjectID)]
	if !ok {
		m.mu.Unlock()
		return ErrNoSession
	}
	handle := s.Wallet
	m.mu.Unlock()

	addr, err := m.vault.Open(handle)
	if err != nil {
		m.invalidate(ctx, gateID, subjectID, "vault_open_failed")
		return ErrNoSession
	}
	live, err := m.scores.GetLiveScore(ctx, addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrScoreUnavailable, err)
	}
	if live < p.MinScore {
		return ErrScoreTooLow
	}

	if err := m.polls.vote(pollID, subjectID, option); err != nil {
		return err
	}
	m.log.Info("gate.poll_vote", "gate_id", gateID, "poll_id", pollID, "subject_id", subjectID, "option", option)
	return nil
}

func (m *Manager) handleVoteReply(ctx context.Context, s *Session, p *Poll, text string) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return
	}
	switch err := m.Vote(ctx, s.GateID, s.SubjectID, p.ID, n-1); {
	case err == nil:
		_ = m.msgr.SendTo(ctx, s.GateID, s.SubjectID, fmt.Sprintf("Vote recorded: option %d.", n))
	case errors.Is(err, ErrScoreTooLow):
		_ = m.msgr.SendTo(ctx, s.GateID, s.SubjectID, fmt.Sprintf("This poll requires a score of %d.", p.MinScore))
	case errors.Is(err, ErrBadOption):
		_ = m.msgr.SendTo(ctx, s.GateID, s.SubjectID, fmt.Sprintf("Pick an option between 1 and %d.", len(p.Options)))
	case errors.Is(err, ErrPollClosed):
		_ = m.msgr.SendTo(ctx, s.GateID, s.SubjectID, "This poll is closed.")
	default:
		_ = m.msgr.SendTo(ctx, s.GateID, s.SubjectID, "Could not verify your score right now; your vote was not counted.")
	}
}

// ClosePoll closes a poll and posts the tally.
func (m *Manager) ClosePoll(ctx context.Context, gateID, pollID string) (*Poll, error) {
	p, err := m.polls.close(pollID)
	if err != nil {
		return nil, err
	}
	if p.GateID != gateID {
		return nil, ErrPollNotFound
	}
	if _, err := m.msgr.Send(ctx, gateID, p.ResultText()); err != nil {
		m.log.Error("gate.poll_result_send_fail", "poll_id", pollID, "err", err)
	}
	m.log.Info("gate.poll_close", "gate_id", gateID, "poll_id", pollID, "votes", len(p.votes))
	return p, nil
}

// Status returns the admin view of one gate.
func (m *Manager) Status(ctx context.Context, gateID string) GateStatus {
	cfg := m.GetConfig(ctx, gateID)
	m.mu.Lock()
	var n int
	for key := range m.sessions {
		if strings.HasPrefix(key, gateID+"\x00") {
			n++
		}
	}
	m.mu.Unlock()
	return GateStatus{
		Config:    cfg,
		Sessions:  n,
		OpenPolls: len(m.polls.open(gateID)),
		Pending:   m.pending.len(),
	}
}

// MemberStatus returns a member's own session view.
func (m *Manager) MemberStatus(gateID, subjectID string) (MemberStatus, error) {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessKey(gateID, subjectID)]
	if !ok {
		return MemberStatus{}, ErrNoSession
	}
	return MemberStatus{
		WalletHash: s.WalletHash,
		Score:      s.LastKnownScore,
		CanWrite:   s.CanWrite,
		Remaining:  s.Remaining(now),
	}, nil
}

// SessionCount returns the number of live sessions across all gates.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run is the maintenance loop: it expires idle sessions, drops stale
// pending joins, and trims the command limiter. It exits when ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.log.Info("gate.sweep_start", "interval", m.cfg.SweepInterval)
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("gate.sweep_stop")
			return
		case now := <-ticker.C:
			m.sweep(ctx, now.UTC())
		}
	}
}

func (m *Manager) sweep(ctx context.Context, now time.Time) {
	m.mu.Lock()
	var expired []*Session
	for key, s := range m.sessions {
		if s.Expired(now) {
			expired = append(expired, s)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		if m.activeSessions != nil {
			m.activeSessions.Dec()
		}
		if m.sessionsExpired != nil {
			m.sessionsExpired.Inc()
		}
		_ = m.msgr.RevokeWrite(ctx, s.GateID, s.SubjectID)
		_ = m.msgr.SendTo(ctx, s.GateID, s.SubjectID, "Your session expired. Verify your wallet again to keep posting.")
		m.log.Info("gate.session_end", "gate_id", s.GateID, "subject_id", s.SubjectID, "reason", "expired")
	}

	if dropped := m.pending.sweep(now); dropped > 0 {
		m.log.Info("gate.pending_sweep", "dropped", dropped)
	}
	m.limiter.sweep(now)
}
