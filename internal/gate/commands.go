package gate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// handleCommand dispatches a bot command from a verified member. Admin
// commands are double-checked against the platform's own admin list,
// never against anything session-derived.
func (m *Manager) handleCommand(ctx context.Context, s *Session, cfg Config, text string, now time.Time) {
	if !m.limiter.allow(sessKey(s.GateID, s.SubjectID), now) {
		m.log.Warn("gate.command_rate_limited", "gate_id", s.GateID, "subject_id", s.SubjectID)
		return
	}

	cmd, args, _ := strings.Cut(strings.TrimSpace(text), " ")
	args = strings.TrimSpace(args)

	// Telegram suffixes commands with the bot name in groups.
	cmd, _, _ = strings.Cut(cmd, "@")

	switch cmd {
	case "/help":
		m.reply(ctx, s, helpText)
	case "/mystatus":
		m.cmdMyStatus(ctx, s)
	case "/setminscore":
		m.adminCmd(ctx, s, func() { m.cmdSetMinScore(ctx, s, cfg, args) })
	case "/settimeout":
		m.adminCmd(ctx, s, func() { m.cmdSetTimeout(ctx, s, cfg, args) })
	case "/setwelcome":
		m.adminCmd(ctx, s, func() { m.cmdSetWelcome(ctx, s, cfg, args) })
	case "/status":
		m.adminCmd(ctx, s, func() { m.cmdStatus(ctx, s) })
	case "/poll":
		m.adminCmd(ctx, s, func() { m.cmdPoll(ctx, s, cfg, args) })
	case "/closepoll":
		m.adminCmd(ctx, s, func() { m.cmdClosePoll(ctx, s, args) })
	}
}

const helpText = `Commands:
/mystatus - your score, posting rights, and session time left
/setminscore <n> - (admin) minimum score required to post
/settimeout <minutes> - (admin) session idle timeout
/setwelcome <text> - (admin) greeting for new members; empty resets
/status - (admin) gate overview
/poll <question> | <option> | <option> [| min score] - (admin) open a poll
/closepoll [id] - (admin) close a poll and post the tally`

func (m *Manager) reply(ctx context.Context, s *Session, text string) {
	_ = m.msgr.SendTo(ctx, s.GateID, s.SubjectID, text)
}

func (m *Manager) adminCmd(ctx context.Context, s *Session, run func()) {
	ok, err := m.msgr.IsAdmin(ctx, s.GateID, s.SubjectID)
	if err != nil {
		m.log.Warn("gate.admin_check_fail", "gate_id", s.GateID, "subject_id", s.SubjectID, "err", err)
		return
	}
	if !ok {
		m.reply(ctx, s, "That command is for channel admins.")
		return
	}
	run()
}

func (m *Manager) cmdMyStatus(ctx context.Context, s *Session) {
	st, err := m.MemberStatus(s.GateID, s.SubjectID)
	if err != nil {
		return
	}
	writing := "you can post"
	if !st.CanWrite {
		writing = "posting is locked"
	}
	m.reply(ctx, s, fmt.Sprintf(
		"Score %d, %s. Session expires in %s. Wallet %s.",
		st.Score, writing, st.Remaining.Round(time.Second), st.WalletHash,
	))
}

func (m *Manager) cmdSetMinScore(ctx context.Context, s *Session, cfg Config, args string) {
	n, err := strconv.Atoi(args)
	if err != nil || n < 0 {
		m.reply(ctx, s, "Usage: /setminscore <non-negative integer>")
		return
	}
	cfg.MinScoreForWrite = n
	if err := m.SetConfig(ctx, cfg); err != nil {
		m.reply(ctx, s, "Could not save the new minimum score.")
		return
	}
	m.reply(ctx, s, fmt.Sprintf("Minimum score to post is now %d.", n))
}

func (m *Manager) cmdSetTimeout(ctx context.Context, s *Session, cfg Config, args string) {
	mins, err := strconv.Atoi(args)
	if err != nil || mins <= 0 {
		m.reply(ctx, s, "Usage: /settimeout <minutes>")
		return
	}
	cfg.SessionTimeout = time.Duration(mins) * time.Minute
	if err := m.SetConfig(ctx, cfg); err != nil {
		m.reply(ctx, s, "Could not save the new timeout.")
		return
	}
	m.reply(ctx, s, fmt.Sprintf("Session timeout is now %d minutes.", mins))
}

func (m *Manager) cmdSetWelcome(ctx context.Context, s *Session, cfg Config, args string) {
	cfg.Welcome = args
	if err := m.SetConfig(ctx, cfg); err != nil {
		m.reply(ctx, s, "Could not save the welcome text.")
		return
	}
	if args == "" {
		m.reply(ctx, s, "Welcome text reset to the default.")
		return
	}
	m.reply(ctx, s, "Welcome text updated.")
}

func (m *Manager) cmdStatus(ctx context.Context, s *Session) {
	st := m.Status(ctx, s.GateID)
	m.reply(ctx, s, fmt.Sprintf(
		"Sessions: %d. Open polls: %d. Pending verifications: %d. Min score: %d. Timeout: %s.",
		st.Sessions, st.OpenPolls, st.Pending, st.Config.MinScoreForWrite, st.Config.SessionTimeout,
	))
}

// cmdPoll parses "/poll question | option | option [| min score]".
// A trailing segment that is a bare integer sets the score gate;
// otherwise the gate's write threshold applies.
func (m *Manager) cmdPoll(ctx context.Context, s *Session, cfg Config, args string) {
	parts := strings.Split(args, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	minScore := cfg.MinScoreForWrite
	if len(parts) > 3 {
		if n, err := strconv.Atoi(parts[len(parts)-1]); err == nil && n >= 0 {
			minScore = n
			parts = parts[:len(parts)-1]
		}
	}

	if len(parts) < 3 || parts[0] == "" {
		m.reply(ctx, s, "Usage: /poll <question> | <option> | <option> [| min score]")
		return
	}

	p, err := m.OpenPoll(ctx, s.GateID, s.SubjectID, parts[0], parts[1:], minScore)
	if err != nil {
		m.reply(ctx, s, "Could not open the poll.")
		return
	}
	m.reply(ctx, s, fmt.Sprintf("Poll %s is open.", p.ID))
}

func (m *Manager) cmdClosePoll(ctx context.Context, s *Session, args string) {
	pollID := strings.TrimSpace(args)
	if pollID == "" {
		open := m.polls.open(s.GateID)
		if len(open) == 0 {
			m.reply(ctx, s, "No open polls.")
			return
		}
		pollID = open[0].ID
	}
	if _, err := m.ClosePoll(ctx, s.GateID, pollID); err != nil {
		m.reply(ctx, s, "Could not close that poll.")
	}
}
