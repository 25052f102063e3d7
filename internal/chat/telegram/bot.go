// Package telegram adapts the Telegram Bot API to the chat contracts.
//
// Write control maps to restrictChatMember, invites to single-member
// createChatInviteLink, and events arrive over getUpdates long polling.
// Join attribution relies on chat_member updates, which carry the
// invite link that admitted the member.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"resogate/internal/chat"
)

const defaultBaseURL = "https://api.telegram.org"

// pollTimeout is the long-poll wait passed to getUpdates.
const pollTimeout = 30 * time.Second

// Bot is a Telegram bot serving one or more gated group chats.
type Bot struct {
	log     *slog.Logger
	token   string
	baseURL string
	http    *http.Client
	handler chat.Handler

	offset int64
}

// BotOption configures the bot.
type BotOption func(*Bot)

// WithBaseURL overrides the API endpoint (tests).
func WithBaseURL(u string) BotOption {
	return func(b *Bot) { b.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) BotOption {
	return func(b *Bot) { b.http = c }
}

// NewBot constructs a bot. handler may be nil for send-only use.
func NewBot(log *slog.Logger, token string, handler chat.Handler, opts ...BotOption) (*Bot, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	b := &Bot{
		log:     log,
		token:   token,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: pollTimeout + 10*time.Second},
		handler: handler,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// apiResponse is the envelope every Bot API call returns.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (b *Bot) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	url := b.baseURL + "/bot" + b.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrAPICall, method, err)
	}
	defer resp.Body.Close()

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrAPICall, method, err)
	}
	if !env.OK {
		return fmt.Errorf("%w: %s: %s", ErrAPICall, method, env.Description)
	}
	if out != nil {
		return json.Unmarshal(env.Result, out)
	}
	return nil
}

// GrantWrite implements chat.Messenger.
func (b *Bot) GrantWrite(ctx context.Context, gateID, subjectID string) error {
	return b.restrict(ctx, gateID, subjectID, true)
}

// RevokeWrite implements chat.Messenger.
func (b *Bot) RevokeWrite(ctx context.Context, gateID, subjectID string) error {
	return b.restrict(ctx, gateID, subjectID, false)
}

func (b *Bot) restrict(ctx context.Context, gateID, subjectID string, canSend bool) error {
	params := map[string]any{
		"chat_id": gateID,
		"user_id": mustInt(subjectID),
		"permissions": map[string]any{
			"can_send_messages":         canSend,
			"can_send_other_messages":   canSend,
			"can_add_web_page_previews": canSend,
		},
	}
	return b.call(ctx, "restrictChatMember", params, nil)
}

// Send implements chat.Messenger.
func (b *Bot) Send(ctx context.Context, gateID, text string) (string, error) {
	var msg struct {
		MessageID int64 `json:"message_id"`
	}
	err := b.call(ctx, "sendMessage", map[string]any{"chat_id": gateID, "text": text}, &msg)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(msg.MessageID, 10), nil
}

// SendTo implements chat.Messenger. Member-directed text goes to the
// member's private chat, never into the group; scores are nobody else's
// business.
func (b *Bot) SendTo(ctx context.Context, _, subjectID, text string) error {
	return b.call(ctx, "sendMessage", map[string]any{"chat_id": subjectID, "text": text}, nil)
}

// CreateInvite implements chat.Messenger. member_limit 1 makes Telegram
// itself enforce single use.
func (b *Bot) CreateInvite(ctx context.Context, gateID string) (string, error) {
	var link struct {
		InviteLink string `json:"invite_link"`
	}
	err := b.call(ctx, "createChatInviteLink", map[string]any{"chat_id": gateID, "member_limit": 1}, &link)
	if err != nil {
		return "", err
	}
	return link.InviteLink, nil
}

// IsAdmin implements chat.Messenger.
func (b *Bot) IsAdmin(ctx context.Context, gateID, subjectID string) (bool, error) {
	var member struct {
		Status string `json:"status"`
	}
	err := b.call(ctx, "getChatMember", map[string]any{"chat_id": gateID, "user_id": mustInt(subjectID)}, &member)
	if err != nil {
		return false, err
	}
	return member.Status == "creator" || member.Status == "administrator", nil
}

// update mirrors the fields of a Telegram update this bot reads.
type update struct {
	UpdateID   int64             `json:"update_id"`
	Message    *message          `json:"message"`
	ChatMember *chatMemberUpdate `json:"chat_member"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	From      *user  `json:"from"`
	Chat      tgChat `json:"chat"`
	ReplyTo   *struct {
		MessageID int64 `json:"message_id"`
	} `json:"reply_to_message"`
}

type user struct {
	ID    int64 `json:"id"`
	IsBot bool  `json:"is_bot"`
}

type tgChat struct {
	ID int64 `json:"id"`
}

type chatMemberUpdate struct {
	Chat       tgChat `json:"chat"`
	From       user   `json:"from"`
	NewMember  member `json:"new_chat_member"`
	InviteLink *struct {
		InviteLink string `json:"invite_link"`
	} `json:"invite_link"`
}

type member struct {
	User   user   `json:"user"`
	Status string `json:"status"`
}

// Run long-polls getUpdates and dispatches events until ctx is
// cancelled. Poll errors back off and retry; the loop never dies on a
// transient failure.
func (b *Bot) Run(ctx context.Context) {
	b.log.Info("telegram.start")
	for {
		select {
		case <-ctx.Done():
			b.log.Info("telegram.stop")
			return
		default:
		}

		updates, err := b.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			b.log.Warn("telegram.poll_fail", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			b.dispatch(ctx, u)
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
		}
	}
}

func (b *Bot) getUpdates(ctx context.Context) ([]update, error) {
	var updates []update
	err := b.call(ctx, "getUpdates", map[string]any{
		"offset":          b.offset,
		"timeout":         int(pollTimeout / time.Second),
		"allowed_updates": []string{"message", "chat_member"},
	}, &updates)
	return updates, err
}

func (b *Bot) dispatch(ctx context.Context, u update) {
	if b.handler == nil {
		return
	}
	switch {
	case u.ChatMember != nil:
		b.dispatchMember(ctx, u.ChatMember)
	case u.Message != nil:
		b.dispatchMessage(ctx, u.Message)
	}
}

func (b *Bot) dispatchMember(ctx context.Context, cm *chatMemberUpdate) {
	gateID := strconv.FormatInt(cm.Chat.ID, 10)
	subjectID := strconv.FormatInt(cm.NewMember.User.ID, 10)
	switch cm.NewMember.Status {
	case "member":
		var link string
		if cm.InviteLink != nil {
			link = cm.InviteLink.InviteLink
		}
		if err := b.handler.OnJoin(ctx, gateID, subjectID, link); err != nil {
			b.log.Warn("telegram.join_denied", "gate_id", gateID, "subject_id", subjectID, "err", err)
		}
	case "left", "kicked":
		b.handler.OnLeave(ctx, gateID, subjectID)
	}
}

func (b *Bot) dispatchMessage(ctx context.Context, m *message) {
	if m.From == nil || m.From.IsBot {
		return
	}
	var replyTo string
	if m.ReplyTo != nil {
		replyTo = strconv.FormatInt(m.ReplyTo.MessageID, 10)
	}
	b.handler.OnMessage(ctx,
		strconv.FormatInt(m.Chat.ID, 10),
		strconv.FormatInt(m.From.ID, 10),
		m.Text,
		replyTo,
	)
}

func mustInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
