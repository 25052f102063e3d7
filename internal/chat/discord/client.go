// Package discord adapts the Discord REST and gateway APIs to the chat
// contracts.
//
// Write control maps to per-member channel permission overwrites and
// invites to single-use channel invites. Discord does not report which
// invite admitted a member, so the client tracks invite use counts and
// attributes a join to the invite whose count advanced.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const defaultBaseURL = "https://discord.com/api/v10"

// sendMessagesBit is the SEND_MESSAGES permission flag.
const sendMessagesBit = "2048"

// inviteMaxAge bounds how long an unused invite stays valid, in
// seconds.
const inviteMaxAge = 600

// Client is the REST side of the adapter. One client serves one guild;
// each gated channel in it is a gateID.
type Client struct {
	log        *slog.Logger
	token      string
	baseURL    string
	guildID    string
	adminRoles []string
	http       *http.Client

	mu         sync.Mutex
	dmChannels map[string]string // userID -> DM channel id
	inviteUses map[string]int    // invite code -> last seen uses
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint (tests).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithAdminRoles sets the role ids treated as gate admins.
func WithAdminRoles(roles []string) ClientOption {
	return func(c *Client) { c.adminRoles = roles }
}

// NewClient constructs a client for one guild.
func NewClient(log *slog.Logger, token, guildID string, opts ...ClientOption) (*Client, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	if guildID == "" {
		return nil, ErrNoGuild
	}
	c := &Client{
		log:        log,
		token:      token,
		baseURL:    defaultBaseURL,
		guildID:    guildID,
		http:       &http.Client{Timeout: 30 * time.Second},
		dmChannels: make(map[string]string),
		inviteUses: make(map[string]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrAPICall, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: %d %s", ErrAPICall, method, path, resp.StatusCode, msg)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// permissionOverwrite is the member overwrite payload; type 1 targets a
// member, not a role.
type permissionOverwrite struct {
	Type  int    `json:"type"`
	Allow string `json:"allow"`
	Deny  string `json:"deny"`
}

// GrantWrite implements chat.Messenger.
func (c *Client) GrantWrite(ctx context.Context, gateID, subjectID string) error {
	return c.do(ctx, http.MethodPut,
		"/channels/"+gateID+"/permissions/"+subjectID,
		permissionOverwrite{Type: 1, Allow: sendMessagesBit, Deny: "0"}, nil)
}

// RevokeWrite implements chat.Messenger.
func (c *Client) RevokeWrite(ctx context.Context, gateID, subjectID string) error {
	return c.do(ctx, http.MethodPut,
		"/channels/"+gateID+"/permissions/"+subjectID,
		permissionOverwrite{Type: 1, Allow: "0", Deny: sendMessagesBit}, nil)
}

// Send implements chat.Messenger.
func (c *Client) Send(ctx context.Context, gateID, text string) (string, error) {
	var msg struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/channels/"+gateID+"/messages",
		map[string]string{"content": text}, &msg)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// SendTo implements chat.Messenger. Member-directed text goes over DM;
// scores never land in the channel.
func (c *Client) SendTo(ctx context.Context, _, subjectID, text string) error {
	ch, err := c.dmChannel(ctx, subjectID)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/channels/"+ch+"/messages",
		map[string]string{"content": text}, nil)
}

func (c *Client) dmChannel(ctx context.Context, userID string) (string, error) {
	c.mu.Lock()
	ch, ok := c.dmChannels[userID]
	c.mu.Unlock()
	if ok {
		return ch, nil
	}

	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/users/@me/channels",
		map[string]string{"recipient_id": userID}, &out)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.dmChannels[userID] = out.ID
	c.mu.Unlock()
	return out.ID, nil
}

type invite struct {
	Code string `json:"code"`
	Uses int    `json:"uses"`
}

// CreateInvite implements chat.Messenger. max_uses 1 makes Discord
// enforce single use; the code is also recorded for join attribution.
func (c *Client) CreateInvite(ctx context.Context, gateID string) (string, error) {
	var inv invite
	err := c.do(ctx, http.MethodPost, "/channels/"+gateID+"/invites",
		map[string]any{"max_uses": 1, "max_age": inviteMaxAge, "unique": true}, &inv)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.inviteUses[inv.Code] = inv.Uses
	c.mu.Unlock()
	return inviteURL(inv.Code), nil
}

// ResolveJoinInvite finds the invite whose use count advanced since it
// was last observed. Called once per member join; an empty result means
// the join came through an untracked path and will be rejected
// downstream.
func (c *Client) ResolveJoinInvite(ctx context.Context, gateID string) (string, error) {
	var invites []invite
	if err := c.do(ctx, http.MethodGet, "/channels/"+gateID+"/invites", nil, &invites); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, inv := range invites {
		last, tracked := c.inviteUses[inv.Code]
		if tracked && inv.Uses > last {
			c.inviteUses[inv.Code] = inv.Uses
			return inviteURL(inv.Code), nil
		}
	}
	// A single-use invite disappears from the list once consumed:
	// whichever tracked code is now gone is the one that admitted the
	// member.
	present := make(map[string]bool, len(invites))
	for _, inv := range invites {
		present[inv.Code] = true
	}
	for code := range c.inviteUses {
		if !present[code] {
			delete(c.inviteUses, code)
			return inviteURL(code), nil
		}
	}
	return "", nil
}

// IsAdmin implements chat.Messenger. Membership in any configured admin
// role counts.
func (c *Client) IsAdmin(ctx context.Context, _, subjectID string) (bool, error) {
	if len(c.adminRoles) == 0 {
		return false, nil
	}
	var member struct {
		Roles []string `json:"roles"`
	}
	err := c.do(ctx, http.MethodGet, "/guilds/"+c.guildID+"/members/"+subjectID, nil, &member)
	if err != nil {
		return false, err
	}
	for _, r := range member.Roles {
		for _, admin := range c.adminRoles {
			if r == admin {
				return true, nil
			}
		}
	}
	return false, nil
}

func inviteURL(code string) string {
	return "https://discord.gg/" + code
}
