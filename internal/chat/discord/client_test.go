package discord

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type restCall struct {
	method string
	path   string
	body   map[string]any
}

// fakeREST serves canned responses keyed by "METHOD path".
type fakeREST struct {
	mu        sync.Mutex
	responses map[string]string
	calls     []restCall
}

func (f *fakeREST) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		key := r.Method + " " + r.URL.Path
		f.mu.Lock()
		f.calls = append(f.calls, restCall{method: r.Method, path: r.URL.Path, body: body})
		resp, ok := f.responses[key]
		f.mu.Unlock()

		if !ok {
			resp = `{}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp))
	}
}

func (f *fakeREST) last(t *testing.T, method, path string) restCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].method == method && f.calls[i].path == path {
			return f.calls[i]
		}
	}
	t.Fatalf("no %s %s recorded", method, path)
	return restCall{}
}

func newTestClient(t *testing.T, opts ...ClientOption) (*Client, *fakeREST) {
	t.Helper()
	api := &fakeREST{responses: make(map[string]string)}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	opts = append(opts, WithBaseURL(srv.URL))
	c, err := NewClient(testLogger(), "test-token", "guild1", opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, api
}

func TestGrantAndRevokeWriteOverwrite(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()

	if err := c.GrantWrite(ctx, "chan1", "user1"); err != nil {
		t.Fatalf("GrantWrite: %v", err)
	}
	call := api.last(t, http.MethodPut, "/channels/chan1/permissions/user1")
	if call.body["allow"] != sendMessagesBit || call.body["deny"] != "0" {
		t.Fatalf("grant overwrite = %v", call.body)
	}
	if call.body["type"] != float64(1) {
		t.Fatalf("overwrite must target a member: %v", call.body)
	}

	if err := c.RevokeWrite(ctx, "chan1", "user1"); err != nil {
		t.Fatalf("RevokeWrite: %v", err)
	}
	call = api.last(t, http.MethodPut, "/channels/chan1/permissions/user1")
	if call.body["allow"] != "0" || call.body["deny"] != sendMessagesBit {
		t.Fatalf("revoke overwrite = %v", call.body)
	}
}

func TestCreateInviteSingleUse(t *testing.T) {
	c, api := newTestClient(t)
	api.responses["POST /channels/chan1/invites"] = `{"code":"abc123","uses":0}`

	link, err := c.CreateInvite(context.Background(), "chan1")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if link != "https://discord.gg/abc123" {
		t.Fatalf("link = %q", link)
	}
	call := api.last(t, http.MethodPost, "/channels/chan1/invites")
	if call.body["max_uses"] != float64(1) || call.body["unique"] != true {
		t.Fatalf("invite params = %v", call.body)
	}
}

func TestResolveJoinInviteByUseCount(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()

	api.responses["POST /channels/chan1/invites"] = `{"code":"abc123","uses":0}`
	if _, err := c.CreateInvite(ctx, "chan1"); err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	api.responses["GET /channels/chan1/invites"] = `[{"code":"abc123","uses":1},{"code":"other","uses":5}]`
	link, err := c.ResolveJoinInvite(ctx, "chan1")
	if err != nil {
		t.Fatalf("ResolveJoinInvite: %v", err)
	}
	if link != "https://discord.gg/abc123" {
		t.Fatalf("resolved %q, want the advanced invite", link)
	}
}

func TestResolveJoinInviteConsumedAndGone(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()

	api.responses["POST /channels/chan1/invites"] = `{"code":"gone1","uses":0}`
	if _, err := c.CreateInvite(ctx, "chan1"); err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	// A consumed single-use invite vanishes from the listing.
	api.responses["GET /channels/chan1/invites"] = `[{"code":"other","uses":5}]`
	link, err := c.ResolveJoinInvite(ctx, "chan1")
	if err != nil {
		t.Fatalf("ResolveJoinInvite: %v", err)
	}
	if link != "https://discord.gg/gone1" {
		t.Fatalf("resolved %q, want the vanished invite", link)
	}
}

func TestResolveJoinInviteUnknown(t *testing.T) {
	c, api := newTestClient(t)
	api.responses["GET /channels/chan1/invites"] = `[{"code":"other","uses":5}]`

	link, err := c.ResolveJoinInvite(context.Background(), "chan1")
	if err != nil {
		t.Fatalf("ResolveJoinInvite: %v", err)
	}
	if link != "" {
		t.Fatalf("untracked join resolved to %q", link)
	}
}

func TestSendToUsesCachedDM(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()

	api.responses["POST /users/@me/channels"] = `{"id":"dm1"}`

	if err := c.SendTo(ctx, "chan1", "user1", "hi"); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if err := c.SendTo(ctx, "chan1", "user1", "again"); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	var dmCreates, dmSends int
	for _, call := range api.calls {
		switch call.path {
		case "/users/@me/channels":
			dmCreates++
		case "/channels/dm1/messages":
			dmSends++
		}
	}
	if dmCreates != 1 || dmSends != 2 {
		t.Fatalf("dm creates = %d, sends = %d; channel must be cached", dmCreates, dmSends)
	}
}

func TestIsAdminByRole(t *testing.T) {
	c, api := newTestClient(t, WithAdminRoles([]string{"mod"}))
	ctx := context.Background()

	api.responses["GET /guilds/guild1/members/user1"] = `{"roles":["member","mod"]}`
	ok, err := c.IsAdmin(ctx, "chan1", "user1")
	if err != nil || !ok {
		t.Fatalf("IsAdmin = (%v, %v), want admin", ok, err)
	}

	api.responses["GET /guilds/guild1/members/user2"] = `{"roles":["member"]}`
	ok, err = c.IsAdmin(ctx, "chan1", "user2")
	if err != nil || ok {
		t.Fatalf("IsAdmin = (%v, %v), want non-admin", ok, err)
	}
}

func TestIsAdminNoRolesConfigured(t *testing.T) {
	c, _ := newTestClient(t)
	ok, err := c.IsAdmin(context.Background(), "chan1", "user1")
	if err != nil || ok {
		t.Fatalf("IsAdmin without configured roles = (%v, %v)", ok, err)
	}
}
