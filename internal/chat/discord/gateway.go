package discord

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"resogate/internal/chat"
)

const defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Gateway intents: guilds, guild members, guild messages, message
// content.
const gatewayIntents = 1<<0 | 1<<1 | 1<<9 | 1<<15

// Gateway opcodes this adapter speaks.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Gateway consumes the Discord event stream for one gated channel and
// feeds it to the handler.
type Gateway struct {
	log     *slog.Logger
	client  *Client
	handler chat.Handler
	gateID  string
	dialURL string

	lastSeq int64
}

// GatewayOption configures the gateway.
type GatewayOption func(*Gateway)

// WithGatewayURL overrides the dial target (tests).
func WithGatewayURL(u string) GatewayOption {
	return func(g *Gateway) { g.dialURL = u }
}

// NewGateway constructs a gateway bound to one channel.
func NewGateway(log *slog.Logger, client *Client, handler chat.Handler, gateID string, opts ...GatewayOption) (*Gateway, error) {
	if client == nil || handler == nil {
		return nil, errors.New("nil collaborator")
	}
	if gateID == "" {
		return nil, ErrNoGuild
	}
	g := &Gateway{
		log:     log,
		client:  client,
		handler: handler,
		gateID:  gateID,
		dialURL: defaultGatewayURL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// payload is the gateway envelope.
type payload struct {
	Op int             `json:"op"`
	T  string          `json:"t,omitempty"`
	S  int64           `json:"s,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

// Run connects and reconsumes the event stream until ctx is cancelled.
// Every disconnect reconnects with backoff; a session invalidation
// re-identifies from scratch.
func (g *Gateway) Run(ctx context.Context) {
	g.log.Info("discord.start", "gate_id", g.gateID)
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			g.log.Info("discord.stop")
			return
		default:
		}

		err := g.session(ctx)
		if ctx.Err() != nil {
			g.log.Info("discord.stop")
			return
		}
		g.log.Warn("discord.session_end", "err", err, "backoff", backoff)

		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// session runs one gateway connection: hello, identify, then the read
// loop with heartbeats until something breaks.
func (g *Gateway) session(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, g.dialURL, nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	hello, err := g.read(ctx, conn)
	if err != nil {
		return err
	}
	if hello.Op != opHello {
		return ErrGateway
	}
	var helloData struct {
		HeartbeatInterval int64 `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.D, &helloData); err != nil {
		return err
	}

	if err := g.write(ctx, conn, payload{Op: opIdentify, D: mustRaw(map[string]any{
		"token":   g.client.token,
		"intents": gatewayIntents,
		"properties": map[string]string{
			"os":      "linux",
			"browser": "resogate",
			"device":  "resogate",
		},
	})}); err != nil {
		return err
	}

	heartbeat := time.NewTicker(time.Duration(helloData.HeartbeatInterval) * time.Millisecond)
	defer heartbeat.Stop()

	type readResult struct {
		p   payload
		err error
	}
	reads := make(chan readResult)
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		for {
			p, err := g.read(readCtx, conn)
			select {
			case reads <- readResult{p, err}:
			case <-readCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat.C:
			if err := g.write(ctx, conn, payload{Op: opHeartbeat, D: mustRaw(g.lastSeq)}); err != nil {
				return err
			}
		case r := <-reads:
			if r.err != nil {
				return r.err
			}
			if r.p.S != 0 {
				g.lastSeq = r.p.S
			}
			switch r.p.Op {
			case opDispatch:
				g.handleEvent(ctx, r.p.T, r.p.D)
			case opHeartbeat:
				if err := g.write(ctx, conn, payload{Op: opHeartbeat, D: mustRaw(g.lastSeq)}); err != nil {
					return err
				}
			case opReconnect, opInvalidSession:
				return ErrReidentify
			case opHeartbeatAck:
			}
		}
	}
}

// handleEvent translates one dispatch into handler calls.
func (g *Gateway) handleEvent(ctx context.Context, event string, data json.RawMessage) {
	switch event {
	case "MESSAGE_CREATE":
		var msg struct {
			ChannelID string `json:"channel_id"`
			Content   string `json:"content"`
			Author    struct {
				ID  string `json:"id"`
				Bot bool   `json:"bot"`
			} `json:"author"`
			Ref *struct {
				MessageID string `json:"message_id"`
			} `json:"message_reference"`
		}
		if err := json.Unmarshal(data, &msg); err != nil || msg.ChannelID != g.gateID || msg.Author.Bot {
			return
		}
		var replyTo string
		if msg.Ref != nil {
			replyTo = msg.Ref.MessageID
		}
		g.handler.OnMessage(ctx, g.gateID, msg.Author.ID, msg.Content, replyTo)

	case "GUILD_MEMBER_ADD":
		var add struct {
			User struct {
				ID  string `json:"id"`
				Bot bool   `json:"bot"`
			} `json:"user"`
		}
		if err := json.Unmarshal(data, &add); err != nil || add.User.Bot {
			return
		}
		link, err := g.client.ResolveJoinInvite(ctx, g.gateID)
		if err != nil {
			g.log.Warn("discord.invite_resolve_fail", "err", err)
		}
		if err := g.handler.OnJoin(ctx, g.gateID, add.User.ID, link); err != nil {
			g.log.Warn("discord.join_denied", "subject_id", add.User.ID, "err", err)
		}

	case "GUILD_MEMBER_REMOVE":
		var rm struct {
			User struct {
				ID string `json:"id"`
			} `json:"user"`
		}
		if err := json.Unmarshal(data, &rm); err != nil {
			return
		}
		g.handler.OnLeave(ctx, g.gateID, rm.User.ID)
	}
}

func (g *Gateway) read(ctx context.Context, conn *websocket.Conn) (payload, error) {
	_, b, err := conn.Read(ctx)
	if err != nil {
		return payload{}, err
	}
	var p payload
	if err := json.Unmarshal(b, &p); err != nil {
		return payload{}, err
	}
	return p, nil
}

func (g *Gateway) write(ctx context.Context, conn *websocket.Conn, p payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
