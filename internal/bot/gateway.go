package bot

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Intents: GUILDS, GUILD_MESSAGES, DIRECT_MESSAGES, MESSAGE_CONTENT.
const gatewayIntents = 1<<0 | 1<<9 | 1<<12 | 1<<15

type gatewayEvent struct {
	Op       int             `json:"op"`
	Data     json.RawMessage `json:"d,omitempty"`
	Sequence *int64          `json:"s,omitempty"`
	Type     string          `json:"t,omitempty"`
}

// runGateway holds the gateway connection open, reconnecting with
// jittered backoff on failure.
func (b *Bot) runGateway(ctx context.Context) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		logrus.Infof("connecting to %s", b.gatewayURL)
		conn, _, err := websocket.DefaultDialer.Dial(b.gatewayURL, nil)
		if err != nil {
			wait := reconnectDelay(attempt, rng)
			attempt++
			logrus.WithFields(logrus.Fields{"retry_in": wait.String(), "attempt": attempt}).Warnf("discord gateway dial failed: %v", err)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		attempt = 0
		b.serveConnection(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return nil
		}

		wait := reconnectDelay(attempt, rng)
		attempt++
		logrus.WithFields(logrus.Fields{"retry_in": wait.String()}).Warn("reconnecting discord gateway")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *Bot) serveConnection(ctx context.Context, conn *websocket.Conn) {
	var lastSeq atomic.Int64

	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)

	ctxDone := make(chan struct{})
	defer close(ctxDone)

	go func(c *websocket.Conn) {
		select {
		case <-ctx.Done():
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.Close()
		case <-ctxDone:
		}
	}(conn)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logrus.Errorf("discord gateway read failed: %v", err)
			}
			return
		}

		var event gatewayEvent
		if err := json.Unmarshal(message, &event); err != nil {
			logrus.Errorf("discord gateway payload parse failed: %v", err)
			continue
		}
		if event.Sequence != nil {
			lastSeq.Store(*event.Sequence)
		}

		switch event.Op {
		case opHello:
			var hello struct {
				HeartbeatInterval int64 `json:"heartbeat_interval"`
			}
			if err := json.Unmarshal(event.Data, &hello); err != nil {
				logrus.Errorf("discord hello parse failed: %v", err)
				return
			}

			go b.heartbeatLoop(ctx, conn, time.Duration(hello.HeartbeatInterval)*time.Millisecond, &lastSeq, stopHeartbeat)

			if err := b.identify(conn); err != nil {
				logrus.Errorf("discord identify failed: %v", err)
				return
			}
		case opHeartbeat:
			if err := b.writeHeartbeat(conn, &lastSeq); err != nil {
				logrus.Errorf("discord heartbeat failed: %v", err)
				return
			}
		case opReconnect, opInvalidSession:
			logrus.Warn("discord gateway asked for a reconnect")
			return
		case opHeartbeatAck:
		case opDispatch:
			b.handleDispatch(ctx, event)
		}
	}
}

func (b *Bot) handleDispatch(ctx context.Context, event gatewayEvent) {
	switch event.Type {
	case "READY":
		logrus.Info("discord gateway ready")
	case "MESSAGE_CREATE":
		var message struct {
			ChannelID string `json:"channel_id"`
			Content   string `json:"content"`
			Author    struct {
				ID  string `json:"id"`
				Bot bool   `json:"bot"`
			} `json:"author"`
		}
		if err := json.Unmarshal(event.Data, &message); err != nil {
			logrus.Errorf("discord message parse failed: %v", err)
			return
		}

		b.handleMessage(ctx, message.ChannelID, message.Author.ID, message.Content, message.Author.Bot)
	}
}

func (b *Bot) identify(conn *websocket.Conn) error {
	payload := map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"token":   b.token,
			"intents": gatewayIntents,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "override-rsa",
				"device":  "override-rsa",
			},
		},
	}

	return conn.WriteJSON(payload)
}

func (b *Bot) heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, lastSeq *atomic.Int64, stop chan struct{}) {
	if interval <= 0 {
		interval = 41250 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.writeHeartbeat(conn, lastSeq); err != nil {
				logrus.Errorf("discord heartbeat failed: %v", err)
				return
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bot) writeHeartbeat(conn *websocket.Conn, lastSeq *atomic.Int64) error {
	var seq any
	if s := lastSeq.Load(); s > 0 {
		seq = s
	}

	return conn.WriteJSON(map[string]any{"op": opHeartbeat, "d": seq})
}

func reconnectDelay(attempt int, rng *rand.Rand) time.Duration {
	base := time.Duration(1<<min(attempt, 5)) * time.Second
	jitter := time.Duration(rng.Int63n(int64(time.Second)))
	return base + jitter
}
