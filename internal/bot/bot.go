package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/braydio/Override-RSA/internal/market"
	"github.com/braydio/Override-RSA/internal/service/dispatcher"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

const (
	discordAPIURL     = "https://discord.com/api/v10"
	discordGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

	// Discord rejects messages over 2000 characters.
	maxMessageLength = 2000
)

var ErrNoCode = errors.New("no one-time code received")

// Bot is a minimal Discord client: a gateway connection for receiving
// commands and the REST API for posting replies. It doubles as the
// notifier and one-time-code provider for broker logins triggered from
// chat.
type Bot struct {
	token     string
	channelID string
	prefix    string

	apiURL     string
	gatewayURL string
	httpClient *http.Client

	clock    *market.Clock
	dispatch *dispatcher.Dispatcher

	// commands queue up behind a single worker so requests run one at
	// a time while the gateway read loop stays free for !otp codes.
	commands chan []string
	otpCodes chan string
}

type Config struct {
	Token     string
	ChannelID string
	Prefix    string
}

func New(cfg Config, clock *market.Clock) *Bot {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "!"
	}

	return &Bot{
		token:      cfg.Token,
		channelID:  cfg.ChannelID,
		prefix:     prefix,
		apiURL:     discordAPIURL,
		gatewayURL: discordGatewayURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		clock:      clock,
		commands:   make(chan []string, 16),
		otpCodes:   make(chan string, 4),
	}
}

// SetDispatcher wires the order dispatcher in after construction. The
// dispatcher's notifier usually includes this bot, so the two are built
// in sequence.
func (b *Bot) SetDispatcher(d *dispatcher.Dispatcher) {
	b.dispatch = d
}

// Run connects to the gateway and serves commands until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	go b.commandWorker(ctx)
	return b.runGateway(ctx)
}

// Notify posts a status line to the configured channel.
func (b *Bot) Notify(ctx context.Context, message string) {
	if err := b.sendMessage(ctx, message); err != nil {
		logrus.Errorf("discord notify failed: %v", err)
	}
}

// Record is satisfied by the journal and event notifiers; the bot only
// relays human-readable lines.
func (b *Bot) Record(ctx context.Context, outcome entity.OrderOutcome) {}

// WaitForCode blocks until someone posts `!otp <code>` in the channel,
// the timeout elapses, or ctx is canceled.
func (b *Bot) WaitForCode(ctx context.Context, identityName string, timeout time.Duration) (string, error) {
	b.Notify(ctx, fmt.Sprintf("%s requires a one-time code. Reply with %sotp <code> within %s.", identityName, b.prefix, timeout))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case code := <-b.otpCodes:
		return code, nil
	case <-timer.C:
		return "", fmt.Errorf("%w for %s within %s", ErrNoCode, identityName, timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *Bot) handleMessage(ctx context.Context, channelID, authorID, content string, authorIsBot bool) {
	if authorIsBot || channelID != b.channelID || !strings.HasPrefix(content, b.prefix) {
		return
	}

	fields := strings.Fields(strings.TrimPrefix(content, b.prefix))
	if len(fields) == 0 {
		return
	}

	command := strings.ToLower(fields[0])
	args := fields[1:]

	logrus.WithFields(logrus.Fields{
		"command": command,
		"author":  authorID,
	}).Info("discord command received")

	switch command {
	case "ping":
		b.Notify(ctx, "pong")
	case "market":
		b.Notify(ctx, b.clock.Status())
	case "otp":
		if len(args) == 0 {
			b.Notify(ctx, fmt.Sprintf("Usage: %sotp <code>", b.prefix))
			return
		}
		select {
		case b.otpCodes <- args[0]:
		default:
			b.Notify(ctx, "No login is waiting for a code.")
		}
	case "restart":
		b.Notify(ctx, "Restarting...")
		b.restart()
	case "rsa", "holdings":
		select {
		case b.commands <- fields:
		default:
			b.Notify(ctx, "Too many queued commands, try again shortly.")
		}
	default:
		b.Notify(ctx, fmt.Sprintf("Unknown command %s%s", b.prefix, command))
	}
}

func (b *Bot) commandWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fields := <-b.commands:
			b.runCommand(ctx, fields)
		}
	}
}

func (b *Bot) runCommand(ctx context.Context, fields []string) {
	command := strings.ToLower(fields[0])
	args := fields[1:]

	switch command {
	case "rsa":
		order, targets, err := dispatcher.ParseOrder(args)
		if err != nil {
			b.Notify(ctx, fmt.Sprintf("Error: %v", err))
			b.Notify(ctx, fmt.Sprintf("Usage: %srsa <buy|sell> <amount|all> <symbols> <brokers> [dry]", b.prefix))
			return
		}
		if err := b.dispatch.Order(ctx, order, targets); err != nil && !errors.Is(err, dispatcher.ErrMarketClosed) {
			b.Notify(ctx, fmt.Sprintf("Error: %v", err))
		}
	case "holdings":
		if len(args) == 0 {
			b.Notify(ctx, fmt.Sprintf("Usage: %sholdings <brokers>", b.prefix))
			return
		}
		targets, err := dispatcher.ResolveBrokers(args[0])
		if err != nil {
			b.Notify(ctx, fmt.Sprintf("Error: %v", err))
			return
		}
		if err := b.dispatch.Holdings(ctx, targets); err != nil {
			b.Notify(ctx, fmt.Sprintf("Error: %v", err))
		}
	}
}

// restart re-execs the current binary in place, the same trick the old
// process managers use, so the supervisor keeps the same pid tree.
func (b *Bot) restart() {
	executable, err := os.Executable()
	if err != nil {
		logrus.Errorf("restart failed: %v", err)
		return
	}
	if err := syscall.Exec(executable, os.Args, os.Environ()); err != nil {
		logrus.Errorf("restart failed: %v", err)
	}
}

func (b *Bot) sendMessage(ctx context.Context, content string) error {
	for _, chunk := range splitMessage(content, maxMessageLength) {
		payload, err := json.Marshal(map[string]string{"content": chunk})
		if err != nil {
			return err
		}

		endpoint := fmt.Sprintf("%s/channels/%s/messages", b.apiURL, b.channelID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bot "+b.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return err
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("discord send failed: status=%d body=%s", resp.StatusCode, string(body))
		}
	}

	return nil
}

func splitMessage(content string, limit int) []string {
	if content == "" {
		return nil
	}

	var chunks []string
	for len(content) > limit {
		cut := strings.LastIndexByte(content[:limit], '\n')
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, content[:cut])
		content = strings.TrimPrefix(content[cut:], "\n")
	}
	if content != "" {
		chunks = append(chunks, content)
	}

	return chunks
}
