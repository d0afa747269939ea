package bot

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/braydio/Override-RSA/internal/market"
)

type sentMessages struct {
	mu       sync.Mutex
	messages []string
}

func (s *sentMessages) append(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

func (s *sentMessages) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	copy(out, s.messages)
	return out
}

func newTestBot(t *testing.T) (*Bot, *sentMessages) {
	t.Helper()

	sent := &sentMessages{}
	mux := http.NewServeMux()
	mux.HandleFunc("/channels/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Content string `json:"content"`
		}
		_ = json.Unmarshal(body, &payload)
		sent.append(payload.Content)
		w.Write([]byte(`{"id":"1"}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	b := New(Config{Token: "token", ChannelID: "chan1", Prefix: "!"}, market.NewClock())
	b.apiURL = server.URL
	return b, sent
}

func TestHandleMessageIgnoresOtherChannels(t *testing.T) {
	b, sent := newTestBot(t)

	b.handleMessage(context.Background(), "other-channel", "user1", "!ping", false)
	b.handleMessage(context.Background(), "chan1", "user1", "no prefix", false)
	b.handleMessage(context.Background(), "chan1", "bot2", "!ping", true)

	if got := sent.all(); len(got) != 0 {
		t.Errorf("sent = %v, want nothing", got)
	}
}

func TestHandleMessagePing(t *testing.T) {
	b, sent := newTestBot(t)

	b.handleMessage(context.Background(), "chan1", "user1", "!ping", false)

	if got := sent.all(); len(got) != 1 || got[0] != "pong" {
		t.Errorf("sent = %v, want [pong]", got)
	}
}

func TestHandleMessageMarket(t *testing.T) {
	b, sent := newTestBot(t)

	b.handleMessage(context.Background(), "chan1", "user1", "!market", false)

	if got := sent.all(); len(got) != 1 || !strings.HasPrefix(got[0], "Market is ") {
		t.Errorf("sent = %v, want market status", got)
	}
}

func TestOTPDelivery(t *testing.T) {
	b, _ := newTestBot(t)

	done := make(chan struct{})
	var code string
	var err error
	go func() {
		defer close(done)
		code, err = b.WaitForCode(context.Background(), "Fennel 1", 2*time.Second)
	}()

	// Give the waiter a moment to announce and block.
	time.Sleep(50 * time.Millisecond)
	b.handleMessage(context.Background(), "chan1", "user1", "!otp 123456", false)

	<-done
	if err != nil {
		t.Fatalf("WaitForCode: %v", err)
	}
	if code != "123456" {
		t.Errorf("code = %q, want 123456", code)
	}
}

func TestWaitForCodeTimeout(t *testing.T) {
	b, _ := newTestBot(t)

	_, err := b.WaitForCode(context.Background(), "Fennel 1", 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestSplitMessage(t *testing.T) {
	long := strings.Repeat("line one\n", 400) // ~3600 chars

	chunks := splitMessage(long, 2000)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want the message split", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 2000 {
			t.Errorf("chunk %d length = %d, want <= 2000", i, len(chunk))
		}
	}

	if got := splitMessage("short", 2000); len(got) != 1 || got[0] != "short" {
		t.Errorf("splitMessage(short) = %v", got)
	}
	if got := splitMessage("", 2000); got != nil {
		t.Errorf("splitMessage(empty) = %v, want nil", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	b, sent := newTestBot(t)

	b.handleMessage(context.Background(), "chan1", "user1", "!frobnicate", false)

	if got := sent.all(); len(got) != 1 || !strings.Contains(got[0], "Unknown command") {
		t.Errorf("sent = %v, want unknown-command reply", got)
	}
}
