package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/surgewatch/internal/models"
)

type fakeSender struct {
	sent  []tgbotapi.MessageConfig
	err   error
	fails int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, _ := c.(tgbotapi.MessageConfig)
	f.sent = append(f.sent, msg)
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if f.fails > 0 {
		f.fails--
		return tgbotapi.Message{}, errors.New("temporary failure")
	}
	return tgbotapi.Message{}, nil
}

func newTestClient(s *fakeSender) *Client {
	return newClient(s, 42, Options{BotToken: "123:secret-token", MaxRetries: 3, RetryDelayBase: time.Millisecond})
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	// chat ID parsing fails before any network call is made
	_, err := NewClient(Options{BotToken: "", ChatID: "not-a-number"})
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

func TestNewClient_InvalidProxyPort(t *testing.T) {
	_, err := NewClient(Options{ChatID: "42", ProxyHost: "127.0.0.1", ProxyPort: 0})
	if err == nil || !strings.Contains(err.Error(), "proxy") {
		t.Errorf("Expected proxy error, got %v", err)
	}
}

func TestProxyURL(t *testing.T) {
	u, err := ProxyURL("127.0.0.1", 7890)
	if err != nil {
		t.Fatalf("ProxyURL: %v", err)
	}
	if u.String() != "http://127.0.0.1:7890" {
		t.Errorf("proxy = %s, want http://127.0.0.1:7890", u)
	}

	u, err = ProxyURL("", 0)
	if err != nil || u != nil {
		t.Errorf("expected no proxy, got %v, %v", u, err)
	}
}

func TestFormatAlert(t *testing.T) {
	text := FormatAlert(models.Alert{
		Symbol:         "AAA_USDT",
		Price:          106,
		PriceChangePct: 6,
		VolumeRatio:    2.5,
		QuoteVolume:    150000,
	}.Text())

	for _, want := range []string{
		"*Volume Surge Alert*",
		"Symbol: *AAA\\_USDT*",
		"Price: 106\\.0000",
		"Price change: 6\\.00%",
		"Volume change: 2\\.50x",
		"Quote volume: 150000\\.00 USDT",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
}

func TestSendAlert(t *testing.T) {
	s := &fakeSender{}
	c := newTestClient(s)

	err := c.SendAlert(context.Background(), models.Alert{Symbol: "AAAUSDT", Price: 1, PriceChangePct: 5, VolumeRatio: 2, QuoteVolume: 1})
	if err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
	if len(s.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(s.sent))
	}
	if s.sent[0].ChatID != 42 || s.sent[0].ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("unexpected message config: %+v", s.sent[0])
	}
}

func TestSendAlert_FailureIsNotRetriedAndHidesToken(t *testing.T) {
	s := &fakeSender{err: errors.New("Bad Request: chat not found")}
	c := newTestClient(s)

	err := c.SendAlert(context.Background(), models.Alert{Symbol: "AAAUSDT", Price: 1})
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if len(s.sent) != 1 {
		t.Errorf("alerts must be sent once, got %d attempts", len(s.sent))
	}

	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DeliveryError, got %T", err)
	}
	if de.Symbol != "AAAUSDT" || !de.TokenSet || de.ChatID != 42 {
		t.Errorf("unexpected delivery error fields: %+v", de)
	}
	if !strings.Contains(de.Message, "AAAUSDT") {
		t.Errorf("message body missing from error: %q", de.Message)
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Errorf("error leaks bot token: %s", err)
	}
}

func TestSendError_RetriesWithBackoff(t *testing.T) {
	s := &fakeSender{fails: 2}
	c := newTestClient(s)

	if err := c.SendError(errors.New("failed to fetch snapshots")); err != nil {
		t.Fatalf("SendError: %v", err)
	}
	if len(s.sent) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(s.sent))
	}
}

func TestSendRecovery_GivesUp(t *testing.T) {
	s := &fakeSender{err: errors.New("down")}
	c := newTestClient(s)

	if err := c.SendRecovery(3); err == nil {
		t.Error("expected error after exhausting retries")
	}
	if len(s.sent) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(s.sent))
	}
}

func TestHandleCommand(t *testing.T) {
	s := &fakeSender{}
	c := newTestClient(s)
	c.SetStatusFunc(func() string { return "tracking 12 symbols" })

	command := func(text string) *tgbotapi.Message {
		return &tgbotapi.Message{
			Text:     text,
			Chat:     &tgbotapi.Chat{ID: 42},
			Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(strings.Fields(text)[0])}},
		}
	}

	c.handleCommand(command("/ping"))
	c.handleCommand(command("/status"))
	c.handleCommand(command("/unknown"))

	if len(s.sent) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(s.sent))
	}
	if s.sent[0].Text != "Pong" || s.sent[1].Text != "tracking 12 symbols" {
		t.Errorf("unexpected replies: %q, %q", s.sent[0].Text, s.sent[1].Text)
	}
	if s.sent[1].ChatID != 42 {
		t.Errorf("reply sent to chat %d, want 42", s.sent[1].ChatID)
	}
}

func TestHandleCommand_IgnoresOtherChats(t *testing.T) {
	s := &fakeSender{}
	c := newTestClient(s)
	c.SetStatusFunc(func() string { return "tracking 12 symbols" })

	for _, text := range []string{"/ping", "/status"} {
		c.handleCommand(&tgbotapi.Message{
			Text:     text,
			Chat:     &tgbotapi.Chat{ID: 7},
			Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
		})
	}

	if len(s.sent) != 0 {
		t.Errorf("expected no replies to a foreign chat, got %d", len(s.sent))
	}
}

const liveToken = "123456:SUPERSECRETTOKEN"

// deadEndpoint returns a bot API endpoint whose server has already stopped.
func deadEndpoint(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	return srv.URL + "/bot%s/%s"
}

func newUnreachableClient(t *testing.T) *Client {
	t.Helper()
	bot := &tgbotapi.BotAPI{Token: liveToken, Client: &http.Client{}}
	bot.SetAPIEndpoint(deadEndpoint(t))
	return newClient(bot, 42, Options{BotToken: liveToken, MaxRetries: 2, RetryDelayBase: time.Millisecond})
}

func TestSendAlert_TransportErrorHidesToken(t *testing.T) {
	c := newUnreachableClient(t)

	err := c.SendAlert(context.Background(), models.Alert{Symbol: "AAAUSDT", Price: 1})
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if strings.Contains(err.Error(), "SUPERSECRETTOKEN") {
		t.Errorf("error leaks bot token: %s", err)
	}
	if !strings.Contains(err.Error(), "<redacted>") {
		t.Errorf("expected redacted request URL in error: %s", err)
	}

	var de *DeliveryError
	if !errors.As(err, &de) || !de.TokenSet {
		t.Errorf("expected *DeliveryError with token set, got %#v", err)
	}
}

func TestSendError_TransportErrorHidesToken(t *testing.T) {
	c := newUnreachableClient(t)

	err := c.SendError(errors.New("failed to fetch snapshots"))
	if err == nil {
		t.Fatal("expected send failure")
	}
	if strings.Contains(err.Error(), "SUPERSECRETTOKEN") {
		t.Errorf("error leaks bot token: %s", err)
	}
}

func TestNewClient_UnreachableHidesToken(t *testing.T) {
	_, err := NewClient(Options{BotToken: liveToken, ChatID: "42", APIEndpoint: deadEndpoint(t), Timeout: time.Second})
	if err == nil {
		t.Fatal("expected error from unreachable bot API")
	}
	if strings.Contains(err.Error(), "SUPERSECRETTOKEN") {
		t.Errorf("error leaks bot token: %s", err)
	}
}
