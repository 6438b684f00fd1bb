// Package telegram delivers surge alerts through the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/surgewatch/internal/logger"
	"github.com/rewired-gh/surgewatch/internal/models"
)

// Options configures a Client.
type Options struct {
	BotToken       string
	ChatID         string
	MaxRetries     int
	RetryDelayBase time.Duration
	ProxyHost      string // empty disables the proxy
	ProxyPort      int
	Timeout        time.Duration
	APIEndpoint    string // defaults to tgbotapi.APIEndpoint
}

// StatusFunc renders the reply to the /status command.
type StatusFunc func() string

// Client handles Telegram notifications.
type Client struct {
	api            *tgbotapi.BotAPI
	bot            sender
	chatID         int64
	token          string
	maxRetries     int
	retryDelayBase time.Duration
	status         StatusFunc
}

// sender is the subset of the bot API used for outgoing messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// DeliveryError describes a failed alert delivery. It never carries the
// bot token, only whether one is configured.
type DeliveryError struct {
	Symbol   string
	Message  string
	TokenSet bool
	ChatID   int64
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to send alert for %s (token set: %t, chat id: %d): %v; message: %q",
		e.Symbol, e.TokenSet, e.ChatID, e.Err, e.Message)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// redactedError replaces the bot token in an error's text. Transport errors
// from the bot API embed the request URL, which contains the token.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string {
	return e.msg
}

func (e *redactedError) Unwrap() error {
	return e.err
}

func redact(err error, token string) error {
	if err == nil || token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<redacted>"), err: err}
}

// ProxyURL returns the outbound proxy URL for host and port.
func ProxyURL(host string, port int) (*url.URL, error) {
	if host == "" {
		return nil, nil
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid proxy port %d", port)
	}
	return url.Parse("http://" + net.JoinHostPort(host, strconv.Itoa(port)))
}

func newHTTPClient(opts Options) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	proxy, err := ProxyURL(opts.ProxyHost, opts.ProxyPort)
	if err != nil {
		return nil, err
	}
	if proxy != nil {
		transport.Proxy = http.ProxyURL(proxy)
		logger.Info("Telegram using proxy %s", proxy.Host)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// NewClient creates a new Telegram client.
func NewClient(opts Options) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(opts.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	httpClient, err := newHTTPClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to configure proxy: %w", err)
	}

	endpoint := opts.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(opts.BotToken, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", redact(err, opts.BotToken))
	}

	c := newClient(bot, chatIDInt, opts)
	c.api = bot
	return c, nil
}

func newClient(bot sender, chatID int64, opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelayBase <= 0 {
		opts.RetryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		chatID:         chatID,
		token:          opts.BotToken,
		maxRetries:     opts.MaxRetries,
		retryDelayBase: opts.RetryDelayBase,
	}
}

// SetStatusFunc sets the renderer used to answer /status.
func (c *Client) SetStatusFunc(fn StatusFunc) {
	c.status = fn
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	if c.api == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	var text string
	if msg.Chat == nil || msg.Chat.ID != c.chatID {
		logger.Debug("Ignoring /%s from chat outside the configured one", msg.Command())
		return
	}
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "status":
		if c.status == nil {
			return
		}
		text = c.status()
	default:
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	if _, err := c.bot.Send(reply); err != nil {
		logger.Warn("Failed to reply to /%s: %v", msg.Command(), redact(err, c.token))
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = redact(err, c.token)
		}
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendAlert delivers one surge alert. Alerts are sent once; a failure is
// returned as a *DeliveryError.
func (c *Client) SendAlert(ctx context.Context, alert models.Alert) error {
	text := FormatAlert(alert.Text())
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	if err := ctx.Err(); err != nil {
		return c.deliveryError(alert.Symbol, text, err)
	}
	if _, err := c.bot.Send(msg); err != nil {
		return c.deliveryError(alert.Symbol, text, err)
	}
	logger.Info("Sent Telegram alert for %s", alert.Symbol)
	return nil
}

func (c *Client) deliveryError(symbol, text string, err error) *DeliveryError {
	return &DeliveryError{
		Symbol:   symbol,
		Message:  text,
		TokenSet: c.token != "",
		ChatID:   c.chatID,
		Err:      redact(err, c.token),
	}
}

// SendTest sends a connectivity check message.
func (c *Client) SendTest(now time.Time) error {
	text := fmt.Sprintf("🤖 *Test message*\nTime: %s\nIf you can read this, the bot is configured correctly\\!",
		escapeMarkdownV2(now.Format("2006-01-02 15:04:05")))
	return c.sendMarkdownV2(text)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// FormatAlert formats an alert into a Telegram MarkdownV2 message.
func FormatAlert(t models.AlertText) string {
	var b strings.Builder
	b.WriteString("🚨 *Volume Surge Alert*\n\n")
	fmt.Fprintf(&b, "Symbol: *%s*\n", escapeMarkdownV2(t.Symbol))
	fmt.Fprintf(&b, "Price: %s\n", escapeMarkdownV2(t.Price))
	fmt.Fprintf(&b, "Price change: %s\n", escapeMarkdownV2(t.PriceChange+"%"))
	fmt.Fprintf(&b, "Volume change: %s\n", escapeMarkdownV2(t.VolumeRatio+"x"))
	fmt.Fprintf(&b, "Quote volume: %s", escapeMarkdownV2(t.QuoteVolume+" USDT"))
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
