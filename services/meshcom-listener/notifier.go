package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Notifier doručí vyrenderovaný text do chatu.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// TelegramNotifier posílá zprávy přes Telegram Bot API (sendMessage, MarkdownV2).
type TelegramNotifier struct {
	client  *http.Client
	apiURL  string
	token   string
	retry   RetryConfig
	logger  *slog.Logger
	metrics *Metrics
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// NewTelegramNotifier vytvoří klienta. Token se nikdy neloguje.
func NewTelegramNotifier(cfg TelegramConfig, retry RetryConfig, logger *slog.Logger, metrics *Metrics) *TelegramNotifier {
	return &TelegramNotifier{
		client:  &http.Client{Timeout: cfg.Timeout.Duration},
		apiURL:  strings.TrimRight(cfg.APIURL, "/"),
		token:   cfg.BotToken,
		retry:   retry,
		logger:  logger.With("component", "telegram"),
		metrics: metrics,
	}
}

// Notify doručí zprávu s omezeným počtem pokusů. Po vyčerpání se zpráva zahodí.
func (t *TelegramNotifier) Notify(ctx context.Context, n Notification) error {
	err := Retry(ctx, t.retry, func(attempt int) error {
		err := t.send(ctx, n)
		if err != nil && !IsNonRetryable(err) && attempt < t.retry.MaxAttempts {
			t.logger.Warn("Odeslání selhalo, zkusím znovu", "attempt", attempt, "type", n.RecordType, "error", err)
		}
		return err
	})
	t.metrics.NotifyResult(err)
	return err
}

// send je jeden pokus o doručení.
func (t *TelegramNotifier) send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                n.Destination,
		Text:                  n.Text,
		ParseMode:             "MarkdownV2",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return NonRetryable(err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return NonRetryable(redactURLError(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// url.Error obsahuje celou URL i s tokenem
		return redactURLError(err)
	}
	defer resp.Body.Close()

	var tr telegramResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	_ = json.Unmarshal(raw, &tr)

	switch {
	case resp.StatusCode == http.StatusOK && tr.OK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RetryAfterError{
			Err:   fmt.Errorf("telegram rate limit: %s", tr.Description),
			After: time.Duration(tr.Parameters.RetryAfter) * time.Second,
		}
	case resp.StatusCode >= 500:
		return fmt.Errorf("telegram server error %d: %s", resp.StatusCode, tr.Description)
	default:
		// 400 (špatný MarkdownV2), 401, 403 ... opakování nepomůže
		return NonRetryable(fmt.Errorf("telegram rejected message (%d): %s", resp.StatusCode, tr.Description))
	}
}

func redactURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s telegram api: %w", ue.Op, ue.Err)
	}
	return err
}
