// Package notify delivers availability alerts over Telegram and, best
// effort, to the local desktop.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/sjson"
)

const telegramAPI = "https://api.telegram.org"

// Telegram sends messages through the Bot API. Messages go out as Markdown
// first; when Telegram rejects the entities, the same text is resent plain.
type Telegram struct {
	token   string
	chatID  string
	client  *http.Client
	baseURL string
	logger  *slog.Logger
}

func NewTelegram(token, chatID string, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: telegramAPI,
		logger:  logger,
	}
}

// Configured reports whether both credentials are present.
func (t *Telegram) Configured() bool {
	return t.token != "" && t.chatID != ""
}

// Send delivers one message. It returns true on success; failures are
// logged, never fatal.
func (t *Telegram) Send(ctx context.Context, message string) bool {
	if !t.Configured() {
		t.logger.Warn("telegram credentials not configured, skipping notification")
		return false
	}

	payload, err := t.buildPayload(message, true)
	if err != nil {
		t.logger.Warn("telegram payload build failed", "error", err)
		return false
	}

	status, body, err := t.post(ctx, payload)
	if err != nil {
		t.logger.Warn("telegram send failed", "error", err)
		return false
	}
	if status == http.StatusOK {
		t.logger.Info("telegram message sent")
		return true
	}

	// Markdown entity errors mean the message text itself tripped the
	// parser. Resend without parse_mode.
	if status == http.StatusBadRequest && strings.Contains(body, "can't parse entities") {
		t.logger.Info("markdown parse failed, retrying as plain text")
		plain, err := sjson.Delete(payload, "parse_mode")
		if err != nil {
			return false
		}
		status, body, err = t.post(ctx, plain)
		if err != nil {
			t.logger.Warn("telegram send failed", "error", err)
			return false
		}
		if status == http.StatusOK {
			t.logger.Info("telegram message sent", "mode", "plain")
			return true
		}
	}

	t.logger.Warn("telegram API error", "status", status, "body", truncate(body, 200))
	return false
}

func (t *Telegram) buildPayload(message string, markdown bool) (string, error) {
	payload := "{}"
	for _, kv := range []struct {
		key string
		val any
	}{
		{"chat_id", t.chatID},
		{"text", message},
		{"disable_web_page_preview", false},
	} {
		var err error
		payload, err = sjson.Set(payload, kv.key, kv.val)
		if err != nil {
			return "", err
		}
	}
	if markdown {
		return sjson.Set(payload, "parse_mode", "Markdown")
	}
	return payload, nil
}

func (t *Telegram) post(ctx context.Context, payload string) (int, string, error) {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(payload)))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
