// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/olegiv/onboardbot/internal/richtext"
	"github.com/olegiv/onboardbot/internal/screen"
)

const defaultAPIURL = "https://api.telegram.org"

// callbackDataLimit is the Bot API cap on callback_data bytes.
const callbackDataLimit = 64

// Telegram sends messages through the Bot API. A process-wide rate limiter
// keeps the sender under the global 30 messages per second cap, which matters
// mostly during broadcasts.
type Telegram struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// TelegramOptions configures a Telegram sender.
type TelegramOptions struct {
	// APIURL overrides the Bot API server, mainly for tests.
	APIURL string
	// MessagesPerSecond caps the send rate. Zero means 25.
	MessagesPerSecond float64
}

// NewTelegram creates a sender for the given bot token.
func NewTelegram(token string, logger *slog.Logger, opts TelegramOptions) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	perSecond := opts.MessagesPerSecond
	if perSecond <= 0 {
		perSecond = 25
	}
	return &Telegram{
		token:   token,
		baseURL: strings.TrimRight(apiURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(perSecond)),
		logger:  logger,
	}
}

// inlineButton is one button of an inline keyboard.
type inlineButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

// Send delivers a payload as a photo, video, or text message with an inline
// keyboard, followed by a document message when the payload carries an
// attachment.
func (t *Telegram) Send(ctx context.Context, chatID int64, payload richtext.Payload, choices []screen.Choice) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	markup := inlineKeyboard(choices)

	var method string
	body := map[string]any{"chat_id": chatID, "parse_mode": "HTML"}
	switch {
	case payload.VideoURL != "":
		method = "sendVideo"
		body["video"] = payload.VideoURL
		if payload.Text != "" {
			body["caption"] = payload.Text
		}
	case payload.ImageURL != "":
		method = "sendPhoto"
		body["photo"] = payload.ImageURL
		if payload.Text != "" {
			body["caption"] = payload.Text
		}
	default:
		method = "sendMessage"
		body["text"] = payload.Text
		body["disable_web_page_preview"] = true
	}
	if markup != nil {
		body["reply_markup"] = markup
	}

	if err := t.call(ctx, method, body); err != nil {
		return err
	}

	if payload.AttachmentURL != "" {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		err := t.call(ctx, "sendDocument", map[string]any{
			"chat_id":  chatID,
			"document": payload.AttachmentURL,
		})
		if err != nil {
			// The screen itself went through, so only note the attachment.
			t.logger.Warn("sending attachment failed", "chat_id", chatID, "error", err)
		}
	}
	return nil
}

// RequestContact sends a reply keyboard with a single contact-sharing button.
func (t *Telegram) RequestContact(ctx context.Context, chatID int64, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
		"reply_markup": map[string]any{
			"keyboard": [][]map[string]any{{
				{"text": "📱 Поделиться номером", "request_contact": true},
			}},
			"resize_keyboard":   true,
			"one_time_keyboard": true,
		},
	})
}

// AckCallback answers a callback query with no visible result.
func (t *Telegram) AckCallback(ctx context.Context, callbackID string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.call(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
	})
}

// SetWebhook registers the public webhook URL with the Bot API.
func (t *Telegram) SetWebhook(ctx context.Context, url string) error {
	return t.call(ctx, "setWebhook", map[string]any{"url": url})
}

func inlineKeyboard(choices []screen.Choice) map[string]any {
	if len(choices) == 0 {
		return nil
	}
	rows := make([][]inlineButton, 0, len(choices))
	for _, c := range choices {
		btn := inlineButton{Text: c.Label}
		if c.Kind == screen.ChoiceLink {
			btn.URL = c.Target
		} else {
			btn.CallbackData = truncateCallbackData(c.Target)
		}
		rows = append(rows, []inlineButton{btn})
	}
	return map[string]any{"inline_keyboard": rows}
}

// truncateCallbackData cuts oversized callback data at a rune boundary.
// Cutting mid-rune would grow the payload instead: json.Marshal replaces
// the dangling bytes with U+FFFD, which is three bytes on the wire.
func truncateCallbackData(data string) string {
	if len(data) <= callbackDataLimit {
		return data
	}
	data = data[:callbackDataLimit]
	for len(data) > 0 {
		if r, size := utf8.DecodeLastRuneInString(data); r != utf8.RuneError || size > 1 {
			break
		}
		data = data[:len(data)-1]
	}
	return data
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

func (t *Telegram) call(ctx context.Context, method string, body map[string]any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !result.OK {
		return fmt.Errorf("%s failed: %d %s", method, result.ErrorCode, result.Description)
	}
	return nil
}
