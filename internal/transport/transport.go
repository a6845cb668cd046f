// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport delivers prepared screens to the messenger. The Sender
// interface is what the engine talks to; Telegram is the production
// implementation behind it.
package transport

import (
	"context"

	"github.com/olegiv/onboardbot/internal/richtext"
	"github.com/olegiv/onboardbot/internal/screen"
)

// Sender posts messages to a chat. Implementations must be safe for
// concurrent use.
type Sender interface {
	// Send delivers a screen payload with its choices as an inline keyboard.
	Send(ctx context.Context, chatID int64, payload richtext.Payload, choices []screen.Choice) error

	// RequestContact asks the user to share their phone number through a
	// one-time reply keyboard.
	RequestContact(ctx context.Context, chatID int64, text string) error

	// AckCallback confirms a callback query so the client stops showing a
	// progress indicator.
	AckCallback(ctx context.Context, callbackID string) error
}
