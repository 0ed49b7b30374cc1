// Package push abstracts the per-device delivery channel.
//
// The delivery loop invokes Send once per device token and treats the
// channel as opaque: a token is routed to a concrete channel by prefix.
// Tokens starting with "tg:" deliver through the Telegram channel; every
// other token goes to the HTTP push gateway.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// TelegramTokenPrefix marks device tokens delivered via Telegram. The rest
// of the token is the numeric chat id.
const TelegramTokenPrefix = "tg:"

// Message is the payload handed to a channel for one device.
type Message struct {
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Sender delivers a message to a single device token. A failure must come
// back as an error, never as a panic; the delivery loop logs it and moves
// on to the next device.
type Sender interface {
	Send(ctx context.Context, token string, msg Message) error
}

// Router routes tokens to the configured channels. Channels are optional;
// a token whose channel is not configured fails with a plain error.
type Router struct {
	gateway  Sender
	telegram Sender
}

func NewRouter(gateway, telegram Sender) *Router {
	return &Router{gateway: gateway, telegram: telegram}
}

func (r *Router) Send(ctx context.Context, token string, msg Message) error {
	if strings.HasPrefix(token, TelegramTokenPrefix) {
		if r.telegram == nil {
			return errors.New("telegram channel not configured")
		}
		return r.telegram.Send(ctx, strings.TrimPrefix(token, TelegramTokenPrefix), msg)
	}
	if r.gateway == nil {
		return fmt.Errorf("no push channel for token %q", truncToken(token))
	}
	return r.gateway.Send(ctx, token, msg)
}

// truncToken shortens tokens for log/error output so full credentials never
// end up in logs.
func truncToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
