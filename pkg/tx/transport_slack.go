package tx

import (
	"context"
	"fmt"

	goslack "github.com/slack-go/slack"
)

// SlackTransport delivers outbox messages whose payload carries a "text"
// (and optionally a "channel" override) field by posting them to Slack.
// It is the transport registered against the "notify.slack" topic.
type SlackTransport struct {
	client         *goslack.Client
	defaultChannel string
}

func NewSlackTransport(botToken, defaultChannel string) *SlackTransport {
	return &SlackTransport{client: goslack.New(botToken), defaultChannel: defaultChannel}
}

func (t *SlackTransport) Send(ctx context.Context, msg OutboxMessage) error {
	channel := t.defaultChannel
	if c, ok := msg.Payload["channel"].(string); ok && c != "" {
		channel = c
	}
	if channel == "" {
		return fmt.Errorf("slack transport: no channel for message %s", msg.ID)
	}

	text, _ := msg.Payload["text"].(string)
	if text == "" {
		return fmt.Errorf("slack transport: message %s has no text field", msg.ID)
	}

	_, _, err := t.client.PostMessageContext(ctx, channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	return nil
}
