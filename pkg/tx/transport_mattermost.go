package tx

import (
	"context"
	"fmt"

	"github.com/wisbric/agentcore/pkg/mattermost"
)

// MattermostTransport delivers outbox messages whose payload carries a
// "text" (and optionally a "channel_id" override) field by posting them
// to Mattermost. It is the transport registered against the
// "notify.mattermost" topic.
type MattermostTransport struct {
	client         *mattermost.Client
	defaultChannel string
}

func NewMattermostTransport(baseURL, botToken, defaultChannel string) *MattermostTransport {
	return &MattermostTransport{client: mattermost.NewClient(baseURL, botToken), defaultChannel: defaultChannel}
}

func (t *MattermostTransport) Send(ctx context.Context, msg OutboxMessage) error {
	if !t.client.IsEnabled() {
		return fmt.Errorf("mattermost transport: not configured")
	}

	channel := t.defaultChannel
	if c, ok := msg.Payload["channel_id"].(string); ok && c != "" {
		channel = c
	}
	if channel == "" {
		return fmt.Errorf("mattermost transport: no channel for message %s", msg.ID)
	}

	text, _ := msg.Payload["text"].(string)
	if text == "" {
		return fmt.Errorf("mattermost transport: message %s has no text field", msg.ID)
	}

	_, err := t.client.CreatePost(ctx, mattermost.Post{ChannelID: channel, Message: text})
	if err != nil {
		return fmt.Errorf("posting to mattermost: %w", err)
	}
	return nil
}
