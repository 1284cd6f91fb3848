// Copyright 2024-2026 Aiku AI

package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-modmail/pkg/relay"
)

// maxErrorBody bounds how much of a failed webhook response is kept for the
// error message.
const maxErrorBody = 512

// webhookBroadcaster posts into a channel through an incoming webhook,
// overriding the username and icon on every post. The server must allow
// integrations to override both.
type webhookBroadcaster struct {
	hookURL string
	client  *http.Client
}

var _ relay.Broadcaster = (*webhookBroadcaster)(nil)

// NewWebhookBroadcaster returns a Broadcaster posting to the incoming
// webhook at hookURL.
func NewWebhookBroadcaster(hookURL string, client *http.Client) relay.Broadcaster {
	if client == nil {
		client = http.DefaultClient
	}
	return &webhookBroadcaster{hookURL: hookURL, client: client}
}

func (b *webhookBroadcaster) Broadcast(ctx context.Context, as relay.Identity, text string) error {
	payload, err := json.Marshal(&model.IncomingWebhookRequest{
		Text:     text,
		Username: as.Name,
		IconURL:  as.AvatarURL,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.hookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("webhook returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
