// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-modmail/pkg/relay"
)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = time.Minute
)

// EventSink receives relay events decoded from the WebSocket. Dispatch must
// not block.
type EventSink interface {
	Dispatch(ctx context.Context, ev relay.Event)
}

// Run connects the WebSocket and feeds events to sink until ctx is done or
// Stop is called. Dropped connections are re-established with exponential
// backoff. Every successful (re)connect produces a hello event, which is
// forwarded as relay.ResyncCompleteEvent.
func (mc *MattermostConnector) Run(ctx context.Context, sink EventSink) error {
	delay := minReconnectDelay
	for {
		wsClient, err := mc.connectWebSocket()
		if err != nil {
			mc.log.Error().Err(err).Msg("WebSocket connection failed")
		} else if mc.listenWebSocket(ctx, wsClient, sink) {
			delay = minReconnectDelay
		}

		select {
		case <-ctx.Done():
			return nil
		case <-mc.stopChan:
			return nil
		case <-time.After(delay):
		}
		mc.log.Info().Dur("delay", delay).Msg("Reconnecting WebSocket")
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (mc *MattermostConnector) connectWebSocket() (*model.WebSocketClient, error) {
	wsURL := httpToWS(mc.serverURL)
	wsClient, err := model.NewWebSocketClient4(wsURL, mc.client.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket client: %w", err)
	}
	wsClient.Listen()
	mc.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return wsClient, nil
}

// listenWebSocket forwards events until the connection drops or the
// connector stops. It reports whether any event was received. The client
// is closed only on stop; a dropped connection has already torn itself down.
func (mc *MattermostConnector) listenWebSocket(ctx context.Context, wsClient *model.WebSocketClient, sink EventSink) bool {
	received := false
	for {
		select {
		case <-ctx.Done():
			wsClient.Close()
			return received
		case <-mc.stopChan:
			wsClient.Close()
			return received
		case event, ok := <-wsClient.EventChannel:
			if !ok {
				mc.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				return received
			}
			if event == nil {
				continue
			}
			received = true
			mc.handleEvent(ctx, sink, event)
		}
	}
}
