// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-modmail/pkg/relay"
)

// handleEvent translates a Mattermost WebSocket event into a relay event.
func (mc *MattermostConnector) handleEvent(ctx context.Context, sink EventSink, evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventHello:
		mc.log.Debug().Msg("Received hello, requesting resync")
		sink.Dispatch(ctx, relay.ResyncCompleteEvent{})
	case model.WebsocketEventPosted:
		mc.handlePosted(ctx, sink, evt)
	case model.WebsocketEventReactionAdded:
		mc.handleReactionAdded(ctx, sink, evt)
	default:
		mc.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

// parsePostedEvent extracts and validates a post from a WebSocket event,
// applying all echo prevention layers. Returns (nil, nil) to skip silently,
// (nil, err) to log an error, or (post, nil) to proceed.
func (mc *MattermostConnector) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, fmt.Errorf("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Echo prevention: skip own posts. Webhook posts carry the ID of the
	// webhook's creator, which is the bot.
	if post.UserId == mc.userID {
		return nil, nil
	}

	// Echo prevention: skip non-default post types (system messages).
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}

	// Echo prevention: skip webhook posts from other integrations.
	if fromWebhook, _ := post.GetProp(model.PostPropsFromWebhook).(string); fromWebhook == "true" {
		mc.log.Debug().Str("post_id", post.Id).Msg("Skipping webhook post (echo prevention)")
		return nil, nil
	}

	// Echo prevention: skip posts from usernames matching the bot prefix.
	username := senderName(evt)
	if isRelayUsername(username, mc.Config.Modmail.BotPrefix) {
		mc.log.Debug().
			Str("post_id", post.Id).
			Str("username", username).
			Msg("Skipping bot username post (echo prevention)")
		return nil, nil
	}

	return &post, nil
}

// parseReactionEvent extracts and validates a reaction from a WebSocket event.
// Returns (nil, nil) to skip, (nil, err) for errors, or (reaction, nil) to proceed.
func (mc *MattermostConnector) parseReactionEvent(evt *model.WebSocketEvent) (*model.Reaction, error) {
	reactionJSON, ok := evt.GetData()["reaction"].(string)
	if !ok {
		return nil, nil
	}

	var reaction model.Reaction
	if err := json.Unmarshal([]byte(reactionJSON), &reaction); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reaction: %w", err)
	}

	// Echo prevention: skip own reactions.
	if reaction.UserId == mc.userID {
		return nil, nil
	}

	username := senderName(evt)
	if isRelayUsername(username, mc.Config.Modmail.BotPrefix) {
		mc.log.Debug().
			Str("post_id", reaction.PostId).
			Str("username", username).
			Str("emoji", reaction.EmojiName).
			Msg("Skipping bot username reaction (echo prevention)")
		return nil, nil
	}

	return &reaction, nil
}

func (mc *MattermostConnector) handlePosted(ctx context.Context, sink EventSink, evt *model.WebSocketEvent) {
	post, err := mc.parsePostedEvent(evt)
	if err != nil {
		mc.log.Warn().Err(err).Msg("Failed to parse posted event")
		return
	}
	if post == nil {
		return
	}

	channelType, _ := evt.GetData()["channel_type"].(string)
	// The full profile is looked up by the dispatcher, off the reader goroutine.
	author := relay.User{ID: post.UserId, Username: senderName(evt)}
	attachments := make([]relay.Attachment, 0, len(post.FileIds))
	for _, fileID := range post.FileIds {
		attachments = append(attachments, relay.Attachment{ID: fileID})
	}

	switch model.ChannelType(channelType) {
	case model.ChannelTypeDirect:
		sink.Dispatch(ctx, relay.PrivateMessageEvent{PrivateMessage: relay.PrivateMessage{
			Author:      author,
			ChannelID:   post.ChannelId,
			Text:        post.Message,
			Attachments: attachments,
		}})
	case model.ChannelTypeOpen, model.ChannelTypePrivate:
		sink.Dispatch(ctx, relay.GroupMessageEvent{GroupMessage: relay.GroupMessage{
			Author:      author,
			ChannelID:   post.ChannelId,
			Text:        post.Message,
			Attachments: attachments,
		}})
	default:
		mc.log.Trace().
			Str("post_id", post.Id).
			Str("channel_type", channelType).
			Msg("Ignoring post in unsupported channel type")
	}
}

func (mc *MattermostConnector) handleReactionAdded(ctx context.Context, sink EventSink, evt *model.WebSocketEvent) {
	reaction, err := mc.parseReactionEvent(evt)
	if err != nil {
		mc.log.Error().Err(err).Msg("Failed to parse reaction added event")
		return
	}
	if reaction == nil {
		return
	}

	channelID := evt.GetBroadcast().ChannelId
	if channelID == "" {
		channelID = reaction.ChannelId
	}
	sink.Dispatch(ctx, relay.ReactionAddedEvent{
		UserID:    reaction.UserId,
		PostID:    reaction.PostId,
		ChannelID: channelID,
		Emoji:     reaction.EmojiName,
	})
}

func senderName(evt *model.WebSocketEvent) string {
	name, _ := evt.GetData()["sender_name"].(string)
	return strings.TrimPrefix(name, "@")
}

// isRelayUsername reports whether the username belongs to a bot that should
// never be relayed.
func isRelayUsername(username, botPrefix string) bool {
	return username != "" && botPrefix != "" && strings.HasPrefix(username, botPrefix)
}
