// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-modmail/pkg/relay"
)

// pageSize is the page size of paginated list calls.
const pageSize = 200

// isNotFound reports whether a Client4 call failed because the resource
// does not exist.
func isNotFound(resp *model.Response, err error) bool {
	if err == nil {
		return false
	}
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var appErr *model.AppError
	return errors.As(err, &appErr) && appErr.StatusCode == http.StatusNotFound
}

func toRelayChannel(ch *model.Channel) *relay.Channel {
	return &relay.Channel{
		ID:          ch.Id,
		DisplayName: ch.DisplayName,
		Deleted:     ch.DeleteAt != 0,
	}
}

// GetUser fetches a user's profile.
func (mc *MattermostConnector) GetUser(ctx context.Context, userID string) (*relay.User, error) {
	user, _, err := mc.client.GetUser(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return mc.toRelayUser(user), nil
}

// CreateChannel creates a private session channel in the team and adds it
// to the modmail category. Members of the staff channel are added to it.
func (mc *MattermostConnector) CreateChannel(ctx context.Context, displayName, topic string) (*relay.Channel, error) {
	ch := &model.Channel{
		TeamId:      mc.teamID,
		Type:        model.ChannelTypePrivate,
		DisplayName: displayName,
		Name:        MakeChannelHandle(displayName),
		Header:      topic,
	}
	created, resp, err := mc.client.CreateChannel(ctx, ch)
	if err != nil && resp != nil && resp.StatusCode == http.StatusBadRequest {
		// Archived session channels keep their handle.
		ch.Name = makeFallbackHandle(displayName)
		mc.log.Debug().Str("handle", ch.Name).Msg("Channel handle taken, retrying with suffix")
		created, _, err = mc.client.CreateChannel(ctx, ch)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	log := mc.log.With().Str("channel_id", created.Id).Logger()
	// A channel outside the category cannot be recovered after a restart.
	if err = mc.addToCategory(ctx, created.Id); err != nil {
		if _, delErr := mc.client.DeleteChannel(ctx, created.Id); delErr != nil {
			log.Warn().Err(delErr).Msg("Failed to delete uncategorized channel")
		}
		return nil, fmt.Errorf("failed to add channel %s to category: %w", created.Id, err)
	}
	if err = mc.addStaffMembers(ctx, created.Id); err != nil {
		log.Warn().Err(err).Msg("Failed to add staff to channel")
	}
	return toRelayChannel(created), nil
}

// GetChannel fetches a channel. Archived channels are returned with Deleted
// set, channels that no longer exist yield relay.ErrChannelNotFound.
func (mc *MattermostConnector) GetChannel(ctx context.Context, channelID string) (*relay.Channel, error) {
	ch, resp, err := mc.client.GetChannel(ctx, channelID, "")
	if isNotFound(resp, err) {
		return nil, fmt.Errorf("channel %s: %w", channelID, relay.ErrChannelNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get channel %s: %w", channelID, err)
	}
	return toRelayChannel(ch), nil
}

// DeleteChannel archives a session channel.
func (mc *MattermostConnector) DeleteChannel(ctx context.Context, channelID string) error {
	mc.hooksMu.Lock()
	delete(mc.hooks, channelID)
	mc.hooksMu.Unlock()

	resp, err := mc.client.DeleteChannel(ctx, channelID)
	if isNotFound(resp, err) {
		return fmt.Errorf("channel %s: %w", channelID, relay.ErrChannelNotFound)
	} else if err != nil {
		return fmt.Errorf("failed to delete channel %s: %w", channelID, err)
	}
	return nil
}

// ListCategoryChannels returns the channels in the modmail category.
// Channels that no longer exist at all are left out.
func (mc *MattermostConnector) ListCategoryChannels(ctx context.Context) ([]*relay.Channel, error) {
	cat, err := mc.getCategory(ctx)
	if err != nil {
		return nil, err
	}
	channels := make([]*relay.Channel, 0, len(cat.Channels))
	for _, channelID := range cat.Channels {
		ch, resp, err := mc.client.GetChannel(ctx, channelID, "")
		if isNotFound(resp, err) {
			mc.log.Debug().Str("channel_id", channelID).Msg("Category channel no longer exists")
			continue
		} else if err != nil {
			mc.log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to get category channel")
			continue
		}
		channels = append(channels, toRelayChannel(ch))
	}
	return channels, nil
}

func (mc *MattermostConnector) getCategory(ctx context.Context) (*model.SidebarCategoryWithChannels, error) {
	cat, _, err := mc.client.GetSidebarCategoryForTeamForUser(ctx, mc.userID, mc.teamID, mc.Config.Mattermost.CategoryID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get category %s: %w", mc.Config.Mattermost.CategoryID, err)
	}
	return cat, nil
}

func (mc *MattermostConnector) addToCategory(ctx context.Context, channelID string) error {
	mc.categoryMu.Lock()
	defer mc.categoryMu.Unlock()

	cat, err := mc.getCategory(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(cat.Channels, channelID) {
		return nil
	}
	cat.Channels = append(cat.Channels, channelID)
	if _, _, err = mc.client.UpdateSidebarCategoryForTeamForUser(ctx, mc.userID, mc.teamID, cat.Id, cat); err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}
	return nil
}

// addStaffMembers adds every member of the staff channel to channelID.
func (mc *MattermostConnector) addStaffMembers(ctx context.Context, channelID string) error {
	staffChannel := mc.Config.Modmail.StaffChannelID
	if staffChannel == "" {
		return nil
	}
	var errs []error
	for page := 0; ; page++ {
		members, _, err := mc.client.GetChannelMembers(ctx, staffChannel, page, pageSize, "")
		if err != nil {
			return fmt.Errorf("failed to get staff members: %w", err)
		}
		for _, member := range members {
			if member.UserId == mc.userID {
				continue
			}
			if _, _, err = mc.client.AddChannelMember(ctx, channelID, member.UserId); err != nil {
				errs = append(errs, fmt.Errorf("failed to add %s: %w", member.UserId, err))
			}
		}
		if len(members) < pageSize {
			break
		}
	}
	return errors.Join(errs...)
}

// ResolveIdentity returns a broadcaster for the channel's incoming webhook,
// creating the webhook if the channel has none.
func (mc *MattermostConnector) ResolveIdentity(ctx context.Context, channelID string) (relay.Broadcaster, error) {
	mc.hooksMu.Lock()
	defer mc.hooksMu.Unlock()
	if b, ok := mc.hooks[channelID]; ok {
		return b, nil
	}

	hook, err := mc.findWebhook(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if hook == nil {
		hook, _, err = mc.client.CreateIncomingWebhook(ctx, &model.IncomingWebhook{
			ChannelId:     channelID,
			TeamId:        mc.teamID,
			DisplayName:   "modmail",
			Description:   "Relays correspondent messages",
			ChannelLocked: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook: %w", err)
		}
		mc.log.Debug().Str("channel_id", channelID).Str("hook_id", hook.Id).Msg("Created webhook")
	}

	b := &webhookBroadcaster{
		hookURL: makeHookURL(mc.serverURL, hook.Id),
		client:  mc.httpClient,
	}
	mc.hooks[channelID] = b
	return b, nil
}

func (mc *MattermostConnector) findWebhook(ctx context.Context, channelID string) (*model.IncomingWebhook, error) {
	for page := 0; ; page++ {
		hooks, _, err := mc.client.GetIncomingWebhooksForTeam(ctx, mc.teamID, page, pageSize, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list webhooks: %w", err)
		}
		for _, hook := range hooks {
			if hook.ChannelId == channelID && hook.DeleteAt == 0 {
				return hook, nil
			}
		}
		if len(hooks) < pageSize {
			return nil, nil
		}
	}
}

// SendDirect sends a direct message from the bot to a user.
func (mc *MattermostConnector) SendDirect(ctx context.Context, userID, text string, files []relay.File) error {
	dm, _, err := mc.client.CreateDirectChannel(ctx, mc.userID, userID)
	if err != nil {
		return fmt.Errorf("failed to open direct channel with %s: %w", userID, err)
	}
	return mc.post(ctx, dm.Id, text, files)
}

// PostToChannel posts as the bot.
func (mc *MattermostConnector) PostToChannel(ctx context.Context, channelID, text string, files []relay.File) error {
	return mc.post(ctx, channelID, text, files)
}

// post uploads files and posts them with text. Files beyond the per-post
// limit go out in follow-up posts without text.
func (mc *MattermostConnector) post(ctx context.Context, channelID, text string, files []relay.File) error {
	if len(files) == 0 {
		if _, _, err := mc.client.CreatePost(ctx, &model.Post{ChannelId: channelID, Message: text}); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		return nil
	}

	fileIDs := make([]string, 0, len(files))
	for _, file := range files {
		name := file.Name
		if name == "" {
			name = "attachment"
		}
		uploaded, _, err := mc.client.UploadFile(ctx, file.Data, channelID, name)
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", name, err)
		}
		if len(uploaded.FileInfos) == 0 {
			return fmt.Errorf("upload of %s returned no file info", name)
		}
		fileIDs = append(fileIDs, uploaded.FileInfos[0].Id)
	}

	message := text
	for chunk := range slices.Chunk(fileIDs, maxUploadFiles) {
		post := &model.Post{ChannelId: channelID, Message: message, FileIds: chunk}
		if _, _, err := mc.client.CreatePost(ctx, post); err != nil {
			return fmt.Errorf("failed to send files: %w", err)
		}
		message = ""
	}
	return nil
}

// FetchAttachment downloads an attached file.
func (mc *MattermostConnector) FetchAttachment(ctx context.Context, att relay.Attachment) (relay.File, error) {
	info, _, err := mc.client.GetFileInfo(ctx, att.ID)
	if err != nil {
		return relay.File{}, fmt.Errorf("failed to get file info for %s: %w", att.ID, err)
	}
	data, _, err := mc.client.GetFile(ctx, att.ID)
	if err != nil {
		return relay.File{}, fmt.Errorf("failed to download file %s: %w", att.ID, err)
	}
	return relay.File{Name: info.Name, Data: data}, nil
}

// IsChannelMember reports whether the user is a member of the channel.
func (mc *MattermostConnector) IsChannelMember(ctx context.Context, channelID, userID string) (bool, error) {
	_, resp, err := mc.client.GetChannelMember(ctx, channelID, userID, "")
	if isNotFound(resp, err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to get channel member: %w", err)
	}
	return true, nil
}

// AddChannelMember adds the user to the channel.
func (mc *MattermostConnector) AddChannelMember(ctx context.Context, channelID, userID string) error {
	if _, _, err := mc.client.AddChannelMember(ctx, channelID, userID); err != nil {
		return fmt.Errorf("failed to add %s to %s: %w", userID, channelID, err)
	}
	return nil
}

// RemoveChannelMember removes the user from the channel.
func (mc *MattermostConnector) RemoveChannelMember(ctx context.Context, channelID, userID string) error {
	if _, err := mc.client.RemoveUserFromChannel(ctx, channelID, userID); err != nil {
		return fmt.Errorf("failed to remove %s from %s: %w", userID, channelID, err)
	}
	return nil
}

// LookupUser resolves a user reference, either an ID or a username with or
// without a leading @.
func (mc *MattermostConnector) LookupUser(ctx context.Context, ref string) (*relay.User, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "@")
	if model.IsValidId(ref) {
		return mc.GetUser(ctx, ref)
	}
	user, resp, err := mc.client.GetUserByUsername(ctx, ref, "")
	if isNotFound(resp, err) {
		return nil, fmt.Errorf("user %s: %w", ref, relay.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", ref, err)
	}
	return mc.toRelayUser(user), nil
}
