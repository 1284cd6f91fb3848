// Copyright 2024-2026 Aiku AI

package connector

import (
	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-modmail/pkg/relay"
)

// toRelayUser converts a Mattermost user to the relay's view of it, naming
// it with the display name template.
func (mc *MattermostConnector) toRelayUser(user *model.User) *relay.User {
	name := mc.Config.FormatDisplayname(DisplaynameParams{
		Username:  user.Username,
		Nickname:  user.Nickname,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	})
	return &relay.User{
		ID:          user.Id,
		Username:    user.Username,
		DisplayName: name,
		AvatarURL:   makeAvatarURL(mc.serverURL, user.Id, user.LastPictureUpdate),
		IsBot:       user.IsBot,
	}
}
