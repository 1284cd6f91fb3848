// Copyright 2024-2026 Aiku AI

package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/aiku/mattermost-modmail/pkg/relay"
)

func (h *Handler) mailCreate(ctx context.Context, _ relay.Command, args []string) (string, error) {
	if len(args) != 1 {
		return "", usageError("mail create <@user|id>")
	}
	user, err := h.platform.LookupUser(ctx, args[0])
	if errors.Is(err, relay.ErrNotFound) {
		return fmt.Sprintf("Could not find user %s.", args[0]), nil
	} else if err != nil {
		return "", err
	}
	if h.sessions.HasSession(user.ID) {
		return replyAlreadyOpen, nil
	}

	sess, err := h.sessions.CreateSession(ctx, user.ID)
	// First contact may have opened one since the check.
	if errors.Is(err, relay.ErrAlreadyExists) {
		return replyAlreadyOpen, nil
	} else if err != nil {
		return "", err
	}
	h.log.Info().
		Str("correspondent_id", sess.CorrespondentID).
		Str("channel_id", sess.ChannelID).
		Msg("Session opened by staff")
	return fmt.Sprintf("Opened a mail session with @%s.", user.Username), nil
}

// mailClose closes the session of the channel it is run in. The channel is
// gone afterwards, so success has no reply.
func (h *Handler) mailClose(ctx context.Context, cmd relay.Command, _ []string) (string, error) {
	if !h.sessions.IsChannelLinkedToSession(cmd.ChannelID) {
		return replyNotLinked, nil
	}
	sess, err := h.sessions.GetSessionFromChannel(cmd.ChannelID)
	if errors.Is(err, relay.ErrNotFound) {
		return replyNotLinked, nil
	} else if err != nil {
		return "", err
	}

	err = h.sessions.CloseSessionByChannel(ctx, sess.ChannelID)
	if errors.Is(err, relay.ErrNotFound) {
		return replyNotLinked, nil
	} else if err != nil {
		return "", err
	}
	h.log.Info().
		Str("correspondent_id", sess.CorrespondentID).
		Str("channel_id", sess.ChannelID).
		Str("staff_id", cmd.Author.ID).
		Msg("Session closed by staff")
	return "", nil
}
