// Copyright 2024-2026 Aiku AI

package reactionrole

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-modmail/pkg/relay"
)

// Members is the platform surface the handler needs.
type Members interface {
	GetUser(ctx context.Context, userID string) (*relay.User, error)
	IsChannelMember(ctx context.Context, channelID, userID string) (bool, error)
	AddChannelMember(ctx context.Context, channelID, userID string) error
	RemoveChannelMember(ctx context.Context, channelID, userID string) error
}

// Handler toggles role membership on tracked reactions.
type Handler struct {
	table   *Table
	members Members
	log     zerolog.Logger
}

var _ relay.ReactionHandler = (*Handler)(nil)

func NewHandler(table *Table, members Members, log zerolog.Logger) *Handler {
	return &Handler{
		table:   table,
		members: members,
		log:     log.With().Str("component", "reaction_roles").Logger(),
	}
}

// HandleReaction grants the pair's role to a user who lacks it and revokes
// it from a user who has it. Untracked reactions and bots are ignored.
func (h *Handler) HandleReaction(ctx context.Context, ev relay.ReactionAddedEvent) error {
	pair, ok := h.table.Lookup(ev.PostID, ev.Emoji)
	if !ok {
		return nil
	}
	user, err := h.members.GetUser(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("failed to get reacting user: %w", err)
	}
	if user.IsBot {
		return nil
	}

	log := h.log.With().
		Str("user_id", ev.UserID).
		Str("role_id", pair.RoleID).
		Logger()
	hasRole, err := h.members.IsChannelMember(ctx, pair.RoleID, ev.UserID)
	if err != nil {
		return err
	}
	if hasRole {
		if err = h.members.RemoveChannelMember(ctx, pair.RoleID, ev.UserID); err != nil {
			return err
		}
		log.Info().Msg("Revoked reaction role")
		return nil
	}
	if err = h.members.AddChannelMember(ctx, pair.RoleID, ev.UserID); err != nil {
		return err
	}
	log.Info().Msg("Granted reaction role")
	return nil
}
