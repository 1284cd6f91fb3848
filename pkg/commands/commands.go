// Copyright 2024-2026 Aiku AI

// Package commands implements the staff commands of the modmail bot:
//
//	!mail create <@user|id>
//	!mail close
//	!infraction add <@user|id> <type> [reason...]
//	!infraction list [<@user|id>]
//	!infraction remove <id>
//	!note <@user|id> <text...>
//	!rr add|remove <post id> <emoji> <role channel id>
//	!rr list
//	!rr save
//
// Only members of the staff channel may run commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-modmail/pkg/infractions"
	"github.com/aiku/mattermost-modmail/pkg/mailfmt"
	"github.com/aiku/mattermost-modmail/pkg/reactionrole"
	"github.com/aiku/mattermost-modmail/pkg/relay"
)

const (
	replyAlreadyOpen = "The specified user already has a mail session opened."
	replyNotLinked   = "This channel isn't linked to any mail session."
)

// Platform is the chat surface commands act on.
type Platform interface {
	LookupUser(ctx context.Context, ref string) (*relay.User, error)
	IsChannelMember(ctx context.Context, channelID, userID string) (bool, error)
	PostToChannel(ctx context.Context, channelID, text string, files []relay.File) error
}

// Sessions is the part of the relay engine commands drive.
type Sessions interface {
	HasSession(correspondentID string) bool
	IsChannelLinkedToSession(channelID string) bool
	GetSessionFromChannel(channelID string) (*relay.Session, error)
	CreateSession(ctx context.Context, correspondentID string) (*relay.Session, error)
	CloseSessionByChannel(ctx context.Context, channelID string) error
}

// Config controls who may run commands and where.
type Config struct {
	Prefix         string
	StaffChannelID string
	// IgnoredChannels never run commands.
	IgnoredChannels []string
	// MaxReplyLength caps reply length.
	MaxReplyLength int
}

type commandFunc func(ctx context.Context, cmd relay.Command, args []string) (string, error)

// Handler parses and runs staff commands.
type Handler struct {
	cfg         Config
	platform    Platform
	sessions    Sessions
	infractions *infractions.Store
	roles       *reactionrole.Table
	log         zerolog.Logger

	groups map[string]map[string]commandFunc
	// shortcuts are commands without a subcommand.
	shortcuts map[string]commandFunc
}

var _ relay.CommandHandler = (*Handler)(nil)

// New creates a command handler. The infraction store and role table are
// optional; their command groups are unavailable when nil.
func New(cfg Config, platform Platform, sessions Sessions, store *infractions.Store, roles *reactionrole.Table, log zerolog.Logger) *Handler {
	h := &Handler{
		cfg:         cfg,
		platform:    platform,
		sessions:    sessions,
		infractions: store,
		roles:       roles,
		log:         log.With().Str("component", "commands").Logger(),
	}
	h.groups = map[string]map[string]commandFunc{
		"mail": {
			"create": h.mailCreate,
			"close":  h.mailClose,
		},
	}
	h.shortcuts = make(map[string]commandFunc)
	if store != nil {
		h.shortcuts["note"] = h.note
		h.groups["infraction"] = map[string]commandFunc{
			"add":    h.infractionAdd,
			"list":   h.infractionList,
			"remove": h.infractionRemove,
		}
	}
	if roles != nil {
		h.groups["rr"] = map[string]commandFunc{
			"add":    h.rrAdd,
			"remove": h.rrRemove,
			"list":   h.rrList,
			"save":   h.rrSave,
		}
	}
	return h
}

// HandleCommand runs a command if its author is staff. Commands from bots,
// non-staff and ignored channels are dropped silently.
func (h *Handler) HandleCommand(ctx context.Context, cmd relay.Command) error {
	log := h.log.With().
		Str("author_id", cmd.Author.ID).
		Str("channel_id", cmd.ChannelID).
		Logger()
	if cmd.Author.IsBot || slices.Contains(h.cfg.IgnoredChannels, cmd.ChannelID) {
		return nil
	}

	fields := strings.Fields(strings.TrimPrefix(cmd.Text, h.cfg.Prefix))
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	group, isGroup := h.groups[name]
	shortcut, isShortcut := h.shortcuts[name]
	if !isGroup && !isShortcut {
		log.Debug().Str("command", fields[0]).Msg("Ignoring unknown command")
		return nil
	}

	isStaff, err := h.isStaff(ctx, cmd.Author.ID)
	if err != nil {
		return fmt.Errorf("failed to check staff membership: %w", err)
	}
	if !isStaff {
		log.Debug().Str("command", fields[0]).Msg("Ignoring command from non-staff user")
		return nil
	}

	run, args := shortcut, fields[1:]
	if isGroup {
		if len(fields) < 2 {
			return h.reply(ctx, cmd, h.usage(fields[0], group))
		}
		var ok bool
		if run, ok = group[strings.ToLower(fields[1])]; !ok {
			return h.reply(ctx, cmd, h.usage(fields[0], group))
		}
		name += " " + strings.ToLower(fields[1])
		args = fields[2:]
	}

	log.Info().Str("command", name).Msg("Running command")
	text, err := run(ctx, cmd, args)
	var usageErr usageError
	if errors.As(err, &usageErr) {
		text = "Usage: " + h.cfg.Prefix + string(usageErr)
	} else if err != nil {
		log.Warn().Err(err).Msg("Command failed")
		text = "Command failed: " + err.Error()
	}
	if text == "" {
		return nil
	}
	return h.reply(ctx, cmd, text)
}

func (h *Handler) isStaff(ctx context.Context, userID string) (bool, error) {
	if h.cfg.StaffChannelID == "" {
		return false, nil
	}
	return h.platform.IsChannelMember(ctx, h.cfg.StaffChannelID, userID)
}

func (h *Handler) reply(ctx context.Context, cmd relay.Command, text string) error {
	text = mailfmt.Truncate(text, h.cfg.MaxReplyLength)
	if err := h.platform.PostToChannel(ctx, cmd.ChannelID, text, nil); err != nil {
		return fmt.Errorf("failed to reply to command: %w", err)
	}
	return nil
}

func (h *Handler) usage(group string, commands map[string]commandFunc) string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return fmt.Sprintf("Usage: %s%s <%s>", h.cfg.Prefix, group, strings.Join(names, "|"))
}

// usageError is returned for malformed arguments. It holds the command's
// synopsis without the prefix.
type usageError string

func (e usageError) Error() string {
	return "usage: " + string(e)
}
