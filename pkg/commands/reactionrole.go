// Copyright 2024-2026 Aiku AI

package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aiku/mattermost-modmail/pkg/reactionrole"
	"github.com/aiku/mattermost-modmail/pkg/relay"
)

func parsePair(args []string, synopsis string) (reactionrole.Pair, error) {
	if len(args) != 3 {
		return reactionrole.Pair{}, usageError(synopsis)
	}
	return reactionrole.Pair{
		PostID: args[0],
		Emoji:  strings.Trim(args[1], ":"),
		RoleID: args[2],
	}, nil
}

func (h *Handler) rrAdd(_ context.Context, _ relay.Command, args []string) (string, error) {
	pair, err := parsePair(args, "rr add <post id> <emoji> <role channel id>")
	if err != nil {
		return "", err
	}
	if err = h.roles.Add(pair); errors.Is(err, reactionrole.ErrPairExists) {
		return fmt.Sprintf("Cannot add (%s) as it already exists.", pair), nil
	} else if err != nil {
		return "", err
	}
	h.log.Info().Stringer("pair", pair).Msg("Added reaction role pair")
	return fmt.Sprintf("Added new pair (%s). Run `%srr save` to keep it.", pair, h.cfg.Prefix), nil
}

func (h *Handler) rrRemove(_ context.Context, _ relay.Command, args []string) (string, error) {
	pair, err := parsePair(args, "rr remove <post id> <emoji> <role channel id>")
	if err != nil {
		return "", err
	}
	if err = h.roles.Remove(pair); errors.Is(err, reactionrole.ErrPairNotFound) {
		return fmt.Sprintf("Cannot find any pair (%s) to remove.", pair), nil
	} else if err != nil {
		return "", err
	}
	h.log.Info().Stringer("pair", pair).Msg("Removed reaction role pair")
	return fmt.Sprintf("Removed pair (%s).", pair), nil
}

func (h *Handler) rrList(context.Context, relay.Command, []string) (string, error) {
	pairs := h.roles.List()
	if len(pairs) == 0 {
		return "No reaction role pairs.", nil
	}
	lines := make([]string, 0, len(pairs))
	for _, p := range pairs {
		lines = append(lines, "- "+p.String())
	}
	return strings.Join(lines, "\n"), nil
}

func (h *Handler) rrSave(context.Context, relay.Command, []string) (string, error) {
	if err := h.roles.Save(); err != nil {
		return "", err
	}
	return "Saved reaction role pairs.", nil
}
