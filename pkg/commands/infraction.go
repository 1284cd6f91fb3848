// Copyright 2024-2026 Aiku AI

package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aiku/mattermost-modmail/pkg/infractions"
	"github.com/aiku/mattermost-modmail/pkg/relay"
)

func (h *Handler) infractionAdd(ctx context.Context, cmd relay.Command, args []string) (string, error) {
	if len(args) < 2 {
		return "", usageError("infraction add <@user|id> <notice|mute|warn|kick|ban> [reason...]")
	}
	typ, err := infractions.ParseType(args[1])
	if err != nil {
		return fmt.Sprintf("Unknown infraction type %q.", args[1]), nil
	}
	reason := strings.Join(args[2:], " ")
	if typ == infractions.TypeNotice && reason == "" {
		return "The note cannot be empty.", nil
	}
	user, err := h.platform.LookupUser(ctx, args[0])
	if errors.Is(err, relay.ErrNotFound) {
		return fmt.Sprintf("Could not find user %s.", args[0]), nil
	} else if err != nil {
		return "", err
	}

	inf, err := h.infractions.Add(ctx, infractions.Infraction{
		Type:    typ,
		StaffID: cmd.Author.ID,
		UserID:  user.ID,
		Reason:  reason,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Added %s #%d to @%s.", inf.Type, inf.ID, user.Username), nil
}

// note records a notice, the same as infraction add with the notice type.
func (h *Handler) note(ctx context.Context, cmd relay.Command, args []string) (string, error) {
	if len(args) < 2 {
		return "", usageError("note <@user|id> <text...>")
	}
	return h.infractionAdd(ctx, cmd, append([]string{args[0], string(infractions.TypeNotice)}, args[1:]...))
}

func (h *Handler) infractionList(ctx context.Context, _ relay.Command, args []string) (string, error) {
	if len(args) > 1 {
		return "", usageError("infraction list [<@user|id>]")
	}

	var (
		list  []infractions.Infraction
		empty = "No infractions recorded."
		err   error
	)
	if len(args) == 1 {
		user, lookupErr := h.platform.LookupUser(ctx, args[0])
		if errors.Is(lookupErr, relay.ErrNotFound) {
			return fmt.Sprintf("Could not find user %s.", args[0]), nil
		} else if lookupErr != nil {
			return "", lookupErr
		}
		empty = fmt.Sprintf("@%s has no infractions.", user.Username)
		list, err = h.infractions.ListByUser(ctx, user.ID)
	} else {
		list, err = h.infractions.List(ctx)
	}
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return empty, nil
	}

	var b strings.Builder
	for i, inf := range list {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "#%d %s %s user `%s` by `%s`", inf.ID, inf.Timestamp.Format("2006-01-02"), strings.ToUpper(string(inf.Type)), inf.UserID, inf.StaffID)
		if inf.Reason != "" {
			b.WriteString(": ")
			b.WriteString(inf.Reason)
		}
	}
	return b.String(), nil
}

func (h *Handler) infractionRemove(ctx context.Context, _ relay.Command, args []string) (string, error) {
	if len(args) != 1 {
		return "", usageError("infraction remove <id>")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		return "", usageError("infraction remove <id>")
	}
	err = h.infractions.Remove(ctx, id)
	if errors.Is(err, infractions.ErrInfractionNotFound) {
		return fmt.Sprintf("No infraction with id %d.", id), nil
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed infraction #%d.", id), nil
}
