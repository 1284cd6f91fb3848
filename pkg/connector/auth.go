// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"slices"

	"github.com/mattermost/mattermost/server/public/model"
)

// validateToken authenticates the client and checks that the user belongs
// to the given team. Returns the authenticated user.
func validateToken(ctx context.Context, client *model.Client4, teamID string) (*model.User, error) {
	me, _, err := client.GetMe(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	teams, _, err := client.GetTeamsForUser(ctx, me.Id, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get teams: %w", err)
	}
	if !slices.ContainsFunc(teams, func(t *model.Team) bool { return t.Id == teamID }) {
		return nil, fmt.Errorf("user %s is not a member of team %s", me.Username, teamID)
	}
	return me, nil
}
