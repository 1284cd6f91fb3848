// Copyright 2024-2026 Aiku AI

package relay

import (
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
)

// ChannelDisplayName returns the display name given to a correspondent's
// session channel. It is the only persisted trace of a session.
func ChannelDisplayName(correspondentID string) string {
	return correspondentID
}

// ParseChannelDisplayName decodes a channel display name back into the
// correspondent ID it designates. Names that are not a valid user ID are
// rejected.
func ParseChannelDisplayName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if !model.IsValidId(name) {
		return "", false
	}
	return name, true
}

// candidate is a channel that looks like a session channel.
type candidate struct {
	ChannelID       string
	CorrespondentID string
}

// sessionCandidates decodes channel names, preserving input order. It
// returns the number of channels skipped because their name did not decode
// or because they were already archived when listed.
func sessionCandidates(channels []*Channel) ([]candidate, int) {
	var (
		found   []candidate
		ignored int
	)
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		if ch.Deleted {
			ignored++
			continue
		}
		id, ok := ParseChannelDisplayName(ch.DisplayName)
		if !ok {
			ignored++
			continue
		}
		found = append(found, candidate{ChannelID: ch.ID, CorrespondentID: id})
	}
	return found, ignored
}
