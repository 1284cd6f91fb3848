// Copyright 2024-2026 Aiku AI

package relay

import "context"

// User is the platform profile of a message author or correspondent.
type User struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	IsBot       bool
}

// Name returns the name to present for the user, falling back from the
// display name to the username and finally to the ID.
func (u User) Name() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Username != "":
		return u.Username
	default:
		return u.ID
	}
}

// Attachment references a file attached to an inbound message.
type Attachment struct {
	ID   string
	Name string
}

// File is a fetched attachment ready to be uploaded elsewhere.
type File struct {
	Name string
	Data []byte
}

// Channel is the subset of a platform channel the relay cares about.
type Channel struct {
	ID          string
	DisplayName string
	// Deleted is set for channels that still resolve but have been archived.
	Deleted bool
}

// Identity is the name and avatar a Broadcaster posts under.
type Identity struct {
	Name      string
	AvatarURL string
}

// Broadcaster posts into one staff channel under a caller-supplied identity.
// Implementations do not buffer or retry.
type Broadcaster interface {
	Broadcast(ctx context.Context, as Identity, text string) error
}

// Session binds a correspondent to their dedicated staff channel.
type Session struct {
	CorrespondentID string
	ChannelID       string
	// Identity is the impersonation resource bound to ChannelID.
	Identity Broadcaster
}
