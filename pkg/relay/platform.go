// Copyright 2024-2026 Aiku AI

package relay

import "context"

// Platform is the chat platform as seen by the relay. All calls may block on
// network I/O and may fail.
type Platform interface {
	// SelfID returns the user ID the relay itself posts as.
	SelfID() string
	// GetUser fetches a user's current profile.
	GetUser(ctx context.Context, userID string) (*User, error)

	// CreateChannel creates a staff channel in the modmail category.
	CreateChannel(ctx context.Context, displayName, topic string) (*Channel, error)
	// GetChannel fetches a channel, returning ErrChannelNotFound if it is gone.
	GetChannel(ctx context.Context, channelID string) (*Channel, error)
	// DeleteChannel deletes a staff channel.
	DeleteChannel(ctx context.Context, channelID string) error
	// ListCategoryChannels lists the channels in the modmail category.
	ListCategoryChannels(ctx context.Context) ([]*Channel, error)
	// ResolveIdentity returns the channel's impersonation resource, creating
	// one if the channel has none.
	ResolveIdentity(ctx context.Context, channelID string) (Broadcaster, error)

	// SendDirect sends a direct message, with optional files, to a user.
	SendDirect(ctx context.Context, userID, text string, files []File) error
	// PostToChannel posts as the relay itself, with optional files.
	PostToChannel(ctx context.Context, channelID, text string, files []File) error
	// FetchAttachment downloads an attachment's content.
	FetchAttachment(ctx context.Context, att Attachment) (File, error)
}
