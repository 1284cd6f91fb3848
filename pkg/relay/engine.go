// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/aiku/mattermost-modmail/pkg/mailfmt"
)

// DefaultGreeting is sent to a correspondent whose first message opened a
// session.
const DefaultGreeting = "Thank you for contacting us, we will reply shortly!"

// profileLookupTimeout bounds every user profile lookup the engine makes.
const profileLookupTimeout = 5 * time.Second

// Config holds the relay settings.
type Config struct {
	// CommandPrefix marks messages meant for the command layer.
	CommandPrefix string
	// MaxMessageLength is the platform ceiling in code points.
	MaxMessageLength int
	// Greeting is sent on first contact. Empty disables it.
	Greeting string
	// AttachmentWorkers bounds concurrent attachment fetches per message.
	AttachmentWorkers int
}

// Engine owns the session registry and relays messages between
// correspondents and their session channels.
type Engine struct {
	platform Platform
	registry *Registry
	cfg      Config
	log      zerolog.Logger

	lookupTimeout time.Duration

	// creating deduplicates session creation per correspondent ID.
	creating singleflight.Group
}

// NewEngine creates a relay engine with an empty registry.
func NewEngine(platform Platform, cfg Config, log zerolog.Logger) *Engine {
	if cfg.AttachmentWorkers <= 0 {
		cfg.AttachmentWorkers = 1
	}
	return &Engine{
		platform: platform,
		registry: NewRegistry(),
		cfg:      cfg,
		log:      log.With().Str("component", "relay").Logger(),

		lookupTimeout: profileLookupTimeout,
	}
}

// Registry exposes the live session table for read-only consumers.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// IsCommand reports whether text is addressed to the command layer.
func (e *Engine) IsCommand(text string) bool {
	return e.cfg.CommandPrefix != "" && strings.HasPrefix(text, e.cfg.CommandPrefix)
}

// HasSession reports whether the correspondent has a live session.
func (e *Engine) HasSession(correspondentID string) bool {
	return e.registry.Exists(correspondentID)
}

// GetSession returns the correspondent's live session.
func (e *Engine) GetSession(correspondentID string) (*Session, error) {
	return e.registry.Get(correspondentID)
}

// IsChannelLinkedToSession reports whether the channel belongs to a session.
func (e *Engine) IsChannelLinkedToSession(channelID string) bool {
	return e.registry.ChannelExists(channelID)
}

// GetSessionFromChannel returns the session bound to the channel.
func (e *Engine) GetSessionFromChannel(channelID string) (*Session, error) {
	return e.registry.GetByChannel(channelID)
}

// Sessions returns a snapshot of the live sessions.
func (e *Engine) Sessions() []*Session {
	return e.registry.All()
}

// CreateSession opens a session for a correspondent on staff request. It
// fails with ErrAlreadyExists if one is already live, including one created
// concurrently by first contact.
func (e *Engine) CreateSession(ctx context.Context, correspondentID string) (*Session, error) {
	if e.registry.Exists(correspondentID) {
		return nil, fmt.Errorf("correspondent %s: %w", correspondentID, ErrAlreadyExists)
	}
	var created bool
	v, err, _ := e.creating.Do(correspondentID, func() (any, error) {
		if sess, err := e.registry.Get(correspondentID); err == nil {
			return sess, nil
		}
		sess, fresh, err := e.provision(ctx, correspondentID, nil)
		created = fresh
		return sess, err
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("correspondent %s: %w", correspondentID, ErrAlreadyExists)
	}
	return v.(*Session), nil
}

// CloseSession ends the correspondent's session. The registry entry is
// removed before the channel is deleted.
func (e *Engine) CloseSession(ctx context.Context, correspondentID string) error {
	sess, err := e.registry.Remove(correspondentID)
	if err != nil {
		return err
	}
	if err = e.platform.DeleteChannel(ctx, sess.ChannelID); err != nil {
		return fmt.Errorf("failed to delete channel %s: %w", sess.ChannelID, err)
	}
	e.log.Info().
		Str("correspondent_id", sess.CorrespondentID).
		Str("channel_id", sess.ChannelID).
		Msg("Closed session")
	return nil
}

// CloseSessionByChannel ends the session bound to the channel.
func (e *Engine) CloseSessionByChannel(ctx context.Context, channelID string) error {
	sess, err := e.registry.GetByChannel(channelID)
	if err != nil {
		return err
	}
	return e.CloseSession(ctx, sess.CorrespondentID)
}

// resolveSession returns the correspondent's session, opening one on first
// contact. The greeting goes out only from the call that created the channel.
func (e *Engine) resolveSession(ctx context.Context, correspondentID string) (*Session, error) {
	if sess, err := e.registry.Get(correspondentID); err == nil {
		return sess, nil
	}
	v, err, _ := e.creating.Do(correspondentID, func() (any, error) {
		if sess, err := e.registry.Get(correspondentID); err == nil {
			return sess, nil
		}
		sess, created, err := e.provision(ctx, correspondentID, nil)
		if err != nil {
			return nil, err
		}
		if created {
			e.greet(ctx, correspondentID)
		}
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	sess, _ := v.(*Session)
	if sess == nil {
		return nil, fmt.Errorf("correspondent %s: %w", correspondentID, ErrNotFound)
	}
	return sess, nil
}

// provision binds a correspondent to a channel and registers the session.
// With a nil existing channel a fresh one is created. If another session
// wins the registry insert, the fresh channel is deleted and the winner is
// returned with created false.
func (e *Engine) provision(ctx context.Context, correspondentID string, existing *Channel) (*Session, bool, error) {
	log := e.log.With().Str("correspondent_id", correspondentID).Logger()
	ch := existing
	fresh := existing == nil
	if fresh {
		var err error
		ch, err = e.platform.CreateChannel(ctx, ChannelDisplayName(correspondentID), e.channelTopic(ctx, correspondentID))
		if err != nil {
			return nil, false, fmt.Errorf("failed to create session channel: %w", err)
		}
		log.Info().Str("channel_id", ch.ID).Msg("Created session channel")
	}

	hook, err := e.platform.ResolveIdentity(ctx, ch.ID)
	if err != nil {
		if fresh {
			e.discardChannel(ctx, ch.ID)
		}
		return nil, false, fmt.Errorf("failed to resolve channel identity: %w", err)
	}

	sess := &Session{CorrespondentID: correspondentID, ChannelID: ch.ID, Identity: hook}
	if err = e.registry.Insert(sess); err != nil {
		if fresh {
			e.discardChannel(ctx, ch.ID)
		}
		if errors.Is(err, ErrConflict) {
			if winner, getErr := e.registry.Get(correspondentID); getErr == nil {
				log.Warn().Str("channel_id", winner.ChannelID).Msg("Session created concurrently, adopting it")
				return winner, false, nil
			}
		}
		return nil, false, err
	}
	return sess, true, nil
}

func (e *Engine) discardChannel(ctx context.Context, channelID string) {
	if err := e.platform.DeleteChannel(ctx, channelID); err != nil {
		e.log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to delete orphaned channel")
	}
}

// resolveAuthor completes an author known only by ID and username with their
// current profile. The partial author is kept when the lookup fails.
func (e *Engine) resolveAuthor(ctx context.Context, author User) User {
	if author.ID == "" || author.ID == e.platform.SelfID() {
		return author
	}
	user, err := e.lookupUser(ctx, author.ID)
	if err != nil || user == nil {
		e.log.Debug().Err(err).Str("user_id", author.ID).Msg("Author profile unavailable")
		return author
	}
	return *user
}

func (e *Engine) lookupUser(ctx context.Context, userID string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()
	return e.platform.GetUser(ctx, userID)
}

func (e *Engine) channelTopic(ctx context.Context, correspondentID string) string {
	user, err := e.lookupUser(ctx, correspondentID)
	if err != nil || user == nil || user.Username == "" {
		e.log.Debug().Err(err).Str("correspondent_id", correspondentID).Msg("Correspondent profile unavailable")
		return mailfmt.UnknownTopic(correspondentID)
	}
	return mailfmt.Topic(user.Username, correspondentID)
}

func (e *Engine) greet(ctx context.Context, correspondentID string) {
	if e.cfg.Greeting == "" {
		return
	}
	if err := e.platform.SendDirect(ctx, correspondentID, e.cfg.Greeting, nil); err != nil {
		e.log.Warn().Err(err).Str("correspondent_id", correspondentID).Msg("Failed to send greeting")
	}
}
