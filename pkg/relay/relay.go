// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/mattermost-modmail/pkg/mailfmt"
)

// PrivateMessage is a message a correspondent sent to the relay.
type PrivateMessage struct {
	Author User
	// ChannelID is the direct channel the message arrived in.
	ChannelID   string
	Text        string
	Attachments []Attachment
}

// GroupMessage is a message posted in a staff channel.
type GroupMessage struct {
	Author      User
	ChannelID   string
	Text        string
	Attachments []Attachment
}

// HandlePrivateMessage relays a correspondent's message into their session
// channel, opening the session on first contact. Text and attachments are
// forwarded independently.
func (e *Engine) HandlePrivateMessage(ctx context.Context, msg PrivateMessage) error {
	if msg.Author.IsBot || msg.Author.ID == e.platform.SelfID() {
		return nil
	}
	if e.IsCommand(msg.Text) {
		return nil
	}
	log := e.log.With().Str("correspondent_id", msg.Author.ID).Logger()

	sess, err := e.resolveSession(ctx, msg.Author.ID)
	if err != nil {
		return fmt.Errorf("failed to resolve session for %s: %w", msg.Author.ID, err)
	}

	var errs []error
	if msg.Text != "" {
		as := Identity{Name: msg.Author.Name(), AvatarURL: msg.Author.AvatarURL}
		if err = sess.Identity.Broadcast(ctx, as, mailfmt.DefuseMentions(msg.Text)); err != nil {
			errs = append(errs, fmt.Errorf("failed to broadcast message: %w", err))
		}
	}
	if len(msg.Attachments) > 0 {
		files := e.fetchAttachments(ctx, &log, msg.Attachments)
		if len(files) > 0 {
			if err = e.platform.PostToChannel(ctx, sess.ChannelID, mailfmt.AttachmentsCaption, files); err != nil {
				errs = append(errs, fmt.Errorf("failed to forward attachments: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

// HandleGroupMessage relays a staff message from a session channel to the
// correspondent. Replies over the length ceiling are refused with a warning
// in the channel, never truncated.
func (e *Engine) HandleGroupMessage(ctx context.Context, msg GroupMessage) error {
	if msg.Author.IsBot || msg.Author.ID == e.platform.SelfID() {
		return nil
	}
	sess, err := e.registry.GetByChannel(msg.ChannelID)
	if err != nil {
		return nil
	}
	if e.IsCommand(msg.Text) {
		return nil
	}
	log := e.log.With().
		Str("correspondent_id", sess.CorrespondentID).
		Str("channel_id", sess.ChannelID).
		Logger()
	name := msg.Author.Name()

	if len(msg.Attachments) > 0 {
		if files := e.fetchAttachments(ctx, &log, msg.Attachments); len(files) > 0 {
			return e.sendFiles(ctx, sess, name, msg.Text, files)
		}
	}
	if msg.Text == "" {
		return nil
	}

	reply := mailfmt.StaffReply(name, msg.Text)
	if !mailfmt.Fits(reply, e.cfg.MaxMessageLength) {
		return e.refuse(ctx, sess, mailfmt.Length(reply))
	}
	if err = e.platform.SendDirect(ctx, sess.CorrespondentID, reply, nil); err != nil {
		return fmt.Errorf("failed to deliver reply: %w", err)
	}
	return nil
}

func (e *Engine) sendFiles(ctx context.Context, sess *Session, name, text string, files []File) error {
	caption := mailfmt.AttachmentCaption(name, text)
	var refused error
	if !mailfmt.Fits(caption, e.cfg.MaxMessageLength) {
		refused = e.refuse(ctx, sess, mailfmt.Length(caption))
		caption = mailfmt.ShortAttachmentCaption(name)
	}
	if err := e.platform.SendDirect(ctx, sess.CorrespondentID, caption, files); err != nil {
		return errors.Join(refused, fmt.Errorf("failed to deliver attachments: %w", err))
	}
	return refused
}

// refuse posts the length warning into the session channel and returns the
// refusal.
func (e *Engine) refuse(ctx context.Context, sess *Session, length int) error {
	refused := fmt.Errorf("%w: %d code points exceeds %d", ErrDeliveryRefused, length, e.cfg.MaxMessageLength)
	if err := e.platform.PostToChannel(ctx, sess.ChannelID, mailfmt.TooLongWarning, nil); err != nil {
		return errors.Join(refused, fmt.Errorf("failed to post warning: %w", err))
	}
	return refused
}

// fetchAttachments downloads attachments concurrently and returns those that
// succeeded, in their original order.
func (e *Engine) fetchAttachments(ctx context.Context, log *zerolog.Logger, atts []Attachment) []File {
	results := make([]*File, len(atts))
	var g errgroup.Group
	g.SetLimit(e.cfg.AttachmentWorkers)
	for i, att := range atts {
		g.Go(func() error {
			file, err := e.platform.FetchAttachment(ctx, att)
			if err != nil {
				log.Warn().
					Err(fmt.Errorf("%w: %w", ErrTransientIO, err)).
					Str("attachment_id", att.ID).
					Msg("Failed to fetch attachment")
				return nil
			}
			results[i] = &file
			return nil
		})
	}
	_ = g.Wait()

	files := make([]File, 0, len(results))
	for _, f := range results {
		if f != nil {
			files = append(files, *f)
		}
	}
	return files
}
