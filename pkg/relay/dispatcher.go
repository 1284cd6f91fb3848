// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is an inbound platform event. The set of variants is closed.
type Event interface {
	laneKey() string
	eventType() string
}

// PrivateMessageEvent is a direct message sent to the relay.
type PrivateMessageEvent struct{ PrivateMessage }

// GroupMessageEvent is a message posted in a team channel.
type GroupMessageEvent struct{ GroupMessage }

// ReactionAddedEvent is an emoji reaction added to a post.
type ReactionAddedEvent struct {
	UserID    string
	PostID    string
	ChannelID string
	Emoji     string
}

// ResyncCompleteEvent signals that the platform connection was
// (re)established and state should be reconciled.
type ResyncCompleteEvent struct{}

func (ev PrivateMessageEvent) laneKey() string { return "dm:" + ev.Author.ID }
func (ev GroupMessageEvent) laneKey() string   { return "channel:" + ev.ChannelID }
func (ev ReactionAddedEvent) laneKey() string  { return "reaction:" + ev.PostID }
func (ResyncCompleteEvent) laneKey() string    { return "resync" }

func (PrivateMessageEvent) eventType() string { return "private_message" }
func (GroupMessageEvent) eventType() string   { return "group_message" }
func (ReactionAddedEvent) eventType() string  { return "reaction_added" }
func (ResyncCompleteEvent) eventType() string { return "resync_complete" }

// Command is a prefixed message routed to the command layer.
type Command struct {
	Author    User
	ChannelID string
	// Private is set for commands sent in a direct channel.
	Private bool
	Text    string
}

// CommandHandler executes staff commands.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd Command) error
}

// ReactionHandler reacts to emoji reactions.
type ReactionHandler interface {
	HandleReaction(ctx context.Context, ev ReactionAddedEvent) error
}

type lane struct {
	pending []Event
}

// Dispatcher routes events to their handlers. Events sharing a lane (the
// same correspondent, channel or post) are handled one at a time in arrival
// order; different lanes run concurrently. Message authors are looked up
// inside their lane, so events only need to carry the author's ID.
type Dispatcher struct {
	engine    *Engine
	commands  CommandHandler
	reactions ReactionHandler
	log       zerolog.Logger

	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

// NewDispatcher creates a dispatcher feeding the engine. Handlers for
// commands and reactions are optional and must be set before the first
// Dispatch.
func NewDispatcher(engine *Engine, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		engine: engine,
		log:    log.With().Str("component", "dispatcher").Logger(),
		lanes:  make(map[string]*lane),
	}
}

// SetCommandHandler sets the handler for prefixed messages.
func (d *Dispatcher) SetCommandHandler(h CommandHandler) {
	d.commands = h
}

// SetReactionHandler sets the handler for reactions.
func (d *Dispatcher) SetReactionHandler(h ReactionHandler) {
	d.reactions = h
}

// Dispatch queues an event on its lane and returns without waiting for it
// to be handled.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	key := ev.laneKey()
	d.mu.Lock()
	if l, ok := d.lanes[key]; ok {
		l.pending = append(l.pending, ev)
		d.mu.Unlock()
		return
	}
	l := &lane{pending: []Event{ev}}
	d.lanes[key] = l
	d.wg.Add(1)
	d.mu.Unlock()

	go d.drain(ctx, key, l)
}

// Wait blocks until every queued event has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) drain(ctx context.Context, key string, l *lane) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(l.pending) == 0 {
			delete(d.lanes, key)
			d.mu.Unlock()
			return
		}
		ev := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		d.mu.Unlock()

		d.handle(ctx, ev)
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) {
	log := d.log.With().
		Str("event_id", uuid.NewString()).
		Str("event_type", ev.eventType()).
		Logger()
	ctx = log.WithContext(ctx)

	var err error
	switch ev := ev.(type) {
	case PrivateMessageEvent:
		ev.Author = d.engine.resolveAuthor(ctx, ev.Author)
		if d.commands != nil && d.engine.IsCommand(ev.Text) {
			err = d.commands.HandleCommand(ctx, Command{Author: ev.Author, ChannelID: ev.ChannelID, Private: true, Text: ev.Text})
		} else {
			err = d.engine.HandlePrivateMessage(ctx, ev.PrivateMessage)
		}
	case GroupMessageEvent:
		ev.Author = d.engine.resolveAuthor(ctx, ev.Author)
		if d.commands != nil && d.engine.IsCommand(ev.Text) {
			err = d.commands.HandleCommand(ctx, Command{Author: ev.Author, ChannelID: ev.ChannelID, Text: ev.Text})
		} else {
			err = d.engine.HandleGroupMessage(ctx, ev.GroupMessage)
		}
	case ReactionAddedEvent:
		if d.reactions != nil {
			err = d.reactions.HandleReaction(ctx, ev)
		}
	case ResyncCompleteEvent:
		_, err = d.engine.Recover(ctx)
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrDeliveryRefused):
		log.Warn().Err(err).Msg("Message not delivered")
	default:
		log.Error().Err(err).Msg("Failed to handle event")
	}
}
