// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the in-memory set of live sessions, indexed by correspondent
// ID and by channel ID. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	byCorrespond map[string]*Session
	byChannel    map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byCorrespond: make(map[string]*Session),
		byChannel:    make(map[string]*Session),
	}
}

// Exists reports whether the correspondent has a live session.
func (r *Registry) Exists(correspondentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byCorrespond[correspondentID]
	return ok
}

// ChannelExists reports whether the channel is bound to a live session.
func (r *Registry) ChannelExists(channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byChannel[channelID]
	return ok
}

// Get returns the correspondent's session.
func (r *Registry) Get(correspondentID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byCorrespond[correspondentID]
	if !ok {
		return nil, fmt.Errorf("correspondent %s: %w", correspondentID, ErrNotFound)
	}
	return sess, nil
}

// GetByChannel returns the session bound to the channel.
func (r *Registry) GetByChannel(channelID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byChannel[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	return sess, nil
}

// Insert adds a session. It fails with ErrConflict, leaving the registry
// untouched, if either the correspondent or the channel is already bound.
func (r *Registry) Insert(sess *Session) error {
	if sess == nil || sess.CorrespondentID == "" || sess.ChannelID == "" {
		return fmt.Errorf("invalid session: correspondent and channel IDs are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCorrespond[sess.CorrespondentID]; ok {
		return fmt.Errorf("correspondent %s: %w", sess.CorrespondentID, ErrConflict)
	}
	if _, ok := r.byChannel[sess.ChannelID]; ok {
		return fmt.Errorf("channel %s: %w", sess.ChannelID, ErrConflict)
	}
	r.byCorrespond[sess.CorrespondentID] = sess
	r.byChannel[sess.ChannelID] = sess
	return nil
}

// Remove deletes the correspondent's session and returns it.
func (r *Registry) Remove(correspondentID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byCorrespond[correspondentID]
	if !ok {
		return nil, fmt.Errorf("correspondent %s: %w", correspondentID, ErrNotFound)
	}
	delete(r.byCorrespond, correspondentID)
	delete(r.byChannel, sess.ChannelID)
	return sess, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCorrespond)
}

// All returns a snapshot of the live sessions ordered by correspondent ID.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.byCorrespond))
	for _, sess := range r.byCorrespond {
		list = append(list, sess)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].CorrespondentID < list[j].CorrespondentID
	})
	return list
}
