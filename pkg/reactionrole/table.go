// Copyright 2024-2026 Aiku AI

// Package reactionrole grants and revokes channel membership when users react
// to configured posts. A "role" is the membership of a role channel.
package reactionrole

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	ErrPairExists   = errors.New("reaction role pair already exists")
	ErrPairNotFound = errors.New("reaction role pair not found")
)

// Pair binds a reaction on a post to a role channel.
type Pair struct {
	PostID string `yaml:"post_id"`
	Emoji  string `yaml:"emoji"`
	RoleID string `yaml:"role_id"`
}

func (p Pair) String() string {
	return fmt.Sprintf("post %s, :%s: → %s", p.PostID, p.Emoji, p.RoleID)
}

// Tracks reports whether the pair reacts to emoji on postID.
func (p Pair) Tracks(postID, emoji string) bool {
	return p.PostID == postID && p.Emoji == emoji
}

// Table is the in-memory set of reaction role pairs, saved to and loaded
// from a YAML file.
type Table struct {
	path string

	mu    sync.RWMutex
	pairs []Pair
}

// NewTable returns an empty table backed by the file at path.
func NewTable(path string) *Table {
	return &Table{path: path}
}

// Path returns the file the table is saved to.
func (t *Table) Path() string {
	return t.path
}

// Load replaces the pairs with the file's content. A missing file is
// created empty.
func (t *Table) Load() error {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, os.ErrNotExist) {
		t.mu.Lock()
		t.pairs = nil
		t.mu.Unlock()
		return t.Save()
	} else if err != nil {
		return fmt.Errorf("failed to read reaction roles: %w", err)
	}

	var pairs []Pair
	if err = yaml.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("failed to parse reaction roles: %w", err)
	}
	t.mu.Lock()
	t.pairs = pairs
	t.mu.Unlock()
	return nil
}

// Save writes the pairs to the table's file.
func (t *Table) Save() error {
	t.mu.RLock()
	pairs := slices.Clone(t.pairs)
	t.mu.RUnlock()
	if pairs == nil {
		pairs = []Pair{}
	}

	data, err := yaml.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("failed to marshal reaction roles: %w", err)
	}
	if err = os.WriteFile(t.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write reaction roles: %w", err)
	}
	return nil
}

// Add adds a pair. Changes are kept in memory until Save.
func (t *Table) Add(p Pair) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slices.Contains(t.pairs, p) {
		return fmt.Errorf("%w: %s", ErrPairExists, p)
	}
	t.pairs = append(t.pairs, p)
	return nil
}

// Remove removes a pair.
func (t *Table) Remove(p Pair) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := slices.Index(t.pairs, p)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrPairNotFound, p)
	}
	t.pairs = slices.Delete(t.pairs, i, i+1)
	return nil
}

// Lookup returns the first pair tracking emoji on postID.
func (t *Table) Lookup(postID, emoji string) (Pair, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := slices.IndexFunc(t.pairs, func(p Pair) bool { return p.Tracks(postID, emoji) })
	if i < 0 {
		return Pair{}, false
	}
	return t.pairs[i], true
}

// Tracks reports whether any pair tracks emoji on postID.
func (t *Table) Tracks(postID, emoji string) bool {
	_, ok := t.Lookup(postID, emoji)
	return ok
}

// List returns a copy of the pairs.
func (t *Table) List() []Pair {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.pairs)
}
