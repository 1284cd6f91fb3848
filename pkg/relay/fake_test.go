// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// testID pads a readable prefix into a valid 26 character platform ID.
func testID(prefix string) string {
	return prefix + strings.Repeat("x", 26-len(prefix))
}

const botID = "botxxxxxxxxxxxxxxxxxxxxxxx"

type broadcast struct {
	ChannelID string
	As        Identity
	Text      string
}

type sent struct {
	Target string
	Text   string
	Files  []File
}

// fakePlatform is an in-memory Platform that records every call in order.
type fakePlatform struct {
	mu sync.Mutex

	users       map[string]*User
	channels    map[string]*Channel
	category    []string
	attachments map[string]File
	nextID      int

	calls      []string
	broadcasts []broadcast
	directs    []sent
	posts      []sent

	hooks map[string]*fakeHook

	// Hooks for steering tests. Called without the lock held.
	onCreate func(ch *Channel)
	onDelete func(channelID string)

	// userGate, when set, holds GetUser until it is closed or the call's
	// context ends.
	userGate chan struct{}

	failList      error
	failGetUser   bool
	failResolve   error
	failBroadcast error
	failChannel   map[string]error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		users:       make(map[string]*User),
		channels:    make(map[string]*Channel),
		attachments: make(map[string]File),
		hooks:       make(map[string]*fakeHook),
		failChannel: make(map[string]error),
	}
}

func (p *fakePlatform) record(format string, args ...any) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

// addChannel puts an existing channel into the category.
func (p *fakePlatform) addChannel(id, displayName string) *Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := &Channel{ID: id, DisplayName: displayName}
	p.channels[id] = ch
	p.category = append(p.category, id)
	return ch
}

func (p *fakePlatform) callCount(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (p *fakePlatform) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePlatform) sentBroadcasts() []broadcast {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]broadcast(nil), p.broadcasts...)
}

func (p *fakePlatform) sentDirects() []sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sent(nil), p.directs...)
}

func (p *fakePlatform) sentPosts() []sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sent(nil), p.posts...)
}

func (p *fakePlatform) liveChannels() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ch := range p.channels {
		if !ch.Deleted {
			n++
		}
	}
	return n
}

// setUser replaces a user's profile.
func (p *fakePlatform) setUser(u User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[u.ID] = &u
}

func (p *fakePlatform) SelfID() string { return botID }

func (p *fakePlatform) GetUser(ctx context.Context, userID string) (*User, error) {
	p.mu.Lock()
	p.record("get_user:%s", userID)
	gate := p.userGate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failGetUser {
		return nil, fmt.Errorf("user lookup unavailable")
	}
	u, ok := p.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	cp := *u
	return &cp, nil
}

func (p *fakePlatform) CreateChannel(_ context.Context, displayName, topic string) (*Channel, error) {
	p.mu.Lock()
	p.nextID++
	ch := &Channel{ID: testID(fmt.Sprintf("ch%d", p.nextID)), DisplayName: displayName}
	p.channels[ch.ID] = ch
	p.category = append(p.category, ch.ID)
	p.record("create_channel:%s:%s", displayName, topic)
	hook := p.onCreate
	p.mu.Unlock()
	if hook != nil {
		hook(ch)
	}
	return ch, nil
}

func (p *fakePlatform) GetChannel(_ context.Context, channelID string) (*Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("get_channel:%s", channelID)
	if err := p.failChannel[channelID]; err != nil {
		return nil, err
	}
	ch, ok := p.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channelID, ErrChannelNotFound)
	}
	cp := *ch
	return &cp, nil
}

func (p *fakePlatform) DeleteChannel(_ context.Context, channelID string) error {
	p.mu.Lock()
	hook := p.onDelete
	p.mu.Unlock()
	if hook != nil {
		hook(channelID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("delete_channel:%s", channelID)
	ch, ok := p.channels[channelID]
	if !ok {
		return fmt.Errorf("channel %s: %w", channelID, ErrChannelNotFound)
	}
	ch.Deleted = true
	return nil
}

func (p *fakePlatform) ListCategoryChannels(context.Context) ([]*Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("list_category")
	if p.failList != nil {
		return nil, p.failList
	}
	list := make([]*Channel, 0, len(p.category))
	for _, id := range p.category {
		cp := *p.channels[id]
		list = append(list, &cp)
	}
	return list, nil
}

func (p *fakePlatform) ResolveIdentity(_ context.Context, channelID string) (Broadcaster, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("resolve_identity:%s", channelID)
	if p.failResolve != nil {
		return nil, p.failResolve
	}
	hook, ok := p.hooks[channelID]
	if !ok {
		hook = &fakeHook{p: p, channelID: channelID}
		p.hooks[channelID] = hook
	}
	return hook, nil
}

func (p *fakePlatform) SendDirect(_ context.Context, userID, text string, files []File) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("send_direct:%s", userID)
	p.directs = append(p.directs, sent{Target: userID, Text: text, Files: files})
	return nil
}

func (p *fakePlatform) PostToChannel(_ context.Context, channelID, text string, files []File) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("post:%s", channelID)
	p.posts = append(p.posts, sent{Target: channelID, Text: text, Files: files})
	return nil
}

func (p *fakePlatform) FetchAttachment(_ context.Context, att Attachment) (File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.attachments[att.ID]
	if !ok {
		return File{}, fmt.Errorf("attachment %s: connection reset", att.ID)
	}
	return f, nil
}

type fakeHook struct {
	p         *fakePlatform
	channelID string
}

func (h *fakeHook) Broadcast(_ context.Context, as Identity, text string) error {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	h.p.record("broadcast:%s", h.channelID)
	if h.p.failBroadcast != nil {
		return h.p.failBroadcast
	}
	h.p.broadcasts = append(h.p.broadcasts, broadcast{ChannelID: h.channelID, As: as, Text: text})
	return nil
}

func testConfig() Config {
	return Config{
		CommandPrefix:     "!",
		MaxMessageLength:  2000,
		Greeting:          DefaultGreeting,
		AttachmentWorkers: 4,
	}
}

func newTestEngine(p *fakePlatform) *Engine {
	return NewEngine(p, testConfig(), zerolog.New(io.Discard))
}
