// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-modmail/pkg/relay"
)

const (
	testBotID      = "botuserxxxxxxxxxxxxxxxxxxx"
	testUserID     = "useronexxxxxxxxxxxxxxxxxxx"
	testStaffID    = "staffonexxxxxxxxxxxxxxxxxx"
	testTeamID     = "teamonexxxxxxxxxxxxxxxxxxx"
	testCategoryID = "categoryonexxxxxxxxxxxxxxx"
	testStaffChan  = "staffchanxxxxxxxxxxxxxxxxx"
	testToken      = "test-token"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// hookPost is a request received on an incoming webhook URL.
type hookPost struct {
	HookID  string
	Request model.IncomingWebhookRequest
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Users maps user ID to model.User for GetUser/GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Teams maps user ID to team list.
	Teams map[string][]*model.Team
	// Channels maps channel ID to model.Channel.
	Channels map[string]*model.Channel
	// ChannelMembers maps channel ID to member list.
	ChannelMembers map[string]model.ChannelMembers
	// Categories maps category ID to sidebar category.
	Categories map[string]*model.SidebarCategoryWithChannels
	// Hooks lists the team's incoming webhooks.
	Hooks []*model.IncomingWebhook
	// Files maps file ID to model.FileInfo.
	Files map[string]*model.FileInfo
	// FileData maps file ID to file content.
	FileData map[string][]byte
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
	// HookStatus, when set, is returned by incoming webhook URLs.
	HookStatus int

	posts     []*model.Post
	hookPosts []hookPost
	uploads   []string
	nextID    int
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:          make(map[string]*model.User),
		TokenToUser:    make(map[string]string),
		Teams:          make(map[string][]*model.Team),
		Channels:       make(map[string]*model.Channel),
		ChannelMembers: make(map[string]model.ChannelMembers),
		Categories:     make(map[string]*model.SidebarCategoryWithChannels),
		Files:          make(map[string]*model.FileInfo),
		FileData:       make(map[string][]byte),
		FailEndpoints:  make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

// newModmailFakeMM returns a fake server with the bot, one correspondent,
// one staff member, the team and an empty category.
func newModmailFakeMM() *fakeMM {
	f := newFakeMM()
	f.Users[testBotID] = &model.User{Id: testBotID, Username: "modmail", IsBot: true}
	f.Users[testUserID] = &model.User{Id: testUserID, Username: "alice", Nickname: "Alice", LastPictureUpdate: 42}
	f.Users[testStaffID] = &model.User{Id: testStaffID, Username: "mod"}
	f.TokenToUser[testToken] = testBotID
	f.Teams[testBotID] = []*model.Team{{Id: testTeamID, Name: "main"}}
	f.Categories[testCategoryID] = &model.SidebarCategoryWithChannels{
		SidebarCategory: model.SidebarCategory{Id: testCategoryID, UserId: testBotID, TeamId: testTeamID, DisplayName: "Modmail"},
	}
	f.Channels[testStaffChan] = &model.Channel{Id: testStaffChan, TeamId: testTeamID, Type: model.ChannelTypeOpen, Name: "staff"}
	f.ChannelMembers[testStaffChan] = model.ChannelMembers{
		{ChannelId: testStaffChan, UserId: testBotID},
		{ChannelId: testStaffChan, UserId: testStaffID},
	}
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) CalledPath(method, path string) bool {
	for _, c := range f.Calls() {
		if c.Method == method && strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

func (f *fakeMM) Posts() []*model.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Post(nil), f.posts...)
}

func (f *fakeMM) HookPosts() []hookPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hookPost(nil), f.hookPosts...)
}

func (f *fakeMM) Uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

func (f *fakeMM) newID(prefix string) string {
	f.nextID++
	id := fmt.Sprintf("%s%04d", prefix, f.nextID)
	return id + strings.Repeat("x", 26-len(id))
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, path string) {
	writeJSON(w, http.StatusNotFound, map[string]any{"id": "api.not_found", "message": "not found: " + path, "status_code": http.StatusNotFound})
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	// Check if this endpoint should fail.
	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "fake error"})
			return
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	// POST /hooks/{hook_id}
	case r.Method == http.MethodPost && len(parts) == 2 && parts[0] == "hooks":
		var req model.IncomingWebhookRequest
		_ = json.Unmarshal(body, &req)
		f.hookPosts = append(f.hookPosts, hookPost{HookID: parts[1], Request: req})
		status := f.HookStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ok"))

	// GET /api/v4/users/me
	case r.Method == http.MethodGet && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
			return
		}
		if u, ok := f.Users[uid]; ok {
			writeJSON(w, http.StatusOK, u)
			return
		}
		notFound(w, path)

	// GET /api/v4/users/username/{username}
	case r.Method == http.MethodGet && len(parts) == 5 && parts[2] == "users" && parts[3] == "username":
		for _, u := range f.Users {
			if u.Username == parts[4] {
				writeJSON(w, http.StatusOK, u)
				return
			}
		}
		notFound(w, path)

	// GET /api/v4/users/{user_id}
	case r.Method == http.MethodGet && len(parts) == 4 && parts[2] == "users":
		if u, ok := f.Users[parts[3]]; ok {
			writeJSON(w, http.StatusOK, u)
			return
		}
		notFound(w, path)

	// GET /api/v4/users/{user_id}/teams
	case r.Method == http.MethodGet && len(parts) == 5 && parts[2] == "users" && parts[4] == "teams":
		teams := f.Teams[parts[3]]
		if teams == nil {
			teams = []*model.Team{}
		}
		writeJSON(w, http.StatusOK, teams)

	// GET|PUT /api/v4/users/{user_id}/teams/{team_id}/channels/categories/{category_id}
	case len(parts) == 9 && parts[2] == "users" && parts[7] == "categories":
		cat, ok := f.Categories[parts[8]]
		if !ok {
			notFound(w, path)
			return
		}
		if r.Method == http.MethodPut {
			var updated model.SidebarCategoryWithChannels
			_ = json.Unmarshal(body, &updated)
			cat.Channels = updated.Channels
		}
		writeJSON(w, http.StatusOK, cat)

	// POST /api/v4/channels/direct
	case r.Method == http.MethodPost && path == "/api/v4/channels/direct":
		var ids []string
		_ = json.Unmarshal(body, &ids)
		other := ids[len(ids)-1]
		ch := &model.Channel{Id: "dm" + other[2:], Type: model.ChannelTypeDirect, Name: strings.Join(ids, "__")}
		f.Channels[ch.Id] = ch
		writeJSON(w, http.StatusCreated, ch)

	// POST /api/v4/channels
	case r.Method == http.MethodPost && path == "/api/v4/channels":
		var ch model.Channel
		_ = json.Unmarshal(body, &ch)
		for _, existing := range f.Channels {
			if existing.Name == ch.Name {
				writeJSON(w, http.StatusBadRequest, map[string]any{"id": "store.sql_channel.save_channel.exists.app_error", "message": "exists", "status_code": http.StatusBadRequest})
				return
			}
		}
		ch.Id = f.newID("chan")
		f.Channels[ch.Id] = &ch
		f.ChannelMembers[ch.Id] = model.ChannelMembers{{ChannelId: ch.Id, UserId: testBotID}}
		writeJSON(w, http.StatusCreated, &ch)

	// GET|DELETE /api/v4/channels/{channel_id}
	case len(parts) == 4 && parts[2] == "channels":
		ch, ok := f.Channels[parts[3]]
		if !ok {
			notFound(w, path)
			return
		}
		if r.Method == http.MethodDelete {
			ch.DeleteAt = 1
			writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
			return
		}
		writeJSON(w, http.StatusOK, ch)

	// GET|POST /api/v4/channels/{channel_id}/members
	case len(parts) == 5 && parts[2] == "channels" && parts[4] == "members":
		chID := parts[3]
		if r.Method == http.MethodPost {
			var req map[string]string
			_ = json.Unmarshal(body, &req)
			member := model.ChannelMember{ChannelId: chID, UserId: req["user_id"]}
			f.ChannelMembers[chID] = append(f.ChannelMembers[chID], member)
			writeJSON(w, http.StatusCreated, &member)
			return
		}
		members := f.ChannelMembers[chID]
		if r.URL.Query().Get("page") != "0" {
			members = nil
		}
		if members == nil {
			members = model.ChannelMembers{}
		}
		writeJSON(w, http.StatusOK, members)

	// GET|DELETE /api/v4/channels/{channel_id}/members/{user_id}
	case len(parts) == 6 && parts[2] == "channels" && parts[4] == "members":
		chID, uid := parts[3], parts[5]
		for i, m := range f.ChannelMembers[chID] {
			if m.UserId != uid {
				continue
			}
			if r.Method == http.MethodDelete {
				f.ChannelMembers[chID] = append(f.ChannelMembers[chID][:i], f.ChannelMembers[chID][i+1:]...)
				writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
				return
			}
			writeJSON(w, http.StatusOK, &m)
			return
		}
		notFound(w, path)

	// GET /api/v4/hooks/incoming
	case r.Method == http.MethodGet && path == "/api/v4/hooks/incoming":
		hooks := f.Hooks
		if r.URL.Query().Get("page") != "0" || hooks == nil {
			hooks = []*model.IncomingWebhook{}
		}
		writeJSON(w, http.StatusOK, hooks)

	// POST /api/v4/hooks/incoming
	case r.Method == http.MethodPost && path == "/api/v4/hooks/incoming":
		var hook model.IncomingWebhook
		_ = json.Unmarshal(body, &hook)
		hook.Id = f.newID("hook")
		f.Hooks = append(f.Hooks, &hook)
		writeJSON(w, http.StatusCreated, &hook)

	// POST /api/v4/posts
	case r.Method == http.MethodPost && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = f.newID("post")
		f.posts = append(f.posts, &post)
		writeJSON(w, http.StatusCreated, &post)

	// POST /api/v4/files (upload)
	case r.Method == http.MethodPost && path == "/api/v4/files":
		name := uploadedFileName(r, body)
		f.uploads = append(f.uploads, name)
		writeJSON(w, http.StatusCreated, &model.FileUploadResponse{
			FileInfos: []*model.FileInfo{{Id: f.newID("file"), Name: name}},
		})

	// GET /api/v4/files/{file_id}/info
	case r.Method == http.MethodGet && len(parts) == 5 && parts[2] == "files" && parts[4] == "info":
		if fi, ok := f.Files[parts[3]]; ok {
			writeJSON(w, http.StatusOK, fi)
			return
		}
		notFound(w, path)

	// GET /api/v4/files/{file_id}
	case r.Method == http.MethodGet && len(parts) == 4 && parts[2] == "files":
		if data, ok := f.FileData[parts[3]]; ok {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
		notFound(w, path)

	default:
		notFound(w, path)
	}
}

// uploadedFileName returns the file name of a multipart file upload.
func uploadedFileName(r *http.Request, body []byte) string {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := mr.NextPart()
		if err != nil {
			return ""
		}
		if part.FormName() == "files" {
			return part.FileName()
		}
	}
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

// newTestConnector creates a connector talking to the fake server as the
// bot, without going through Start.
func newTestConnector(f *fakeMM) *MattermostConnector {
	cfg := &Config{
		Mattermost: MattermostConfig{
			ServerURL:  f.Server.URL,
			Token:      testToken,
			TeamID:     testTeamID,
			CategoryID: testCategoryID,
		},
		Modmail: ModmailConfig{
			DisplaynameTemplate: "{{if .Nickname}}{{.Nickname}}{{else}}{{.Username}}{{end}}",
			StaffChannelID:      testStaffChan,
		},
	}
	if err := cfg.PostProcess(); err != nil {
		panic(err)
	}
	mc := New(cfg, zerolog.Nop())
	mc.userID = testBotID
	mc.username = "modmail"
	return mc
}

// recordingSink captures dispatched relay events.
type recordingSink struct {
	mu     sync.Mutex
	events []relay.Event
}

func (s *recordingSink) Dispatch(_ context.Context, ev relay.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) Events() []relay.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]relay.Event(nil), s.events...)
}
