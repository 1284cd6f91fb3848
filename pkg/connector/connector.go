// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-modmail/pkg/relay"
)

// MattermostConnector is the relay's view of a Mattermost server. It owns the
// bot's REST client and WebSocket connection.
type MattermostConnector struct {
	Config *Config

	client     *model.Client4
	httpClient *http.Client
	userID     string
	username   string
	teamID     string
	serverURL  string

	hooksMu sync.Mutex
	hooks   map[string]*webhookBroadcaster

	// categoryMu serializes read-modify-write cycles on the sidebar category.
	categoryMu sync.Mutex

	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

var _ relay.Platform = (*MattermostConnector)(nil)

// New creates a connector for the configured server. Start must be called
// before any other method.
func New(cfg *Config, log zerolog.Logger) *MattermostConnector {
	client := model.NewAPIv4Client(cfg.Mattermost.ServerURL)
	client.SetToken(cfg.Mattermost.Token)
	return &MattermostConnector{
		Config:     cfg,
		client:     client,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		teamID:     cfg.Mattermost.TeamID,
		serverURL:  cfg.Mattermost.ServerURL,
		hooks:      make(map[string]*webhookBroadcaster),
		stopChan:   make(chan struct{}),
		log:        log.With().Str("component", "mm_connector").Logger(),
	}
}

// Start authenticates the bot and checks that the team and category it
// relays into are reachable.
func (mc *MattermostConnector) Start(ctx context.Context) error {
	mc.log.Info().Str("server_url", mc.serverURL).Msg("Connecting to Mattermost")

	me, err := validateToken(ctx, mc.client, mc.teamID)
	if err != nil {
		return err
	}
	mc.userID = me.Id
	mc.username = me.Username
	mc.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	if _, err = mc.getCategory(ctx); err != nil {
		return err
	}
	return nil
}

// Stop ends the WebSocket loop started by Run.
func (mc *MattermostConnector) Stop() {
	mc.stopOnce.Do(func() {
		close(mc.stopChan)
	})
}

// SelfID returns the bot's user ID.
func (mc *MattermostConnector) SelfID() string {
	return mc.userID
}

// Username returns the bot's username.
func (mc *MattermostConnector) Username() string {
	return mc.username
}
