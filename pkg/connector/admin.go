// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-modmail/pkg/relay"
)

// SessionSource is what the admin API reads and drives.
type SessionSource interface {
	Sessions() []*relay.Session
	Recover(ctx context.Context) (relay.RecoveryReport, error)
}

// AdminAPI serves the admin HTTP endpoints:
//
//	GET  /api/sessions  lists the live sessions
//	POST /api/recover   runs session recovery and returns its report
type AdminAPI struct {
	sessions SessionSource
	log      zerolog.Logger
}

type sessionInfo struct {
	CorrespondentID string `json:"correspondent_id"`
	ChannelID       string `json:"channel_id"`
}

type sessionList struct {
	Sessions []sessionInfo `json:"sessions"`
	Total    int           `json:"total"`
}

// NewAdminAPI creates the admin API over the given sessions.
func NewAdminAPI(sessions SessionSource, log zerolog.Logger) *AdminAPI {
	return &AdminAPI{
		sessions: sessions,
		log:      log.With().Str("component", "admin_api").Logger(),
	}
}

// Router returns the HTTP handler of the API.
func (a *AdminAPI) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(a.requestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", a.handleListSessions)
		r.Post("/recover", a.handleRecover)
	})
	return r
}

// Serve listens on addr until ctx is done, then shuts the server down.
func (a *AdminAPI) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      a.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", addr).Msg("Starting admin API")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (a *AdminAPI) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)
		log := a.log.With().Str("request_id", reqID).Logger()
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Msg("Admin API request")
		next.ServeHTTP(w, r.WithContext(log.WithContext(r.Context())))
	})
}

func (a *AdminAPI) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := a.sessions.Sessions()
	resp := sessionList{
		Sessions: make([]sessionInfo, 0, len(sessions)),
		Total:    len(sessions),
	}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, sessionInfo{
			CorrespondentID: sess.CorrespondentID,
			ChannelID:       sess.ChannelID,
		})
	}
	a.respondJSON(w, r, http.StatusOK, resp)
}

func (a *AdminAPI) handleRecover(w http.ResponseWriter, r *http.Request) {
	zerolog.Ctx(r.Context()).Info().Msg("Session recovery requested")
	report, err := a.sessions.Recover(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to recover sessions")
		a.respondJSON(w, r, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	a.respondJSON(w, r, http.StatusOK, report)
}

func (a *AdminAPI) respondJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Failed to write admin API response")
	}
}
