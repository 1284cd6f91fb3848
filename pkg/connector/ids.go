// Copyright 2024-2026 Aiku AI

package connector

import (
	"strconv"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
)

// sessionHandlePrefix prefixes the URL handle of session channels.
const sessionHandlePrefix = "modmail-"

// maxUploadFiles is the number of files Mattermost accepts on one post.
const maxUploadFiles = 10

// MakeChannelHandle returns the URL handle of a correspondent's session
// channel.
func MakeChannelHandle(correspondentID string) string {
	return sessionHandlePrefix + strings.ToLower(correspondentID)
}

// makeFallbackHandle returns a handle that does not clash with an existing
// one, for when MakeChannelHandle is taken.
func makeFallbackHandle(correspondentID string) string {
	return MakeChannelHandle(correspondentID) + "-" + model.NewId()[:8]
}

// makeHookURL returns the URL posts to an incoming webhook are sent to.
func makeHookURL(serverURL, hookID string) string {
	return serverURL + "/hooks/" + hookID
}

// makeAvatarURL returns the profile image URL of a user. The update time
// busts client caches when the picture changes.
func makeAvatarURL(serverURL, userID string, updatedAt int64) string {
	return serverURL + "/api/v4/users/" + userID + "/image?_=" + strconv.FormatInt(updatedAt, 10)
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}
