// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector binds the modmail relay to a Mattermost server.
//
// [MattermostConnector] implements [relay.Platform] over the REST API and
// feeds WebSocket events to a dispatcher through [MattermostConnector.Run].
// Session channels are private channels named after the correspondent's user
// ID (see [MakeChannelHandle]) and grouped in one sidebar category, which is
// what recovery scans after a restart.
//
// Correspondent messages are posted into session channels through a
// per-channel incoming webhook, overriding the username and icon so staff
// see the correspondent rather than the bot.
//
// # Echo Prevention
//
// The relay must never relay its own output. Posts are dropped when they come
// from the bot user (webhook posts are attributed to their creator), carry the
// from_webhook prop, are system messages, or come from a username matching
// the configured bot prefix. These layers must not be simplified or removed.
//
// [AdminAPI] exposes the live sessions and on-demand recovery over HTTP.
package connector
