// Copyright 2024-2026 Aiku AI

// Package relay implements the modmail correspondence relay: the mapping
// between correspondents (users talking to the bot in direct messages) and
// the staff channels dedicated to them.
//
// # Core Types
//
// [Registry] holds the live [Session] set, keyed by correspondent and by
// channel. Inserts are check-and-set so a correspondent can never hold two
// sessions.
//
// [Engine] turns inbound messages into session changes and cross-surface
// deliveries. Correspondent text is posted into the staff channel through the
// session's [Broadcaster] under the correspondent's current name and avatar;
// staff replies go back as direct messages prefixed with the staff member's
// display name.
//
// [Dispatcher] is the single entry point for platform events. Events are
// queued on ordered lanes (one per correspondent, channel or post) so that
// messages from one correspondent are relayed in order while unrelated
// traffic proceeds in parallel.
//
// # Recovery
//
// There is no session store. A session channel carries the correspondent's
// ID as its display name, and [Engine.Recover] rebuilds the registry from
// the channels found in the modmail category whenever the platform
// connection is (re)established.
package relay
