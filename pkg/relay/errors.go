// Copyright 2024-2026 Aiku AI

package relay

import "errors"

var (
	// ErrAlreadyExists is returned when creating a session for a correspondent
	// that already has one.
	ErrAlreadyExists = errors.New("session already exists")
	// ErrNotFound is returned when no session matches a correspondent or channel.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned by Registry.Insert when either key is taken.
	ErrConflict = errors.New("session key conflict")
	// ErrDeliveryRefused is returned when a relayed message would exceed the
	// platform's message size ceiling.
	ErrDeliveryRefused = errors.New("delivery refused")
	// ErrTransientIO marks a failed attachment fetch or send.
	ErrTransientIO = errors.New("transient I/O failure")
	// ErrChannelNotFound is returned by Platform implementations when a
	// channel no longer exists.
	ErrChannelNotFound = errors.New("channel not found")
)
