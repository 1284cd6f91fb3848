// Copyright 2024-2026 Aiku AI

// Package infractions keeps the moderation record of users in SQLite.
package infractions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Type is the kind of moderation action an infraction records.
type Type string

const (
	TypeNotice Type = "notice"
	TypeMute   Type = "mute"
	TypeWarn   Type = "warn"
	TypeKick   Type = "kick"
	TypeBan    Type = "ban"
)

// Types lists the valid infraction types in increasing severity.
var Types = []Type{TypeNotice, TypeMute, TypeWarn, TypeKick, TypeBan}

// ParseType parses a case-insensitive infraction type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range Types {
		if t == valid {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

var (
	ErrInvalidType        = errors.New("invalid infraction type")
	ErrMissingUser        = errors.New("infraction has no user")
	ErrInfractionNotFound = errors.New("infraction not found")
)

// Infraction is one moderation action taken against a user.
type Infraction struct {
	ID        int64
	Type      Type
	Timestamp time.Time
	StaffID   string
	UserID    string
	Reason    string
}

// Store persists infractions.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the infraction database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open infraction database: %w", err)
	}
	s := &Store{db: db}
	if err = s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate infraction database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS infractions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  type TEXT NOT NULL,
  timestamp TEXT NOT NULL,
  staff_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_infractions_user_id ON infractions(user_id);
`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add records an infraction and returns it with its assigned ID. A zero
// timestamp is set to the current time.
func (s *Store) Add(ctx context.Context, inf Infraction) (Infraction, error) {
	if _, err := ParseType(string(inf.Type)); err != nil {
		return Infraction{}, err
	}
	if inf.UserID == "" {
		return Infraction{}, ErrMissingUser
	}
	if inf.Timestamp.IsZero() {
		inf.Timestamp = time.Now()
	}
	inf.Timestamp = inf.Timestamp.UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO infractions (type, timestamp, staff_id, user_id, reason) VALUES (?, ?, ?, ?, ?)`,
		string(inf.Type), inf.Timestamp.Format(time.RFC3339Nano), inf.StaffID, inf.UserID, inf.Reason)
	if err != nil {
		return Infraction{}, fmt.Errorf("failed to insert infraction: %w", err)
	}
	if inf.ID, err = res.LastInsertId(); err != nil {
		return Infraction{}, fmt.Errorf("failed to get infraction id: %w", err)
	}
	return inf, nil
}

// List returns every infraction, oldest first.
func (s *Store) List(ctx context.Context) ([]Infraction, error) {
	return s.query(ctx, `SELECT id, type, timestamp, staff_id, user_id, reason FROM infractions ORDER BY id`)
}

// ListByUser returns the infractions of one user, oldest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Infraction, error) {
	return s.query(ctx, `SELECT id, type, timestamp, staff_id, user_id, reason FROM infractions WHERE user_id = ? ORDER BY id`, userID)
}

// HasInfraction reports whether the user has at least one infraction.
func (s *Store) HasInfraction(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM infractions WHERE user_id = ?)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query infractions: %w", err)
	}
	return exists, nil
}

// Remove deletes an infraction by ID.
func (s *Store) Remove(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM infractions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete infraction %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete infraction %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrInfractionNotFound, id)
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Infraction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query infractions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Infraction
	for rows.Next() {
		var (
			inf Infraction
			typ string
			ts  string
		)
		if err = rows.Scan(&inf.ID, &typ, &ts, &inf.StaffID, &inf.UserID, &inf.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan infraction: %w", err)
		}
		inf.Type = Type(typ)
		if inf.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("infraction %d has a bad timestamp: %w", inf.ID, err)
		}
		out = append(out, inf)
	}
	return out, rows.Err()
}
