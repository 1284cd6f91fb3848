// Copyright 2024-2026 Aiku AI

// Package logsink mirrors log lines into a chat channel. It is a zerolog
// hook: attach it with logger.Hook(sink).
package logsink

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-modmail/pkg/mailfmt"
	"github.com/aiku/mattermost-modmail/pkg/relay"
)

const (
	defaultQueueSize = 64
	sendTimeout      = 10 * time.Second
)

var levelNames = map[zerolog.Level]string{
	zerolog.TraceLevel: "TRC",
	zerolog.DebugLevel: "DBG",
	zerolog.InfoLevel:  "INF",
	zerolog.WarnLevel:  "WRN",
	zerolog.ErrorLevel: "ERR",
	zerolog.FatalLevel: "FTL",
	zerolog.PanicLevel: "PNC",
}

// Options configure a Sink.
type Options struct {
	// As is the name and avatar the lines are posted under.
	As relay.Identity
	// MinLevel is the lowest level mirrored.
	MinLevel zerolog.Level
	// MaxLength caps a posted line, backticks included.
	MaxLength int
	// QueueSize bounds the lines waiting to be posted. Lines logged while
	// the queue is full are dropped.
	QueueSize int
}

// ParseLevel parses a level name, defaulting to warn for the empty string.
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.WarnLevel, nil
	}
	return zerolog.ParseLevel(s)
}

// Sink posts log lines through a Broadcaster from a background goroutine.
type Sink struct {
	target relay.Broadcaster
	opts   Options
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan string
	done   chan struct{}

	dropped atomic.Int64
	failed  atomic.Int64
}

var _ zerolog.Hook = (*Sink)(nil)

// New starts a sink posting to target.
func New(target relay.Broadcaster, opts Options) *Sink {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	s := &Sink{
		target: target,
		opts:   opts,
		now:    time.Now,
		queue:  make(chan string, opts.QueueSize),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

// Run implements zerolog.Hook. It never blocks.
func (s *Sink) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if level < s.opts.MinLevel || level == zerolog.NoLevel || level == zerolog.Disabled {
		return
	}
	line := s.format(level, msg)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- line:
	default:
		s.dropped.Add(1)
	}
}

func (s *Sink) format(level zerolog.Level, msg string) string {
	name, ok := levelNames[level]
	if !ok {
		name = strings.ToUpper(level.String())
	}
	line := "[" + s.now().Format("15:04:05") + " " + name + "] " + msg
	line = strings.ReplaceAll(line, "`", "")
	if s.opts.MaxLength > 2 {
		line = mailfmt.Truncate(line, s.opts.MaxLength-2)
	}
	return "`" + line + "`"
}

func (s *Sink) loop() {
	defer close(s.done)
	for line := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		// Errors cannot be logged from here without feeding the sink itself.
		if err := s.target.Broadcast(ctx, s.opts.As, line); err != nil {
			s.failed.Add(1)
		}
		cancel()
	}
}

// Close stops accepting lines and waits until the queued ones are posted or
// ctx ends.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many lines were dropped because the queue was full.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Failed returns how many lines could not be posted.
func (s *Sink) Failed() int64 {
	return s.failed.Load()
}
