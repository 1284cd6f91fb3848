// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
)

// RecoveryReport counts what a recovery pass did with each category channel.
type RecoveryReport struct {
	// Recovered channels were adopted as they were.
	Recovered int `json:"recovered"`
	// Replaced channels vanished before use and got a fresh channel.
	Replaced int `json:"replaced"`
	// Skipped candidates already had a live session.
	Skipped int `json:"skipped"`
	// Ignored channels do not designate a correspondent.
	Ignored int `json:"ignored"`
	Failed  int `json:"failed"`
}

type recoveryOutcome int

const (
	outcomeSkipped recoveryOutcome = iota
	outcomeRecovered
	outcomeReplaced
)

// Recover rebuilds sessions from the channels in the correspondence
// category. It is idempotent: correspondents with a live session are left
// alone. Per-channel failures are counted, only a failure to list the
// category is returned.
func (e *Engine) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	e.log.Info().Msg("Recovering sessions")

	channels, err := e.platform.ListCategoryChannels(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list category channels: %w", err)
	}
	candidates, ignored := sessionCandidates(channels)
	report.Ignored = ignored

	for _, c := range candidates {
		log := e.log.With().
			Str("correspondent_id", c.CorrespondentID).
			Str("channel_id", c.ChannelID).
			Logger()
		outcome, err := e.recoverOne(ctx, c)
		if err != nil {
			report.Failed++
			log.Error().Err(err).Msg("Failed to recover session")
			continue
		}
		switch outcome {
		case outcomeRecovered:
			report.Recovered++
			log.Info().Msg("Recovered session from existing channel")
		case outcomeReplaced:
			report.Replaced++
			log.Warn().Msg("Session channel no longer exists, created a new one")
		default:
			report.Skipped++
			log.Debug().Msg("Found existing session")
		}
	}

	e.log.Info().
		Int("recovered", report.Recovered).
		Int("replaced", report.Replaced).
		Int("skipped", report.Skipped).
		Int("ignored", report.Ignored).
		Int("failed", report.Failed).
		Msg("Session recovery complete")
	return report, nil
}

func (e *Engine) recoverOne(ctx context.Context, c candidate) (recoveryOutcome, error) {
	outcome := outcomeSkipped
	_, err, _ := e.creating.Do(c.CorrespondentID, func() (any, error) {
		if sess, err := e.registry.Get(c.CorrespondentID); err == nil {
			return sess, nil
		}

		ch, err := e.platform.GetChannel(ctx, c.ChannelID)
		if errors.Is(err, ErrChannelNotFound) || (err == nil && ch.Deleted) {
			sess, created, err := e.provision(ctx, c.CorrespondentID, nil)
			if created {
				outcome = outcomeReplaced
			}
			return sess, err
		} else if err != nil {
			return nil, fmt.Errorf("failed to get channel: %w", err)
		}

		sess, created, err := e.provision(ctx, c.CorrespondentID, ch)
		if created {
			outcome = outcomeRecovered
		}
		return sess, err
	})
	return outcome, err
}
