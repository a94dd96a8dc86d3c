package game

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/events"
)

// notifier publishes committed outcomes. Failed publishes are retried with
// backoff until the attempts or the timeout run out, then logged; they never
// surface to the caller because the state change already happened.
type notifier struct {
	publisher events.Publisher
	clock     quartz.Clock
	timeout   time.Duration
	attempts  int
	backoff   time.Duration
	logger    *log.Logger
}

func newNotifier(p events.Publisher, clock quartz.Clock, cfg Config, logger *log.Logger) *notifier {
	n := &notifier{
		publisher: p,
		clock:     clock,
		timeout:   cfg.PublishTimeout,
		attempts:  cfg.PublishAttempts,
		backoff:   cfg.PublishBackoff,
		logger:    logger,
	}
	if n.timeout <= 0 {
		n.timeout = 2 * time.Second
	}
	if n.attempts < 1 {
		n.attempts = 1
	}
	return n
}

func (n *notifier) publish(ctx context.Context, gameID string, payloads ...events.Payload) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	for _, p := range payloads {
		env, err := events.New(gameID, p)
		if err != nil {
			n.logger.Error("Failed to encode event", "game", gameID, "event", p.EventName(), "error", err)
			continue
		}
		if err := n.send(ctx, env); err != nil {
			n.logger.Warn("Failed to publish event", "game", gameID, "event", env.Event, "error", err)
		}
	}
}

func (n *notifier) send(ctx context.Context, env events.Envelope) error {
	delay := n.backoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = n.publisher.Publish(ctx, env); err == nil {
			return nil
		}
		if attempt >= n.attempts || ctx.Err() != nil {
			return fmt.Errorf("after %d attempts: %w", attempt, err)
		}
		n.logger.Debug("Retrying publish", "event", env.Event, "attempt", attempt, "error", err)
		if delay > 0 {
			t := n.clock.NewTimer(delay, "notifier", "backoff")
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("after %d attempts: %w", attempt, err)
			case <-t.C:
			}
			delay *= 2
		}
	}
}

// publishState publishes payloads followed by a fresh snapshot.
func (s *Service) publishState(ctx context.Context, gameID string, payloads ...events.Payload) {
	snap, err := s.Snapshot(ctx, gameID)
	if err != nil {
		s.logger.Warn("Failed to load snapshot for publish", "game", gameID, "error", err)
		s.notify.publish(ctx, gameID, payloads...)
		return
	}
	s.notify.publish(ctx, gameID, append(payloads, snap)...)
}

// MediaCue forwards a host's media cue to every display in the game.
func (s *Service) MediaCue(ctx context.Context, gameID, cue string, payload json.RawMessage) error {
	cue = strings.TrimSpace(cue)
	if cue == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "Cue name required")
	}
	if payload != nil && !json.Valid(payload) {
		return apperrors.New(apperrors.CodeInvalidArgument, "Cue payload must be JSON")
	}
	if _, err := s.store.Read().GetGame(ctx, gameID); err != nil {
		return storeErr("media cue", notFound(err, apperrors.CodeGameNotFound, "Game not found"))
	}
	s.notify.publish(ctx, gameID, events.Cue{Cue: cue, Payload: payload})
	return nil
}
