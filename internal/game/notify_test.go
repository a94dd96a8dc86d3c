package game

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jellynash/bingo/internal/events"
	"github.com/jellynash/bingo/internal/store"
)

type failingPublisher struct {
	attempts atomic.Int32
}

func (p *failingPublisher) Publish(context.Context, events.Envelope) error {
	p.attempts.Add(1)
	return errors.New("broker unavailable")
}

func TestFailedPublishKeepsCommittedDraw(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.insertGame(t, "g1", "n1", store.GameActive)

	pub := &failingPublisher{}
	f.svc.notify = newNotifier(pub, f.clock, f.svc.cfg, f.svc.logger)

	trap := f.clock.Trap().NewTimer("notifier", "backoff")
	defer trap.Close()

	type outcome struct {
		res *DrawResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.svc.DrawNext(ctx, "g1", "host")
		done <- outcome{res, err}
	}()

	// draw:next then state:update, each retried twice with doubling backoff
	var waits []time.Duration
	for range 4 {
		call := trap.MustWait(ctx)
		waits = append(waits, call.Duration)
		call.MustRelease(ctx)
		f.clock.Advance(call.Duration).MustWait(ctx)
	}

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, 1, out.res.Sequence)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond,
		100 * time.Millisecond, 200 * time.Millisecond,
	}, waits)
	assert.EqualValues(t, 6, pub.attempts.Load())

	g, err := f.store.Read().GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, g.CurrentSequence)
}

func TestPublishSingleAttempt(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.PublishAttempts = 1 })
	ctx := context.Background()
	f.insertGame(t, "g1", "n1", store.GameActive)

	pub := &failingPublisher{}
	f.svc.notify = newNotifier(pub, f.clock, f.svc.cfg, f.svc.logger)

	res, err := f.svc.DrawNext(ctx, "g1", "host")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sequence)
	assert.EqualValues(t, 2, pub.attempts.Load())
}

func TestPublishRecoversAfterRetry(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.PublishBackoff = 0 })
	pub := &flakyPublisher{failures: 1, next: f.broker}
	f.svc.notify = newNotifier(pub, f.clock, f.svc.cfg, f.svc.logger)

	f.svc.notify.publish(context.Background(), "g1", events.Cue{Cue: "intro"})

	assert.Eventually(t, func() bool { return len(f.events.names()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []events.Event{events.MediaCue}, f.events.names())
	assert.EqualValues(t, 2, pub.attempts.Load())
}

type flakyPublisher struct {
	attempts atomic.Int32
	failures int32
	next     events.Publisher
}

func (p *flakyPublisher) Publish(ctx context.Context, env events.Envelope) error {
	if p.attempts.Add(1) <= p.failures {
		return errors.New("connection reset")
	}
	return p.next.Publish(ctx, env)
}
