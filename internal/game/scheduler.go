package game

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/store"
)

// AutoDrawActor is recorded as the drawer of scheduled draws.
const AutoDrawActor = "AUTO"

type autoDrawLoop struct {
	cancel context.CancelFunc
	ticker *quartz.Ticker
}

// Scheduler draws for games with auto-draw enabled, one ticker per game.
type Scheduler struct {
	svc    *Service
	clock  quartz.Clock
	logger *log.Logger

	mu       sync.Mutex
	loops    map[string]*autoDrawLoop
	inflight sync.Map
	wg       sync.WaitGroup
}

func newScheduler(svc *Service, clock quartz.Clock, logger *log.Logger) *Scheduler {
	return &Scheduler{
		svc:    svc,
		clock:  clock,
		logger: logger.WithPrefix("autodraw"),
		loops:  make(map[string]*autoDrawLoop),
	}
}

// Start (re)starts the ticker for a game.
func (s *Scheduler) Start(gameID string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(gameID)
	ctx, cancel := context.WithCancel(context.Background())
	loop := &autoDrawLoop{
		cancel: cancel,
		ticker: s.clock.NewTicker(interval, "autodraw", gameID),
	}
	s.loops[gameID] = loop

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-loop.ticker.C:
				s.tick(ctx, gameID)
			}
		}
	}()
	s.logger.Debug("Started", "game", gameID, "interval", interval)
}

// Stop halts the ticker for a game, if any.
func (s *Scheduler) Stop(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(gameID)
}

func (s *Scheduler) stopLocked(gameID string) {
	loop, ok := s.loops[gameID]
	if !ok {
		return
	}
	loop.ticker.Stop()
	loop.cancel()
	delete(s.loops, gameID)
	s.logger.Debug("Stopped", "game", gameID)
}

// Running reports whether a game has an active ticker.
func (s *Scheduler) Running(gameID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[gameID]
	return ok
}

// Restore starts tickers for every unfinished game with auto-draw enabled.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	games, err := s.svc.store.Read().ListAutoDrawGames(ctx)
	if err != nil {
		return 0, err
	}
	for _, g := range games {
		s.Start(g.ID, g.AutoDrawInterval)
	}
	if len(games) > 0 {
		s.logger.Info("Restored auto draw", "games", len(games))
	}
	return len(games), nil
}

// Run restores tickers and keeps them running until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.Restore(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Shutdown()
	return nil
}

// Shutdown stops every ticker and waits for in-flight draws.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for id := range s.loops {
		s.stopLocked(id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context, gameID string) {
	if _, busy := s.inflight.LoadOrStore(gameID, struct{}{}); busy {
		return
	}
	defer s.inflight.Delete(gameID)

	g, err := s.svc.store.Read().GetGame(ctx, gameID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Stopping, game unavailable", "game", gameID, "error", err)
			s.Stop(gameID)
		}
		return
	}
	switch {
	case !g.AutoDrawEnabled, g.Status.Finished():
		s.Stop(gameID)
		return
	case g.Status == store.GameLobby, g.Status == store.GamePaused:
		return
	}

	if _, err := s.svc.DrawNext(ctx, gameID, AutoDrawActor); err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.CodeGameNotFound, apperrors.CodeNoNumbersRemaining:
			s.logger.Info("Stopping", "game", gameID, "reason", apperrors.CodeOf(err))
			s.Stop(gameID)
		default:
			s.logger.Warn("Auto draw failed", "game", gameID, "error", err)
		}
	}
}
