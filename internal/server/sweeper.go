package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/pazarglobal/assistant/internal/store"
)

// Sweeper reverts drafts abandoned in pending_publish back to in_progress so
// they become editable again. Confirm handlers also revert on expiry; the
// sweeper catches sessions that simply went silent.
type Sweeper struct {
	Store          *store.Store
	Rdb            *redis.Client
	Cron           string
	ConfirmTimeout time.Duration
	Logger         *log.Logger
	Stop           chan struct{}
}

func (s *Sweeper) Start() {
	ticker := time.NewTicker(time.Minute)
	var last time.Time
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				if !isDue(s.Cron, last) {
					continue
				}
				last = time.Now()
				s.sweep()
			}
		}
	}()
}

func (s *Sweeper) sweep() {
	ctx := context.Background()

	// Distributed lock so only one replica sweeps per window.
	if s.Rdb != nil {
		ok, _ := s.Rdb.SetNX(ctx, "sweep:lock", "1", 2*time.Minute).Result()
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, "sweep:lock")
	}

	cutoff := time.Now().Add(-s.ConfirmTimeout)
	stale, err := s.Store.ListStalePendingDrafts(ctx, cutoff)
	if err != nil {
		s.Logger.Printf("listing stale pending drafts: %v", err)
		return
	}
	for _, d := range stale {
		if _, err := s.Store.TransitionDraftStatus(ctx, d.ID, d.Version,
			store.DraftStatusPendingPublish, store.DraftStatusInProgress); err != nil {
			// Lost the race with a confirm or another sweep. Skip.
			s.Logger.Printf("revert of stale draft %s skipped: %v", d.ID, err)
			continue
		}
		s.Logger.Printf("reverted stale pending draft %s to in_progress", d.ID)
	}
}

// isDue reports whether the schedule fires between last and now.
// Supports "@hourly", "@daily", and standard cron expressions.
func isDue(cronSpec string, last time.Time) bool {
	now := time.Now()
	if last.IsZero() {
		return true
	}
	switch cronSpec {
	case "@hourly":
		return now.Sub(last) >= time.Hour
	case "@daily":
		return now.Sub(last) >= 24*time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			return now.Sub(last) >= time.Hour
		}
		return !expr.Next(last).After(now)
	}
}
