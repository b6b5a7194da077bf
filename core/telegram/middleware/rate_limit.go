package middleware

import (
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botstarter/core/logger"
	"github.com/m3rciful/botstarter/core/metrics"
	tghelpers "github.com/m3rciful/botstarter/core/telegram/helpers"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval  time.Duration
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
}

// pruneEvery bounds how often stale entries are swept from the last-seen map.
const pruneEvery = time.Minute

// RateLimitMiddleware drops updates arriving from the same user faster than
// opts.Interval. Excluded update kinds always pass.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	var (
		mu        sync.Mutex
		lastSeen  = make(map[int64]time.Time)
		lastPrune = time.Now()
	)
	allow := func(userID int64, now time.Time) bool {
		mu.Lock()
		defer mu.Unlock()
		if now.Sub(lastPrune) > pruneEvery {
			for id, ts := range lastSeen {
				if now.Sub(ts) > opts.Interval {
					delete(lastSeen, id)
				}
			}
			lastPrune = now
		}
		if last, ok := lastSeen[userID]; ok && now.Sub(last) < opts.Interval {
			return false
		}
		lastSeen[userID] = now
		return true
	}

	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			kind := UpdateKind(c)
			if _, skip := opts.Exclude[kind]; skip {
				return next(c)
			}
			if allow(user.ID, time.Now()) {
				return next(c)
			}

			metrics.RateLimited.WithLabelValues(kind).Inc()
			logger.Warn(tghelpers.BuildContext(c), logger.CompMiddleware, "rate_limited",
				slog.String("status", "rate_limited"),
				slog.String("kind", kind),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}
