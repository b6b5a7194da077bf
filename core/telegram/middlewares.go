package telegram

import (
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/botstarter/core/config"
	"github.com/m3rciful/botstarter/core/telegram/middleware"
)

// Middleware describes a global bot middleware to be registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// DefaultMiddlewares builds the shared middleware chain for bots:
// logger first so every later stage sees the update context, then panic
// recovery, metrics and the optional per-user rate limit.
func DefaultMiddlewares(cfg *coreconfig.Config, onLimited func(tele.Context) error) []Middleware {
	mws := []Middleware{
		{Name: "logger", Use: middleware.LoggerMiddleware},
		{Name: "recover", Use: middleware.RecoverMiddleware},
		{Name: "metrics", Use: middleware.MetricsMiddleware},
	}

	if cfg == nil {
		return mws
	}
	interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond
	if interval <= 0 {
		return mws
	}
	ex := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
	for _, t := range cfg.RateLimit.ExcludeUpdates {
		ex[strings.ToLower(t)] = struct{}{}
	}
	return append(mws, Middleware{
		Name: "rate_limit",
		Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
			Interval:  interval,
			Exclude:   ex,
			OnLimited: onLimited,
		}),
	})
}
