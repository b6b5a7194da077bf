// Package helpers bridges telebot contexts to the context.Context used by the
// dispatcher, the transport and the logger.
package helpers

import (
	"context"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botstarter/core/logger"
)

const (
	contextKey = "logger_ctx"
	ridKey     = "rid"
)

type countersKey struct{}

// Counters tracks what handlers sent while processing one update.
type Counters struct {
	messages atomic.Int32
	keyboard atomic.Bool
}

// StoreContext attaches ctx to c for downstream helpers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c == nil || ctx == nil {
		return
	}
	c.Set(contextKey, ctx)
}

// ContextFrom returns the context previously stored on c.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	ctx, ok := c.Get(contextKey).(context.Context)
	return ctx, ok && ctx != nil
}

// BuildContext returns the stored context of c, creating one carrying the rid,
// update metadata and send counters on first use.
func BuildContext(c tele.Context) context.Context {
	if cached, ok := ContextFrom(c); ok {
		return cached
	}

	upd := c.Update()
	var chatID, userID int64
	if chat := c.Chat(); chat != nil {
		chatID = chat.ID
	}
	if user := c.Sender(); user != nil {
		userID = user.ID
	}

	rid, _ := c.Get(ridKey).(string)
	if rid == "" {
		rid = logger.BuildRID(upd.ID, chatID, userID)
		c.Set(ridKey, rid)
	}

	ctx := logger.WithRID(context.Background(), rid)
	ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
	ctx = WithCounters(ctx)
	StoreContext(c, ctx)
	return ctx
}

// WithHandler enriches the stored context with the handler name.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler == "" {
		return ctx
	}
	ctx = logger.WithHandler(ctx, handler)
	StoreContext(c, ctx)
	return ctx
}

// WithCounters attaches fresh send counters to ctx.
func WithCounters(ctx context.Context) context.Context {
	return context.WithValue(ctx, countersKey{}, &Counters{})
}

// CountMessage records one outgoing message; kb marks that it carried a keyboard.
// It is a no-op when ctx has no counters.
func CountMessage(ctx context.Context, kb bool) {
	if ctx == nil {
		return
	}
	cnt, ok := ctx.Value(countersKey{}).(*Counters)
	if !ok {
		return
	}
	cnt.messages.Add(1)
	if kb {
		cnt.keyboard.Store(true)
	}
}

// CountersFrom returns the number of messages sent and whether any had a keyboard.
func CountersFrom(ctx context.Context) (int, bool) {
	if ctx == nil {
		return 0, false
	}
	cnt, ok := ctx.Value(countersKey{}).(*Counters)
	if !ok {
		return 0, false
	}
	return int(cnt.messages.Load()), cnt.keyboard.Load()
}
