package middleware

import (
	"log/slog"
	"runtime/debug"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botstarter/core/logger"
	"github.com/m3rciful/botstarter/core/metrics"
	tghelpers "github.com/m3rciful/botstarter/core/telegram/helpers"
)

// RecoverMiddleware catches panics in handlers and prevents the bot from crashing.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		defer func() {
			if r := recover(); r != nil {
				metrics.PanicsTotal.Inc()
				logger.Error(tghelpers.BuildContext(c), logger.CompMiddleware, "panic",
					slog.Any("err", r),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		return next(c)
	}
}
