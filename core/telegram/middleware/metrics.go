package middleware

import (
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botstarter/core/config"
	"github.com/m3rciful/botstarter/core/metrics"
)

// UpdateKind classifies an update using the rate limit exclusion names.
func UpdateKind(c tele.Context) string {
	upd := c.Update()
	switch {
	case upd.Callback != nil:
		return config.UpdateCallback
	case upd.Message != nil:
		return config.UpdateMessage
	}
	return metrics.KindOther
}

// MetricsMiddleware counts received updates by kind.
func MetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		metrics.UpdatesTotal.WithLabelValues(UpdateKind(c)).Inc()
		return next(c)
	}
}
