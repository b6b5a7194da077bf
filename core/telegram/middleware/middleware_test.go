package middleware

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botstarter/core/config"
	"github.com/m3rciful/botstarter/core/metrics"
	tghelpers "github.com/m3rciful/botstarter/core/telegram/helpers"
)

func offlineBot(t *testing.T) *tele.Bot {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Offline: true})
	require.NoError(t, err)
	return b
}

func messageUpdate(id int, userID int64) tele.Update {
	return tele.Update{ID: id, Message: &tele.Message{
		Sender: &tele.User{ID: userID},
		Chat:   &tele.Chat{ID: userID},
		Text:   "hi",
	}}
}

func callbackUpdate(id int, userID int64) tele.Update {
	return tele.Update{ID: id, Callback: &tele.Callback{
		ID:     "cb",
		Sender: &tele.User{ID: userID},
		Data:   "mood::ok",
	}}
}

func TestUpdateKind(t *testing.T) {
	b := offlineBot(t)
	assert.Equal(t, config.UpdateMessage, UpdateKind(b.NewContext(messageUpdate(1, 1))))
	assert.Equal(t, config.UpdateCallback, UpdateKind(b.NewContext(callbackUpdate(2, 1))))
	assert.Equal(t, metrics.KindOther, UpdateKind(b.NewContext(tele.Update{ID: 3})))
}

func TestRateLimitDropsBurstsPerUser(t *testing.T) {
	b := offlineBot(t)
	limited := 0
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Exclude:  map[string]struct{}{config.UpdateCallback: {}},
		OnLimited: func(tele.Context) error {
			limited++
			return nil
		},
	})
	handled := 0
	h := mw(func(tele.Context) error {
		handled++
		return nil
	})

	require.NoError(t, h(b.NewContext(messageUpdate(1, 10))))
	require.NoError(t, h(b.NewContext(messageUpdate(2, 10))))
	require.NoError(t, h(b.NewContext(messageUpdate(3, 11))))
	require.NoError(t, h(b.NewContext(callbackUpdate(4, 10))))

	assert.Equal(t, 3, handled)
	assert.Equal(t, 1, limited)
}

func TestRecoverMiddlewareSwallowsPanics(t *testing.T) {
	b := offlineBot(t)
	before := testutil.ToFloat64(metrics.PanicsTotal)
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })

	assert.NotPanics(t, func() { _ = h(b.NewContext(messageUpdate(1, 1))) })
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.PanicsTotal))
}

func TestLoggerMiddlewareStoresContext(t *testing.T) {
	b := offlineBot(t)
	c := b.NewContext(messageUpdate(5, 6))
	h := LoggerMiddleware(func(c tele.Context) error {
		ctx, ok := tghelpers.ContextFrom(c)
		require.True(t, ok)
		msgs, _ := tghelpers.CountersFrom(ctx)
		assert.Zero(t, msgs)
		return nil
	})
	require.NoError(t, h(c))
}

func TestMetricsMiddlewareCountsUpdates(t *testing.T) {
	b := offlineBot(t)
	counter := metrics.UpdatesTotal.WithLabelValues(config.UpdateCallback)
	before := testutil.ToFloat64(counter)

	h := MetricsMiddleware(func(tele.Context) error { return nil })
	require.NoError(t, h(b.NewContext(callbackUpdate(1, 1))))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
