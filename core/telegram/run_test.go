package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/botstarter/core/config"
	"github.com/m3rciful/botstarter/core/storage"
	"github.com/m3rciful/botstarter/core/telegram/callbacks"
	"github.com/m3rciful/botstarter/core/telegram/commands"
)

func testConfig() *coreconfig.Config {
	cfg := &coreconfig.Config{}
	cfg.Callbacks.Separator = "||"
	cfg.Transport.TimeoutSeconds = 3
	cfg.Transport.RetryIncreaseSeconds = 4
	cfg.Transport.RetryPauseMS = 500
	return cfg
}

func TestPolicyFrom(t *testing.T) {
	p := PolicyFrom(testConfig())
	assert.Equal(t, 3*time.Second, p.Timeout)
	assert.Equal(t, 4*time.Second, p.Increase)
	assert.Equal(t, 500*time.Millisecond, p.Pause)
}

func TestNewRuntimeRunsSetupAndFreezes(t *testing.T) {
	store := storage.NewMemoryStore()
	rt, err := NewRuntime(context.Background(), &fakeAPI{}, RunOptions{
		Config: testConfig(),
		Users:  store,
		Setup: func(_ context.Context, rt Runtime) error {
			return rt.Registry.RegisterCommand("/start", commands.Command{Handler: noopText, Description: "Start"})
		},
	})
	require.NoError(t, err)
	require.NotNil(t, rt.Dispatcher)
	assert.Equal(t, "||", rt.Registry.Codec().Separator())
	assert.Same(t, rt.Registry, rt.Dispatcher.Registry())

	_, _, ok := rt.Registry.LookupCommand("start")
	assert.True(t, ok)
	assert.ErrorIs(t, rt.Registry.RegisterButton("late", noopButton, false), ErrRegistryFrozen)
}

func TestNewRuntimeErrors(t *testing.T) {
	_, err := NewRuntime(context.Background(), &fakeAPI{}, RunOptions{})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Callbacks.Separator = "-"
	_, err = NewRuntime(context.Background(), &fakeAPI{}, RunOptions{Config: cfg})
	assert.ErrorIs(t, err, callbacks.ErrInvalidSeparator)

	_, err = NewRuntime(context.Background(), &fakeAPI{}, RunOptions{
		Config:   testConfig(),
		Registry: NewRegistry(callbacks.MustCodec("::")),
	})
	assert.ErrorIs(t, err, callbacks.ErrInvalidSeparator, "registry and sessions must share a separator")

	boom := errors.New("boom")
	_, err = NewRuntime(context.Background(), &fakeAPI{}, RunOptions{
		Config: testConfig(),
		Setup:  func(context.Context, Runtime) error { return boom },
	})
	assert.ErrorIs(t, err, boom)
}

func TestDefaultMiddlewares(t *testing.T) {
	names := func(mws []Middleware) []string {
		out := make([]string, 0, len(mws))
		for _, mw := range mws {
			out = append(out, mw.Name)
		}
		return out
	}
	assert.Equal(t, []string{"logger", "recover", "metrics"}, names(DefaultMiddlewares(nil, nil)))

	cfg := testConfig()
	cfg.RateLimit.IntervalMS = 500
	cfg.RateLimit.ExcludeUpdates = []string{"callback"}
	assert.Equal(t, []string{"logger", "recover", "metrics", "rate_limit"}, names(DefaultMiddlewares(cfg, nil)))
}
