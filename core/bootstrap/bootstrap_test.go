package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/botstarter/core/config"
	coredatabase "github.com/m3rciful/botstarter/core/database"
)

func noLogger(*coreconfig.Config) error { return nil }

func TestRunMemorySeedsAdmins(t *testing.T) {
	ctx := context.Background()
	cfg := &coreconfig.Config{}
	cfg.Telegram.AdminIDs = []int64{10, 0, 11}

	seeded := false
	res, err := Run(ctx, Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Modules: Modules{Seeders: []Seeder{SeederFunc(func(ctx context.Context, st Storage) error {
			admin, err := st.Users.IsAdmin(ctx, 10)
			require.NoError(t, err)
			assert.True(t, admin, "config admins are seeded before custom seeders")
			seeded = true
			return nil
		})}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Close() })

	assert.True(t, seeded)
	assert.Nil(t, res.DB)
	admin, err := res.Users.IsAdmin(ctx, 11)
	require.NoError(t, err)
	assert.True(t, admin)
	require.NotNil(t, res.Medias)
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()

	_, err := Run(ctx, Options{})
	assert.Error(t, err)

	boom := errors.New("boom")
	_, err = Run(ctx, Options{Config: &coreconfig.Config{}, LoggerInit: func(*coreconfig.Config) error { return boom }})
	assert.ErrorIs(t, err, boom)

	_, err = Run(ctx, Options{
		Config:     &coreconfig.Config{},
		LoggerInit: noLogger,
		Database:   coredatabase.Config{Driver: "mysql"},
	})
	assert.Error(t, err)

	_, err = Run(ctx, Options{
		Config:     &coreconfig.Config{},
		LoggerInit: noLogger,
		Modules: Modules{Seeders: []Seeder{SeederFunc(func(context.Context, Storage) error {
			return boom
		})}},
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := &coreconfig.Config{}
	cfg.Telegram.AdminIDs = []int64{42}

	res, err := Run(ctx, Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Database: coredatabase.Config{
			Driver:     coredatabase.DriverSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "bot.db"),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Close() })

	require.NotNil(t, res.DB)
	u, err := res.Users.FindByID(ctx, 42)
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)
}
