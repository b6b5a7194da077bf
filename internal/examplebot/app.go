package examplebot

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botstarter/core/bootstrap"
	"github.com/m3rciful/botstarter/core/cmd"
	coreconfig "github.com/m3rciful/botstarter/core/config"
	coredatabase "github.com/m3rciful/botstarter/core/database"
	"github.com/m3rciful/botstarter/core/telegram"
)

// Config is the example bot configuration: the core sections plus storage
// and a few bot specific settings.
type Config struct {
	coreconfig.Config `yaml:",inline"`
	Database          coredatabase.Config `yaml:"database"`
	Bot               BotConfig           `yaml:"bot"`
}

// BotConfig holds settings of the example routes.
type BotConfig struct {
	WelcomePhoto string `yaml:"welcome_photo" envconfig:"BOT_WELCOME_PHOTO"`
	Venue        Venue  `yaml:"venue"`
}

// LoadConfig reads and validates the configuration at path.
func LoadConfig(path string) (cmd.ConfigCarrier, error) {
	var cfg Config
	if err := coreconfig.LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return nil, err
	}
	if err := cfg.Database.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// App is the bootstrapped example bot.
type App struct {
	cfg   *Config
	infra *bootstrap.Result
}

// Bootstrap opens storage and seeds admins for the loaded configuration.
func Bootstrap(ctx context.Context, carrier cmd.ConfigCarrier) (cmd.TelegramApp, error) {
	cfg, ok := carrier.(*Config)
	if !ok {
		return nil, fmt.Errorf("examplebot: unexpected config type %T", carrier)
	}
	res, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:   &cfg.Config,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, infra: res}, nil
}

// TelegramRunOptions wires the handlers into the core runtime.
func (a *App) TelegramRunOptions() (telegram.RunOptions, error) {
	return telegram.RunOptions{
		Config: &a.cfg.Config,
		Users:  a.infra.Users,
		Medias: a.infra.Medias,
		Middlewares: telegram.DefaultMiddlewares(&a.cfg.Config, func(c tele.Context) error {
			if c.Callback() != nil {
				return c.Respond(&tele.CallbackResponse{Text: "Slow down a little."})
			}
			return nil
		}),
		Setup: func(_ context.Context, rt telegram.Runtime) error {
			h := NewHandlers(HandlersOptions{
				Sender:       rt.Bot,
				Sessions:     rt.Sessions,
				WelcomePhoto: a.cfg.Bot.WelcomePhoto,
				Venue:        a.cfg.Bot.Venue,
			})
			return h.Register(rt.Registry)
		},
		OnStop: func(context.Context, telegram.Runtime) error {
			return a.infra.Close()
		},
	}, nil
}
