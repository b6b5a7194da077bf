package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/botstarter/core/config"
	"github.com/m3rciful/botstarter/core/logger"
	"github.com/m3rciful/botstarter/core/storage"
	"github.com/m3rciful/botstarter/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/botstarter/core/telegram/helpers"
	"github.com/m3rciful/botstarter/core/telegram/netutil"
	"github.com/m3rciful/botstarter/core/telegram/state"
)

// RunOptions controls the behaviour of RunTelegram.
type RunOptions struct {
	Config *coreconfig.Config
	// Registry is created from the configured separator when nil.
	Registry *Registry

	// Users persists users and their pending reply-waits. Medias caches
	// uploaded file ids. An in-memory store backs whichever is nil.
	Users  storage.UserStore
	Medias storage.MediaStore

	Middlewares []Middleware
	// Routes are bound in addition to the dispatcher routes, e.g. for photos.
	Routes []Route

	DisableWebhookCleanup bool

	// Setup registers commands, filters, reply handlers and buttons. The
	// registry is frozen once it returns.
	Setup   func(ctx context.Context, rt Runtime) error
	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes runtime components to lifecycle hooks.
type Runtime struct {
	Bot        *Bot
	Registry   *Registry
	Sessions   *state.Manager
	Dispatcher *Dispatcher
}

// PolicyFrom maps the transport configuration onto a retry policy.
func PolicyFrom(cfg *coreconfig.Config) netutil.Policy {
	return netutil.Policy{
		Timeout:  time.Duration(cfg.Transport.TimeoutSeconds) * time.Second,
		Increase: time.Duration(cfg.Transport.RetryIncreaseSeconds) * time.Second,
		Pause:    time.Duration(cfg.Transport.RetryPauseMS) * time.Millisecond,
	}
}

// NewRuntime wires registry, sessions, the sending façade and the dispatcher
// around api, runs opts.Setup and freezes the registry.
func NewRuntime(ctx context.Context, api API, opts RunOptions) (Runtime, error) {
	if opts.Config == nil {
		return Runtime{}, fmt.Errorf("telegram: nil config provided")
	}
	cfg := opts.Config

	codec, err := callbacks.NewCodec(cfg.Callbacks.Separator)
	if err != nil {
		return Runtime{}, err
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry(codec)
	}

	users, medias := opts.Users, opts.Medias
	if users == nil || medias == nil {
		mem := storage.NewMemoryStore()
		if users == nil {
			users = mem
		}
		if medias == nil {
			medias = mem.Medias()
		}
	}

	bot, err := NewBot(BotOptions{
		API:       api,
		Policy:    PolicyFrom(cfg),
		ParseMode: tele.ParseMode(cfg.Telegram.ParseMode),
		Medias:    medias,
	})
	if err != nil {
		return Runtime{}, err
	}
	sessions := state.NewManager(users, codec)
	dispatcher, err := NewDispatcher(DispatcherOptions{Registry: reg, Sessions: sessions, Ack: bot})
	if err != nil {
		return Runtime{}, err
	}

	rt := Runtime{Bot: bot, Registry: reg, Sessions: sessions, Dispatcher: dispatcher}
	if opts.Setup != nil {
		if err := opts.Setup(ctx, rt); err != nil {
			return Runtime{}, fmt.Errorf("telegram: setup: %w", err)
		}
	}
	reg.Freeze()
	logger.Info(ctx, logger.CompRegistry, "registry.frozen",
		slog.Int("commands", len(reg.ListCommands(false))),
		slog.Int("buttons", len(reg.ListButtons())),
	)
	return rt, nil
}

// RunTelegram composes and runs a Telegram bot until the provided context is done.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return fmt.Errorf("telegram: nil config provided")
	}
	cfg := opts.Config
	policy := PolicyFrom(cfg)

	poller := BuildPoller(PollerOptionsFrom(cfg))
	settings := tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: poller,
		Client: BuildHTTPClient(policy.Timeout + policy.Increase),
		OnError: func(err error, c tele.Context) {
			lctx := context.Background()
			if c != nil {
				lctx = tghelpers.BuildContext(c)
			}
			logger.Error(lctx, logger.CompDispatch, "update.failed",
				slog.String("err", logger.SanitizeLimit(netutil.Redact(err), 256)),
				slog.String("err_code", netutil.Classify(err)),
			)
		},
	}

	buildStart := time.Now()
	tb, err := tele.NewBot(settings)
	if err != nil {
		return fmt.Errorf("telegram: bot initialization failed: %s", netutil.Redact(err))
	}
	buildTook := time.Since(buildStart)

	rt, err := NewRuntime(ctx, tb, opts)
	if err != nil {
		return err
	}

	switch p := poller.(type) {
	case *tele.Webhook:
		logger.Info(ctx, logger.CompTransport, "mode",
			slog.String("mode", coreconfig.RunModeWebhook),
			slog.String("listen", p.Listen),
			slog.Duration("duration", logger.RoundMS(buildTook)),
		)
	case *tele.LongPoller:
		logger.Info(ctx, logger.CompTransport, "mode",
			slog.String("mode", coreconfig.RunModeLongpoll),
			slog.Duration("timeout", p.Timeout),
			slog.Duration("duration", logger.RoundMS(buildTook)),
		)
		if !opts.DisableWebhookCleanup {
			if err := deleteWebhook(ctx, settings.Client, cfg.Telegram.Token, false); err != nil {
				logger.Warn(ctx, logger.CompTransport, "delete_webhook",
					slog.String("status", "fail"),
					slog.String("err", netutil.Redact(err)),
				)
			} else {
				logger.Info(ctx, logger.CompTransport, "delete_webhook", slog.String("status", "ok"))
			}
		}
	}

	for _, mw := range opts.Middlewares {
		if mw.Use == nil {
			continue
		}
		tb.Use(mw.Use)
	}
	routes := append(DispatchRoutes(rt.Dispatcher), opts.Routes...)
	for _, route := range routes {
		if route.Endpoint == nil || route.Handler == nil {
			continue
		}
		tb.Handle(route.Endpoint, route.Handler)
	}

	if err := rt.Bot.SetCommands(ctx, rt.Registry.ListCommands(true)); err != nil {
		// the menu is cosmetic; the bot still works without it
		logger.Warn(ctx, logger.CompRegistry, "commands.publish",
			slog.String("status", "fail"),
			slog.String("err", netutil.Redact(err)),
		)
	}

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}

	runDone := make(chan struct{})
	go func() {
		tb.Start()
		close(runDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		tb.Stop()
		<-runDone
		runErr = ctx.Err()
	case <-runDone:
	}

	if opts.OnStop != nil {
		// ctx is already done here
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := opts.OnStop(stopCtx, rt); err != nil {
			return err
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func deleteWebhook(ctx context.Context, client *http.Client, token string, dropPending bool) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("empty token")
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/deleteWebhook", token)
	body := "drop_pending_updates=false"
	if dropPending {
		body = "drop_pending_updates=true"
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deleteWebhook status: %s", resp.Status)
	}
	return nil
}
