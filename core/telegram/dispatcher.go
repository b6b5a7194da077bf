package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/botstarter/core/logger"
	"github.com/m3rciful/botstarter/core/metrics"
	"github.com/m3rciful/botstarter/core/storage"
	"github.com/m3rciful/botstarter/core/telegram/callbacks"
	"github.com/m3rciful/botstarter/core/telegram/events"
	"github.com/m3rciful/botstarter/core/telegram/state"
)

var (
	// ErrUnauthorized marks a denied admin-only route. The dispatcher handles
	// it itself; it only shows up in logs.
	ErrUnauthorized = errors.New("telegram: unauthorized")
	// ErrNotInitialized is returned when a component is used without its collaborators.
	ErrNotInitialized = errors.New("telegram: not initialized")
)

// unsupportedAction is the answer shown for callbacks no route claims.
const unsupportedAction = "Unsupported action"

// Acknowledger is the part of the transport the dispatcher needs for callbacks.
type Acknowledger interface {
	AnswerCallback(ctx context.Context, cb *events.Callback, text string, alert bool) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// DispatcherOptions wires a Dispatcher.
type DispatcherOptions struct {
	Registry *Registry
	Sessions *state.Manager
	Ack      Acknowledger
}

// Dispatcher routes every inbound text message and callback to exactly one handler.
// Updates from the same sender are handled one at a time, so a pending wait
// is consumed once even when telebot runs handlers concurrently.
type Dispatcher struct {
	registry *Registry
	sessions *state.Manager
	ack      Acknowledger
	locks    senderLocks
}

type senderLock struct {
	mu   sync.Mutex
	refs int
}

// senderLocks hands out one mutex per sender id and forgets it once unused.
type senderLocks struct {
	mu    sync.Mutex
	locks map[int64]*senderLock
}

func (s *senderLocks) lock(id int64) (unlock func()) {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[int64]*senderLock)
	}
	l, ok := s.locks[id]
	if !ok {
		l = &senderLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// NewDispatcher validates opts. Registry and session manager must share one separator.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Registry == nil || opts.Sessions == nil || opts.Ack == nil {
		return nil, fmt.Errorf("%w: dispatcher needs registry, sessions and acknowledger", ErrNotInitialized)
	}
	if opts.Registry.Codec().Separator() != opts.Sessions.Codec().Separator() {
		return nil, fmt.Errorf("%w: registry and sessions use different separators", callbacks.ErrInvalidSeparator)
	}
	return &Dispatcher{registry: opts.Registry, sessions: opts.Sessions, ack: opts.Ack}, nil
}

// Registry returns the registry the dispatcher routes with.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

type textRouteKind int

const (
	routeCatchAll textRouteKind = iota
	routeCommand
	routeFilter
)

type textRoute struct {
	kind      textRouteKind
	name      string
	handler   events.TextHandler
	adminOnly bool
}

// selectText picks the command named by msg, else the first matching filter,
// else the catch-all. The catch-all is never a registered route, so
// registration order cannot shadow specific routes.
func (d *Dispatcher) selectText(msg *events.Message) textRoute {
	if name, _, ok := msg.Command(); ok {
		if canonical, cmd, found := d.registry.LookupCommand(name); found {
			return textRoute{kind: routeCommand, name: canonical, handler: cmd.Handler, adminOnly: cmd.AdminOnly}
		}
	}
	if f, ok := d.registry.matchFilter(msg); ok {
		return textRoute{kind: routeFilter, name: f.name, handler: f.handler, adminOnly: f.adminOnly}
	}
	return textRoute{kind: routeCatchAll, name: "catch_all"}
}

// HandleText processes one text message:
//   - messages from bots are discarded;
//   - the sender is loaded or created;
//   - any pending reply-wait is consumed, whichever route runs next;
//   - exactly one of command, filter or catch-all handles the message.
//
// The catch-all hands a pending token to the reply handler registered for its
// action and silently drops tokens whose action has no handler.
func (d *Dispatcher) HandleText(ctx context.Context, msg *events.Message) (err error) {
	if msg == nil {
		return nil
	}
	start := time.Now()
	outcome := metrics.OutcomeHandled
	defer func() {
		if err != nil {
			outcome = metrics.OutcomeError
		}
		metrics.RecordDispatch(metrics.KindText, outcome, time.Since(start))
	}()

	if msg.Sender.IsBot {
		outcome = metrics.OutcomeBot
		logger.Debug(ctx, logger.CompDispatch, "text.bot_discarded",
			slog.Int64("user_id", msg.Sender.ID),
		)
		return nil
	}

	unlock := d.locks.lock(msg.Sender.ID)
	defer unlock()

	user, _, err := d.sessions.EnsureUser(ctx, msg.Sender.Profile())
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	pending, err := d.sessions.Take(ctx, user)
	if err != nil {
		return err
	}

	route := d.selectText(msg)
	ctx = logger.WithHandler(ctx, route.name)
	if route.adminOnly && !user.IsAdmin {
		outcome = metrics.OutcomeDenied
		logger.Warn(ctx, logger.CompDispatch, "text.denied",
			slog.String("status", "denied"),
			slog.Any("err", ErrUnauthorized),
		)
		return nil
	}

	if route.kind != routeCatchAll {
		return route.handler(ctx, msg, user, pending)
	}
	outcome, err = d.catchAll(ctx, msg, user, pending)
	return err
}

func (d *Dispatcher) catchAll(ctx context.Context, msg *events.Message, user *storage.User, pending *callbacks.Token) (string, error) {
	if pending != nil {
		ctx = logger.WithAction(ctx, pending.Action)
		h, ok := d.registry.ResolveReplyHandler(pending.Action)
		if !ok {
			logger.Info(ctx, logger.CompDispatch, "text.pending_dropped",
				slog.String("status", "skip"),
				slog.String("pending", pending.Action),
			)
			return metrics.OutcomeDropped, nil
		}
		return metrics.OutcomeReply, h(ctx, msg, user, pending.Params)
	}
	if fb := d.registry.TextFallback(); fb != nil {
		return metrics.OutcomeFallback, fb(ctx, msg, user, nil)
	}
	return metrics.OutcomeDropped, nil
}

// HandleCallback processes one button press:
//   - the payload is decoded and its action resolved; unknown actions go to
//     the not-found handler;
//   - a non-admin pressing an admin-only button gets a silent answer and the
//     originating message is deleted;
//   - otherwise the stored sender (nil when unknown) is loaded, the callback
//     is answered and the handler runs with the decoded params.
func (d *Dispatcher) HandleCallback(ctx context.Context, cb *events.Callback) (err error) {
	if cb == nil {
		return nil
	}
	start := time.Now()
	outcome := metrics.OutcomeHandled
	defer func() {
		if err != nil {
			outcome = metrics.OutcomeError
		}
		metrics.RecordDispatch(metrics.KindCallback, outcome, time.Since(start))
	}()

	unlock := d.locks.lock(cb.Sender.ID)
	defer unlock()

	tok, err := d.registry.Codec().Unpack(cb.Data)
	if err != nil {
		// answer anyway so the client stops its spinner; the decode error is the one reported
		if ackErr := d.ack.AnswerCallback(ctx, cb, "", false); ackErr != nil {
			logger.Warn(ctx, logger.CompDispatch, "callback.answer_failed",
				slog.String("status", "fail"),
				slog.Any("err", ackErr),
			)
		}
		return fmt.Errorf("decode callback %q: %w", logger.SanitizeLimit(cb.Data, 64), err)
	}
	ctx = logger.WithAction(ctx, tok.Action)

	route, ok := d.registry.ResolveButton(tok.Action)
	if !ok {
		outcome = metrics.OutcomeNotFound
		logger.Info(ctx, logger.CompDispatch, "callback.not_found",
			slog.String("status", "skip"),
		)
		if h := d.registry.CallbackNotFound(); h != nil {
			return h(ctx, cb)
		}
		return d.ack.AnswerCallback(ctx, cb, unsupportedAction, false)
	}

	users := d.sessions.Users()
	if route.AdminOnly {
		admin, err := users.IsAdmin(ctx, cb.Sender.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if !admin {
			outcome = metrics.OutcomeDenied
			return d.deny(ctx, cb)
		}
	}

	user, err := users.FindByID(ctx, cb.Sender.ID)
	if errors.Is(err, storage.ErrNotFound) {
		user, err = nil, nil
	}
	if err != nil {
		return err
	}
	if err := d.ack.AnswerCallback(ctx, cb, "", false); err != nil {
		return err
	}
	return route.Handler(ctx, cb, user, tok.Params)
}

func (d *Dispatcher) deny(ctx context.Context, cb *events.Callback) error {
	logger.Warn(ctx, logger.CompDispatch, "callback.denied",
		slog.String("status", "denied"),
		slog.Int64("user_id", cb.Sender.ID),
		slog.Any("err", ErrUnauthorized),
	)
	if err := d.ack.AnswerCallback(ctx, cb, "", false); err != nil {
		return err
	}
	if cb.Message == nil || cb.Message.ID == 0 {
		return nil
	}
	return d.ack.DeleteMessage(ctx, cb.Message.ChatID, cb.Message.ID)
}
