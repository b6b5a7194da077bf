package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botstarter/core/logger"
	"github.com/m3rciful/botstarter/core/telegram/callbacks"
	"github.com/m3rciful/botstarter/core/telegram/commands"
	"github.com/m3rciful/botstarter/core/telegram/events"
)

// ErrRegistryFrozen is returned by registrations made after Freeze.
var ErrRegistryFrozen = errors.New("telegram: registry is frozen")

// ButtonRoute binds a callback action to its handler.
type ButtonRoute struct {
	Action    string
	Handler   events.ButtonHandler
	AdminOnly bool
}

// FilterFunc selects text messages for a filter route.
type FilterFunc func(msg *events.Message) bool

type filterRoute struct {
	name      string
	match     FilterFunc
	handler   events.TextHandler
	adminOnly bool
}

// Registry holds every handler binding of a bot. It is populated during setup
// and frozen before updates are processed; lookups are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	codec  *callbacks.Codec
	frozen bool

	commands map[string]commands.Command
	aliases  map[string]string
	filters  []filterRoute
	replies  map[string]events.ReplyHandler
	buttons  map[string]ButtonRoute

	textFallback     events.TextHandler
	callbackNotFound events.CallbackHandler
}

// NewRegistry creates an empty Registry whose action names are validated
// against codec. A nil codec selects the default separator.
func NewRegistry(codec *callbacks.Codec) *Registry {
	if codec == nil {
		codec = callbacks.MustCodec(callbacks.DefaultSeparator)
	}
	return &Registry{
		codec:    codec,
		commands: make(map[string]commands.Command),
		aliases:  make(map[string]string),
		replies:  make(map[string]events.ReplyHandler),
		buttons:  make(map[string]ButtonRoute),
	}
}

// Codec returns the codec that button payloads are packed with.
func (r *Registry) Codec() *callbacks.Codec {
	return r.codec
}

// Freeze ends registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) rejectFrozen(kind, name string) error {
	if !r.frozen {
		return nil
	}
	logger.Warn(context.Background(), logger.CompRegistry, "register."+kind+".skip",
		slog.String("name", name),
		slog.String("reason", "frozen"),
	)
	return fmt.Errorf("%w: %s %q", ErrRegistryFrozen, kind, name)
}

// RegisterCommand adds a slash command. A missing leading slash is added.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) error {
	name = normalizeCommand(name)
	if name == "/" || cmd.Handler == nil || cmd.Description == "" {
		logger.Warn(context.Background(), logger.CompRegistry, "register.command.skip",
			slog.String("name", name),
			slog.String("reason", "invalid"),
		)
		return fmt.Errorf("invalid command registration %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.rejectFrozen("command", name); err != nil {
		return err
	}
	if _, exists := r.commands[name]; exists {
		logger.Warn(context.Background(), logger.CompRegistry, "register.command.duplicate",
			slog.String("name", name),
		)
		return fmt.Errorf("command already registered: %s", name)
	}
	if owner, exists := r.aliases[name]; exists {
		return fmt.Errorf("command %s collides with alias of %s", name, owner)
	}
	for _, alias := range cmd.Aliases {
		alias = normalizeCommand(alias)
		if _, exists := r.commands[alias]; exists {
			return fmt.Errorf("alias %s of %s collides with a command", alias, name)
		}
		if owner, exists := r.aliases[alias]; exists {
			return fmt.Errorf("alias %s of %s already used by %s", alias, name, owner)
		}
	}
	for _, alias := range cmd.Aliases {
		r.aliases[normalizeCommand(alias)] = name
	}
	r.commands[name] = cmd
	return nil
}

// LookupCommand resolves a command by name or alias and returns its canonical name.
func (r *Registry) LookupCommand(name string) (string, commands.Command, bool) {
	name = normalizeCommand(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cmd, ok := r.commands[name]; ok {
		return name, cmd, true
	}
	if owner, ok := r.aliases[name]; ok {
		return owner, r.commands[owner], true
	}
	return "", commands.Command{}, false
}

// ListCommands returns commands sorted by name, optionally without hidden and admin-only ones.
func (r *Registry) ListCommands(visibleOnly bool) []tele.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]tele.Command, 0, len(r.commands))
	for name, meta := range r.commands {
		if visibleOnly && (meta.Hidden || meta.AdminOnly) {
			continue
		}
		list = append(list, tele.Command{Text: strings.TrimPrefix(name, "/"), Description: meta.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

// RegisterFilter adds a text route selected by match. Filters are tried in
// registration order after commands and before the catch-all.
func (r *Registry) RegisterFilter(name string, match FilterFunc, h events.TextHandler, adminOnly bool) error {
	if name == "" || match == nil || h == nil {
		return fmt.Errorf("invalid filter registration %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.rejectFrozen("filter", name); err != nil {
		return err
	}
	for _, f := range r.filters {
		if f.name == name {
			return fmt.Errorf("filter already registered: %s", name)
		}
	}
	r.filters = append(r.filters, filterRoute{name: name, match: match, handler: h, adminOnly: adminOnly})
	return nil
}

// matchFilter returns the first filter accepting msg.
func (r *Registry) matchFilter(msg *events.Message) (filterRoute, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.filters {
		if f.match(msg) {
			return f, true
		}
	}
	return filterRoute{}, false
}

// RegisterReplyHandler binds a reply-wait action. A later registration for
// the same action replaces the earlier one.
func (r *Registry) RegisterReplyHandler(action string, h events.ReplyHandler) error {
	if h == nil {
		return fmt.Errorf("nil reply handler for %q", action)
	}
	if err := r.codec.CheckAction(action); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.rejectFrozen("reply", action); err != nil {
		return err
	}
	if _, exists := r.replies[action]; exists {
		logger.Info(context.Background(), logger.CompRegistry, "register.reply.replace",
			slog.String("action", action),
		)
	}
	r.replies[action] = h
	return nil
}

// ResolveReplyHandler returns the reply handler bound to action.
func (r *Registry) ResolveReplyHandler(action string) (events.ReplyHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.replies[action]
	return h, ok
}

// RegisterButton binds a callback action. The action must be packable by the
// registry codec and not registered yet.
func (r *Registry) RegisterButton(action string, h events.ButtonHandler, adminOnly bool) error {
	if h == nil {
		return fmt.Errorf("nil button handler for %q", action)
	}
	if err := r.codec.CheckAction(action); err != nil {
		logger.Warn(context.Background(), logger.CompRegistry, "register.button.skip",
			slog.String("action", action),
			slog.Any("err", err),
		)
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.rejectFrozen("button", action); err != nil {
		return err
	}
	if _, exists := r.buttons[action]; exists {
		logger.Warn(context.Background(), logger.CompRegistry, "register.button.duplicate",
			slog.String("action", action),
		)
		return fmt.Errorf("button already registered: %s", action)
	}
	r.buttons[action] = ButtonRoute{Action: action, Handler: h, AdminOnly: adminOnly}
	return nil
}

// ResolveButton returns the route bound to a decoded callback action.
func (r *Registry) ResolveButton(action string) (ButtonRoute, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.buttons[action]
	return route, ok
}

// ListButtons returns sorted button actions (for diagnostics).
func (r *Registry) ListButtons() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.buttons))
	for k := range r.buttons {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// SetTextFallback sets the handler for plain text when no command or filter
// matches and nothing is pending.
func (r *Registry) SetTextFallback(h events.TextHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.rejectFrozen("text_fallback", "catch_all"); err != nil {
		return err
	}
	r.textFallback = h
	return nil
}

// TextFallback returns the current text fallback handler.
func (r *Registry) TextFallback() events.TextHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.textFallback
}

// SetCallbackNotFound replaces the handler for callbacks with an unknown
// action. A nil h keeps the current one.
func (r *Registry) SetCallbackNotFound(h events.CallbackHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.rejectFrozen("callback_not_found", "not_found"); err != nil {
		return err
	}
	if h != nil {
		r.callbackNotFound = h
	}
	return nil
}

// CallbackNotFound returns the handler for unknown callbacks, or nil for the default.
func (r *Registry) CallbackNotFound() events.CallbackHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callbackNotFound
}

func normalizeCommand(name string) string {
	name = strings.TrimSpace(name)
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name
}
