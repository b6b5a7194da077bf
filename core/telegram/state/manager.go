// Package state keeps per-user conversation state: the single pending
// reply-wait stored in User.WaitingOn, and creation of users on first contact.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/m3rciful/botstarter/core/logger"
	"github.com/m3rciful/botstarter/core/metrics"
	"github.com/m3rciful/botstarter/core/storage"
	"github.com/m3rciful/botstarter/core/telegram/callbacks"
)

// ErrInvalidArgument is returned for a missing user, a zero user id or a blank action.
var ErrInvalidArgument = errors.New("state: invalid argument")

// Manager reads and writes pending waits through a UserStore using a fixed codec.
// It holds no per-user locks; callers serialize updates of one user, as the
// Dispatcher does.
type Manager struct {
	users    storage.UserStore
	codec    *callbacks.Codec
	onCreate []UserCreateHook
}

// NewManager returns a Manager. A nil codec selects the default separator.
func NewManager(users storage.UserStore, codec *callbacks.Codec) *Manager {
	if codec == nil {
		codec = callbacks.MustCodec(callbacks.DefaultSeparator)
	}
	return &Manager{users: users, codec: codec}
}

// Codec returns the codec used for waiting-on tokens.
func (m *Manager) Codec() *callbacks.Codec {
	return m.codec
}

// Users exposes the underlying store.
func (m *Manager) Users() storage.UserStore {
	return m.users
}

// WaitingOn returns the decoded pending token of userID, or nil when nothing is pending.
func (m *Manager) WaitingOn(ctx context.Context, userID int64) (*callbacks.Token, error) {
	u, err := m.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.HasPending() {
		return nil, nil
	}
	tok, err := m.codec.Unpack(*u.WaitingOn)
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// SetWaitingOn persists tok as the pending wait of userID. A nil tok clears it.
// Only fully packed tokens are ever written.
func (m *Manager) SetWaitingOn(ctx context.Context, userID int64, tok *callbacks.Token) error {
	if tok == nil {
		return m.users.SetWaitingOn(ctx, userID, nil)
	}
	packed, err := m.codec.Encode(*tok)
	if err != nil {
		return err
	}
	return m.users.SetWaitingOn(ctx, userID, &packed)
}

// Take reads and clears the pending wait of user. The stored value is cleared
// before decoding, so a token that fails to decode is still consumed and the
// decode error is returned. user.WaitingOn is updated in place.
func (m *Manager) Take(ctx context.Context, user *storage.User) (*callbacks.Token, error) {
	if user == nil || user.ID == 0 {
		return nil, ErrInvalidArgument
	}
	if !user.HasPending() {
		return nil, nil
	}
	raw := *user.WaitingOn
	if err := m.users.SetWaitingOn(ctx, user.ID, nil); err != nil {
		return nil, fmt.Errorf("clear waiting_on: %w", err)
	}
	user.WaitingOn = nil

	tok, err := m.codec.Unpack(raw)
	if err != nil {
		metrics.PendingWaits.WithLabelValues(metrics.PendingInvalid).Inc()
		logger.Warn(ctx, logger.CompSession, "pending.invalid",
			slog.String("pending", logger.SanitizeLimit(raw, 64)),
			slog.Any("err", err),
		)
		return nil, err
	}
	metrics.PendingWaits.WithLabelValues(metrics.PendingConsumed).Inc()
	return &tok, nil
}
