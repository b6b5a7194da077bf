package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/botstarter/core/logger"
	"github.com/m3rciful/botstarter/core/metrics"
	"github.com/m3rciful/botstarter/core/storage"
)

// Profile carries the sender fields copied into a new user record.
type Profile struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// UserCreateHook may fill in u before it is first stored. An error aborts the
// creation and is returned by EnsureUser.
type UserCreateHook func(ctx context.Context, u *storage.User, p Profile) error

// OnUserCreate adds h to the hooks run, in order, for every new user.
// Register hooks before updates are dispatched.
func (m *Manager) OnUserCreate(h UserCreateHook) {
	if h != nil {
		m.onCreate = append(m.onCreate, h)
	}
}

// EnsureUser returns the stored user for p.ID, creating it on first contact
// as a non-admin with nothing pending. created reports whether a record was inserted.
func (m *Manager) EnsureUser(ctx context.Context, p Profile) (user *storage.User, created bool, err error) {
	if p.ID == 0 {
		return nil, false, ErrInvalidArgument
	}
	u, err := m.users.FindByID(ctx, p.ID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	u = &storage.User{
		ID:        p.ID,
		Username:  p.Username,
		FirstName: p.FirstName,
		LastName:  p.LastName,
	}
	for _, h := range m.onCreate {
		if err := h(ctx, u, p); err != nil {
			return nil, false, fmt.Errorf("create user %d: hook: %w", p.ID, err)
		}
	}
	// hooks must not hand out admin rights or a pending wait
	u.ID, u.IsAdmin, u.WaitingOn = p.ID, false, nil
	if err := m.users.Create(ctx, u); err != nil {
		return nil, false, fmt.Errorf("create user %d: %w", p.ID, err)
	}
	// Create is insert-if-absent: re-read so a concurrent insert wins consistently.
	stored, err := m.users.FindByID(ctx, p.ID)
	if err != nil {
		return nil, false, err
	}
	logger.Info(ctx, logger.CompSession, "user.created",
		slog.Int64("user_id", p.ID),
		slog.String("username", p.Username),
	)
	return stored, true, nil
}

// ArmReplyWait makes the next text message of user go to the reply handler
// registered for action, with params passed through. Any earlier wait is replaced.
func (m *Manager) ArmReplyWait(ctx context.Context, user *storage.User, action string, params ...string) error {
	if user == nil || user.ID == 0 || strings.TrimSpace(action) == "" {
		return ErrInvalidArgument
	}
	packed, err := m.codec.Pack(action, params...)
	if err != nil {
		return err
	}
	if err := m.users.SetWaitingOn(ctx, user.ID, &packed); err != nil {
		return err
	}
	user.WaitingOn = &packed
	metrics.PendingWaits.WithLabelValues(metrics.PendingArmed).Inc()
	logger.Debug(ctx, logger.CompSession, "pending.armed",
		slog.Int64("user_id", user.ID),
		slog.String("pending", action),
	)
	return nil
}
