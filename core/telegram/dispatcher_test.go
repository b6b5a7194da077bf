package telegram

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/botstarter/core/storage"
	"github.com/m3rciful/botstarter/core/telegram/callbacks"
	"github.com/m3rciful/botstarter/core/telegram/commands"
	"github.com/m3rciful/botstarter/core/telegram/events"
	"github.com/m3rciful/botstarter/core/telegram/state"
)

type mockAck struct {
	mock.Mock
}

func (m *mockAck) AnswerCallback(_ context.Context, cb *events.Callback, text string, alert bool) error {
	args := m.Called(cb.ID, text, alert)
	return args.Error(0)
}

func (m *mockAck) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	args := m.Called(chatID, messageID)
	return args.Error(0)
}

type dispatchFixture struct {
	d        *Dispatcher
	reg      *Registry
	sessions *state.Manager
	store    *storage.MemoryStore
	ack      *mockAck
}

func newDispatchFixture(t *testing.T) dispatchFixture {
	t.Helper()
	codec := callbacks.MustCodec("::")
	store := storage.NewMemoryStore()
	reg := NewRegistry(codec)
	sessions := state.NewManager(store, codec)
	ack := &mockAck{}
	d, err := NewDispatcher(DispatcherOptions{Registry: reg, Sessions: sessions, Ack: ack})
	require.NoError(t, err)
	t.Cleanup(func() { ack.AssertExpectations(t) })
	return dispatchFixture{d: d, reg: reg, sessions: sessions, store: store, ack: ack}
}

func textFrom(userID int64, text string) *events.Message {
	return &events.Message{ID: 10, ChatID: userID, Sender: events.Sender{ID: userID, FirstName: "Ann"}, Text: text}
}

func (f dispatchFixture) arm(t *testing.T, userID int64, action string, params ...string) {
	t.Helper()
	ctx := context.Background()
	u, _, err := f.sessions.EnsureUser(ctx, state.Profile{ID: userID})
	require.NoError(t, err)
	require.NoError(t, f.sessions.ArmReplyWait(ctx, u, action, params...))
}

func (f dispatchFixture) pending(t *testing.T, userID int64) *callbacks.Token {
	t.Helper()
	tok, err := f.sessions.WaitingOn(context.Background(), userID)
	require.NoError(t, err)
	return tok
}

func TestNewDispatcherValidation(t *testing.T) {
	store := storage.NewMemoryStore()
	reg := NewRegistry(callbacks.MustCodec("::"))

	_, err := NewDispatcher(DispatcherOptions{Registry: reg, Ack: &mockAck{}})
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = NewDispatcher(DispatcherOptions{
		Registry: reg,
		Sessions: state.NewManager(store, callbacks.MustCodec("||")),
		Ack:      &mockAck{},
	})
	assert.ErrorIs(t, err, callbacks.ErrInvalidSeparator)
}

func TestHandleTextCreatesUserAndRunsFallback(t *testing.T) {
	f := newDispatchFixture(t)
	var got string
	require.NoError(t, f.reg.SetTextFallback(func(_ context.Context, msg *events.Message, user *storage.User, pending *callbacks.Token) error {
		got = msg.Text
		assert.Equal(t, int64(5), user.ID)
		assert.Nil(t, pending)
		return nil
	}))

	require.NoError(t, f.d.HandleText(context.Background(), textFrom(5, "hello")))
	assert.Equal(t, "hello", got)
	assert.Equal(t, 1, f.store.Users())
}

func TestHandleTextWithoutFallbackIsDropped(t *testing.T) {
	f := newDispatchFixture(t)
	assert.NoError(t, f.d.HandleText(context.Background(), textFrom(5, "hello")))
}

func TestHandleTextDiscardsBots(t *testing.T) {
	f := newDispatchFixture(t)
	require.NoError(t, f.reg.SetTextFallback(func(context.Context, *events.Message, *storage.User, *callbacks.Token) error {
		t.Fatal("bot message reached a handler")
		return nil
	}))
	msg := textFrom(9, "beep")
	msg.Sender.IsBot = true

	require.NoError(t, f.d.HandleText(context.Background(), msg))
	assert.Zero(t, f.store.Users())
}

func TestHandleTextReplyHandlerGetsParams(t *testing.T) {
	f := newDispatchFixture(t)
	var params []string
	var text string
	require.NoError(t, f.reg.RegisterReplyHandler("rename", func(_ context.Context, msg *events.Message, _ *storage.User, p []string) error {
		params, text = p, msg.Text
		return nil
	}))
	require.NoError(t, f.reg.SetTextFallback(func(context.Context, *events.Message, *storage.User, *callbacks.Token) error {
		t.Fatal("fallback must not run while a reply is pending")
		return nil
	}))
	f.arm(t, 1, "rename", "item::7", "")

	require.NoError(t, f.d.HandleText(context.Background(), textFrom(1, "New name")))
	assert.Equal(t, []string{"item::7", ""}, params)
	assert.Equal(t, "New name", text)
	assert.Nil(t, f.pending(t, 1))
}

func TestHandleTextDropsPendingWithoutHandler(t *testing.T) {
	f := newDispatchFixture(t)
	fallback := false
	require.NoError(t, f.reg.SetTextFallback(func(context.Context, *events.Message, *storage.User, *callbacks.Token) error {
		fallback = true
		return nil
	}))
	f.arm(t, 2, "ghost")

	require.NoError(t, f.d.HandleText(context.Background(), textFrom(2, "anything")))
	assert.False(t, fallback)
	assert.Nil(t, f.pending(t, 2), "unknown pending action is still consumed")
}

func TestHandleTextCommandConsumesPending(t *testing.T) {
	f := newDispatchFixture(t)
	var seen *callbacks.Token
	var args string
	require.NoError(t, f.reg.RegisterCommand("/start", commands.Command{
		Description: "Start",
		Handler: func(_ context.Context, msg *events.Message, _ *storage.User, pending *callbacks.Token) error {
			seen = pending
			_, args, _ = msg.Command()
			return nil
		},
	}))
	require.NoError(t, f.reg.RegisterReplyHandler("echo", func(context.Context, *events.Message, *storage.User, []string) error {
		t.Fatal("reply handler must not run for a command")
		return nil
	}))
	f.arm(t, 3, "echo", "x")

	require.NoError(t, f.d.HandleText(context.Background(), textFrom(3, "/start@my_bot ref42")))
	require.NotNil(t, seen)
	assert.Equal(t, callbacks.Token{Action: "echo", Params: []string{"x"}}, *seen)
	assert.Equal(t, "ref42", args)
	assert.Nil(t, f.pending(t, 3))
}

func TestHandleTextCommandBeatsFilter(t *testing.T) {
	f := newDispatchFixture(t)
	var route string
	require.NoError(t, f.reg.RegisterFilter("everything", func(*events.Message) bool { return true },
		func(context.Context, *events.Message, *storage.User, *callbacks.Token) error {
			route = "filter"
			return nil
		}, false))
	require.NoError(t, f.reg.RegisterCommand("/help", commands.Command{
		Description: "Help",
		Handler: func(context.Context, *events.Message, *storage.User, *callbacks.Token) error {
			route = "command"
			return nil
		},
	}))

	require.NoError(t, f.d.HandleText(context.Background(), textFrom(4, "/help")))
	assert.Equal(t, "command", route)

	require.NoError(t, f.d.HandleText(context.Background(), textFrom(4, "/unknown")))
	assert.Equal(t, "filter", route, "unregistered commands fall through to filters")

	require.NoError(t, f.d.HandleText(context.Background(), textFrom(4, "plain")))
	assert.Equal(t, "filter", route)
}

func TestHandleTextAdminOnlyCommand(t *testing.T) {
	f := newDispatchFixture(t)
	calls := 0
	require.NoError(t, f.reg.RegisterCommand("/stats", commands.Command{
		Description: "Stats",
		AdminOnly:   true,
		Handler: func(context.Context, *events.Message, *storage.User, *callbacks.Token) error {
			calls++
			return nil
		},
	}))

	require.NoError(t, f.d.HandleText(context.Background(), textFrom(6, "/stats")))
	assert.Zero(t, calls)

	require.NoError(t, f.store.SetAdmin(context.Background(), 6, true))
	require.NoError(t, f.d.HandleText(context.Background(), textFrom(6, "/stats")))
	assert.Equal(t, 1, calls)
}

func TestHandleCallbackRoutesToButton(t *testing.T) {
	f := newDispatchFixture(t)
	var gotUser *storage.User
	var gotParams []string
	require.NoError(t, f.reg.RegisterButton("mood", func(_ context.Context, _ *events.Callback, user *storage.User, params []string) error {
		gotUser, gotParams = user, params
		return nil
	}, false))
	data, err := f.reg.Codec().Pack("mood", "happy", "a::b")
	require.NoError(t, err)

	f.ack.On("AnswerCallback", "cb1", "", false).Return(nil).Once()
	require.NoError(t, f.d.HandleCallback(context.Background(), &events.Callback{ID: "cb1", Sender: events.Sender{ID: 11}, Data: data}))
	assert.Nil(t, gotUser, "callbacks never create users")
	assert.Equal(t, []string{"happy", "a::b"}, gotParams)
	assert.Zero(t, f.store.Users())

	_, _, err = f.sessions.EnsureUser(context.Background(), state.Profile{ID: 11})
	require.NoError(t, err)
	f.ack.On("AnswerCallback", "cb2", "", false).Return(nil).Once()
	require.NoError(t, f.d.HandleCallback(context.Background(), &events.Callback{ID: "cb2", Sender: events.Sender{ID: 11}, Data: data}))
	require.NotNil(t, gotUser)
	assert.Equal(t, int64(11), gotUser.ID)
}

func TestHandleCallbackMatchesWholeAction(t *testing.T) {
	f := newDispatchFixture(t)
	var got [][]string
	require.NoError(t, f.reg.RegisterButton("ask", func(_ context.Context, _ *events.Callback, _ *storage.User, params []string) error {
		got = append(got, params)
		return nil
	}, false))
	btn, err := f.reg.Codec().Button("ask", "Ask")
	require.NoError(t, err)
	assert.Equal(t, "ask", btn.Payload)

	f.ack.On("AnswerCallback", "cb", "", false).Return(nil).Twice()
	f.ack.On("AnswerCallback", "cb", unsupportedAction, false).Return(nil).Once()
	ctx := context.Background()
	for _, data := range []string{btn.Payload, "ask::", "asking::1"} {
		require.NoError(t, f.d.HandleCallback(ctx, &events.Callback{ID: "cb", Sender: events.Sender{ID: 1}, Data: data}))
	}
	assert.Equal(t, [][]string{{}, {""}}, got)
}

func TestHandleCallbackUnknownActionDefaultAnswer(t *testing.T) {
	f := newDispatchFixture(t)
	f.ack.On("AnswerCallback", "cb", unsupportedAction, false).Return(nil).Once()

	require.NoError(t, f.d.HandleCallback(context.Background(), &events.Callback{ID: "cb", Sender: events.Sender{ID: 1}, Data: "nope::1"}))
}

func TestHandleCallbackUnknownActionCustomHandler(t *testing.T) {
	f := newDispatchFixture(t)
	var data string
	require.NoError(t, f.reg.SetCallbackNotFound(func(_ context.Context, cb *events.Callback) error {
		data = cb.Data
		return nil
	}))

	require.NoError(t, f.d.HandleCallback(context.Background(), &events.Callback{ID: "cb", Sender: events.Sender{ID: 1}, Data: "nope"}))
	assert.Equal(t, "nope", data)
}

func TestHandleCallbackAdminOnlyDeniedDeletesMessage(t *testing.T) {
	f := newDispatchFixture(t)
	require.NoError(t, f.reg.RegisterButton("ban", func(context.Context, *events.Callback, *storage.User, []string) error {
		t.Fatal("non-admin reached an admin button")
		return nil
	}, true))

	f.ack.On("AnswerCallback", "cb", "", false).Return(nil).Once()
	f.ack.On("DeleteMessage", int64(77), 501).Return(nil).Once()

	cb := &events.Callback{
		ID:      "cb",
		Sender:  events.Sender{ID: 8},
		Data:    "ban::8",
		Message: &events.Message{ID: 501, ChatID: 77},
	}
	require.NoError(t, f.d.HandleCallback(context.Background(), cb))
}

func TestHandleCallbackAdminOnlyAllowed(t *testing.T) {
	f := newDispatchFixture(t)
	called := false
	require.NoError(t, f.reg.RegisterButton("ban", func(_ context.Context, _ *events.Callback, user *storage.User, params []string) error {
		called = true
		assert.True(t, user.IsAdmin)
		assert.Equal(t, []string{"8"}, params)
		return nil
	}, true))
	require.NoError(t, f.store.SetAdmin(context.Background(), 9, true))

	f.ack.On("AnswerCallback", "cb", "", false).Return(nil).Once()
	require.NoError(t, f.d.HandleCallback(context.Background(), &events.Callback{ID: "cb", Sender: events.Sender{ID: 9}, Data: "ban::8"}))
	assert.True(t, called)
}

func TestHandleCallbackUndecodablePayload(t *testing.T) {
	f := newDispatchFixture(t)
	f.ack.On("AnswerCallback", "cb", "", false).Return(nil).Once()

	err := f.d.HandleCallback(context.Background(), &events.Callback{ID: "cb", Sender: events.Sender{ID: 1}, Data: "::orphan"})
	assert.ErrorIs(t, err, callbacks.ErrEmptyToken)
}

func TestHandleCallbackUndecodablePayloadAnswerFails(t *testing.T) {
	f := newDispatchFixture(t)
	f.ack.On("AnswerCallback", "cb", "", false).Return(errors.New("network down")).Once()

	err := f.d.HandleCallback(context.Background(), &events.Callback{ID: "cb", Sender: events.Sender{ID: 1}, Data: "::orphan"})
	assert.ErrorIs(t, err, callbacks.ErrEmptyToken)
}

// slowUsers widens the window between reading a user and clearing its wait.
type slowUsers struct {
	*storage.MemoryStore
	delay time.Duration
}

func (s slowUsers) FindByID(ctx context.Context, id int64) (*storage.User, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.FindByID(ctx, id)
}

func TestHandleTextConsumesPendingOnceUnderConcurrency(t *testing.T) {
	codec := callbacks.MustCodec("::")
	store := storage.NewMemoryStore()
	sessions := state.NewManager(slowUsers{MemoryStore: store, delay: 20 * time.Millisecond}, codec)
	reg := NewRegistry(codec)
	d, err := NewDispatcher(DispatcherOptions{Registry: reg, Sessions: sessions, Ack: &mockAck{}})
	require.NoError(t, err)

	var replies, fallbacks atomic.Int32
	require.NoError(t, reg.RegisterReplyHandler("echo", func(context.Context, *events.Message, *storage.User, []string) error {
		replies.Add(1)
		return nil
	}))
	require.NoError(t, reg.SetTextFallback(func(context.Context, *events.Message, *storage.User, *callbacks.Token) error {
		fallbacks.Add(1)
		return nil
	}))

	ctx := context.Background()
	u, _, err := sessions.EnsureUser(ctx, state.Profile{ID: 7})
	require.NoError(t, err)
	require.NoError(t, sessions.ArmReplyWait(ctx, u, "echo"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.HandleText(ctx, textFrom(7, "hi")))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), replies.Load())
	assert.Equal(t, int32(3), fallbacks.Load())
	d.locks.mu.Lock()
	assert.Empty(t, d.locks.locks)
	d.locks.mu.Unlock()
}
