package telegram

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botstarter/core/storage"
	"github.com/m3rciful/botstarter/core/telegram/events"
	tghelpers "github.com/m3rciful/botstarter/core/telegram/helpers"
	"github.com/m3rciful/botstarter/core/telegram/netutil"
)

type sentMessage struct {
	to   tele.Recipient
	what interface{}
	opts []interface{}
}

// fakeAPI records calls; send decides the outcome of each Send.
type fakeAPI struct {
	mu        sync.Mutex
	sent      []sentMessage
	responded []*tele.CallbackResponse
	deleted   []tele.Editable
	commands  []interface{}
	actions   []tele.ChatAction
	notify    func() error
	send      func(n int, what interface{}) (*tele.Message, error)
}

func (f *fakeAPI) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{to: to, what: what, opts: opts})
	n := len(f.sent)
	send := f.send
	f.mu.Unlock()
	if send != nil {
		return send(n, what)
	}
	return &tele.Message{ID: n}, nil
}

func (f *fakeAPI) Edit(tele.Editable, interface{}, ...interface{}) (*tele.Message, error) {
	return &tele.Message{}, nil
}

func (f *fakeAPI) EditReplyMarkup(tele.Editable, *tele.ReplyMarkup) (*tele.Message, error) {
	return &tele.Message{}, nil
}

func (f *fakeAPI) Delete(msg tele.Editable) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, msg)
	return nil
}

func (f *fakeAPI) Respond(_ *tele.Callback, resp ...*tele.CallbackResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responded = append(f.responded, resp...)
	return nil
}

func (f *fakeAPI) Notify(_ tele.Recipient, action tele.ChatAction, _ ...int) error {
	f.mu.Lock()
	f.actions = append(f.actions, action)
	notify := f.notify
	f.mu.Unlock()
	if notify != nil {
		return notify()
	}
	return nil
}

func (f *fakeAPI) SetCommands(opts ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, opts...)
	return nil
}

func (f *fakeAPI) lastSent(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func newTestBot(t *testing.T, api *fakeAPI, medias storage.MediaStore) *Bot {
	t.Helper()
	b, err := NewBot(BotOptions{API: api, ParseMode: tele.ModeMarkdownV2, Medias: medias})
	require.NoError(t, err)
	return b
}

func TestNewBotRequiresAPI(t *testing.T) {
	_, err := NewBot(BotOptions{})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestBotSendEscapesMarkdownV2(t *testing.T) {
	api := &fakeAPI{}
	b := newTestBot(t, api, nil)
	ctx := tghelpers.WithCounters(context.Background())

	_, err := b.Send(ctx, 42, "Price: 1.5 (approx)!", nil)
	require.NoError(t, err)

	got := api.lastSent(t)
	assert.Equal(t, tele.ChatID(42), got.to)
	assert.Equal(t, `Price: 1\.5 \(approx\)\!`, got.what)
	require.Len(t, got.opts, 1)
	assert.Equal(t, tele.ModeMarkdownV2, got.opts[0].(*tele.SendOptions).ParseMode)

	msgs, kb := tghelpers.CountersFrom(ctx)
	assert.Equal(t, 1, msgs)
	assert.False(t, kb)
}

func TestBotSendFormattedKeepsMarkup(t *testing.T) {
	api := &fakeAPI{}
	b := newTestBot(t, api, nil)
	ctx := tghelpers.WithCounters(context.Background())
	markup := &tele.ReplyMarkup{ForceReply: true}

	_, err := b.SendFormatted(ctx, 1, "*bold*", markup)
	require.NoError(t, err)

	got := api.lastSent(t)
	assert.Equal(t, "*bold*", got.what)
	assert.Same(t, markup, got.opts[0].(*tele.SendOptions).ReplyMarkup)
	_, kb := tghelpers.CountersFrom(ctx)
	assert.True(t, kb)
}

func TestBotReplyQuotesRawMessage(t *testing.T) {
	api := &fakeAPI{}
	b := newTestBot(t, api, nil)
	raw := &tele.Message{ID: 3}

	_, err := b.Reply(context.Background(), &events.Message{ChatID: 5, Raw: raw}, "ok", nil)
	require.NoError(t, err)
	assert.Same(t, raw, api.lastSent(t).opts[0].(*tele.SendOptions).ReplyTo)

	_, err = b.Reply(context.Background(), nil, "ok", nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestBotRetriesAfterTimeout(t *testing.T) {
	var calls atomic.Int32
	api := &fakeAPI{send: func(int, interface{}) (*tele.Message, error) {
		if calls.Add(1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		return &tele.Message{ID: 99}, nil
	}}
	b, err := NewBot(BotOptions{
		API:    api,
		Policy: netutil.Policy{Timeout: 20 * time.Millisecond, Increase: time.Second, Pause: time.Millisecond},
	})
	require.NoError(t, err)

	msg, err := b.Send(context.Background(), 1, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, 99, msg.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBotTyping(t *testing.T) {
	var calls atomic.Int32
	api := &fakeAPI{notify: func() error {
		if calls.Add(1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		return nil
	}}
	b, err := NewBot(BotOptions{
		API:    api,
		Policy: netutil.Policy{Timeout: 20 * time.Millisecond, Increase: time.Second, Pause: time.Millisecond},
	})
	require.NoError(t, err)

	require.NoError(t, b.Typing(context.Background(), 3))
	assert.Equal(t, []tele.ChatAction{tele.Typing, tele.Typing}, api.actions, "a timed out notify is retried once")

	api.notify = func() error { return &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"} }
	assert.Error(t, b.Typing(context.Background(), 3))
	assert.Len(t, api.actions, 3)
}

func TestBotAnswerCallback(t *testing.T) {
	api := &fakeAPI{}
	b := newTestBot(t, api, nil)

	require.NoError(t, b.AnswerCallback(context.Background(), &events.Callback{ID: "q1"}, "Done", true))
	require.Len(t, api.responded, 1)
	assert.Equal(t, "Done", api.responded[0].Text)
	assert.True(t, api.responded[0].ShowAlert)

	require.NoError(t, b.AnswerCallback(context.Background(), &events.Callback{}, "", false))
	assert.Len(t, api.responded, 1, "callbacks without id are not answered")
}

func TestBotDeleteMessage(t *testing.T) {
	api := &fakeAPI{}
	b := newTestBot(t, api, nil)

	require.NoError(t, b.DeleteMessage(context.Background(), 7, 12))
	require.Len(t, api.deleted, 1)
	id, chat := api.deleted[0].MessageSig()
	assert.Equal(t, "12", id)
	assert.Equal(t, int64(7), chat)
}

func TestSendOrUploadPhotoCachesUploadID(t *testing.T) {
	store := storage.NewMemoryStore()
	api := &fakeAPI{send: func(_ int, what interface{}) (*tele.Message, error) {
		return &tele.Message{Photo: &tele.Photo{File: tele.File{FileID: "F1"}}}, nil
	}}
	b := newTestBot(t, api, store.Medias())
	ctx := context.Background()

	_, err := b.SendOrUploadPhoto(ctx, 1, "assets/cat.png", "cat", nil)
	require.NoError(t, err)
	first := api.lastSent(t).what.(*tele.Photo)
	assert.Equal(t, "assets/cat.png", first.FileLocal)

	ref, err := store.FindByPath(ctx, "assets/cat.png")
	require.NoError(t, err)
	assert.Equal(t, "F1", ref.UploadID)

	_, err = b.SendOrUploadPhoto(ctx, 1, "assets/cat.png", "cat", nil)
	require.NoError(t, err)
	second := api.lastSent(t).what.(*tele.Photo)
	assert.Equal(t, "F1", second.FileID)
	assert.Empty(t, second.FileLocal)
}

func TestSendOrUploadPhotoReuploadsStaleID(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_, err := store.CreateMedia(ctx, "assets/dog.png", "OLD")
	require.NoError(t, err)

	api := &fakeAPI{send: func(_ int, what interface{}) (*tele.Message, error) {
		if p, ok := what.(*tele.Photo); ok && p.FileID == "OLD" {
			return nil, &tele.Error{Code: 400, Description: "Bad Request: wrong file identifier"}
		}
		return &tele.Message{Photo: &tele.Photo{File: tele.File{FileID: "NEW"}}}, nil
	}}
	b := newTestBot(t, api, store.Medias())

	_, err = b.SendOrUploadPhoto(ctx, 1, "assets/dog.png", "", nil)
	require.NoError(t, err)

	ref, err := store.FindByPath(ctx, "assets/dog.png")
	require.NoError(t, err)
	assert.Equal(t, "NEW", ref.UploadID)
	assert.Len(t, api.sent, 2)
}

func TestBotSetCommands(t *testing.T) {
	api := &fakeAPI{}
	b := newTestBot(t, api, nil)
	cmds := []tele.Command{{Text: "start", Description: "Start"}}

	require.NoError(t, b.SetCommands(context.Background(), cmds))
	require.Len(t, api.commands, 1)
	assert.Equal(t, cmds, api.commands[0])
}
