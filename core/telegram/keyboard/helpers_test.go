package keyboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/botstarter/core/telegram/callbacks"
)

func TestInlineNPerRow(t *testing.T) {
	codec := callbacks.MustCodec("::")
	var buttons []callbacks.Button
	for _, mood := range []string{"happy", "sad", "meh"} {
		b, err := codec.Button("mood", mood, mood)
		require.NoError(t, err)
		buttons = append(buttons, b)
	}

	markup := InlineNPerRow(buttons, 2)
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Len(t, markup.InlineKeyboard[0], 2)
	assert.Len(t, markup.InlineKeyboard[1], 1)
	assert.Equal(t, "mood::happy", markup.InlineKeyboard[0][0].Data)
	assert.Empty(t, markup.InlineKeyboard[0][0].Unique)
	assert.Equal(t, "meh", markup.InlineKeyboard[1][0].Text)

	assert.Len(t, InlineNPerRow(buttons, 0).InlineKeyboard, 3)
}

func TestCancelButton(t *testing.T) {
	b, err := CancelButton(callbacks.MustCodec("::"), "cancel", "")
	require.NoError(t, err)
	assert.Equal(t, defaultCancelButtonText, b.Label)
	assert.Equal(t, "cancel", b.Payload)
}
