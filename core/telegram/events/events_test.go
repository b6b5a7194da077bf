package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageCommand(t *testing.T) {
	tests := []struct {
		text  string
		name  string
		args  string
		isCmd bool
	}{
		{text: "/start", name: "/start", isCmd: true},
		{text: "/echo hello world", name: "/echo", args: "hello world", isCmd: true},
		{text: "/echo@my_bot  hi ", name: "/echo", args: "hi", isCmd: true},
		{text: "hello", isCmd: false},
		{text: "/", isCmd: false},
		{text: "", isCmd: false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, args, ok := (&Message{Text: tt.text}).Command()
			assert.Equal(t, tt.isCmd, ok)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.args, args)
		})
	}

	_, _, ok := (*Message)(nil).Command()
	assert.False(t, ok)
}

func TestSenderProfile(t *testing.T) {
	p := Sender{ID: 9, IsBot: true, Username: "u", FirstName: "f", LastName: "l"}.Profile()
	assert.Equal(t, int64(9), p.ID)
	assert.Equal(t, "u", p.Username)
	assert.Equal(t, "f", p.FirstName)
	assert.Equal(t, "l", p.LastName)
}
