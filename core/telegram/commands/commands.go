// Package commands describes slash commands registered with the bot.
package commands

import "github.com/m3rciful/botstarter/core/telegram/events"

// Command represents a bot command with its handler, description, and metadata.
type Command struct {
	Handler     events.TextHandler
	Description string
	AdminOnly   bool
	Hidden      bool
	Aliases     []string
}
