package main

import (
	"context"

	cmdpkg "github.com/stupiduntilnot/enerlytic/internal/commander"
)

// chatSink delivers replies for one chat through the commander.
type chatSink struct {
	commander cmdpkg.Commander
	chatID    int64
}

func (s chatSink) Reply(ctx context.Context, text string) error {
	return s.commander.SendMessage(ctx, s.chatID, text)
}

func (s chatSink) Typing(ctx context.Context) error {
	return s.commander.SendChatAction(ctx, s.chatID, "typing")
}
