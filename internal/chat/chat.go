package chat

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Button is either a callback button (Data set) or a link button (URL set).
type Button struct {
	Text string
	Data string
	URL  string
}

type Keyboard struct {
	Rows [][]Button
}

// Column lays buttons out one per row.
func Column(buttons ...Button) *Keyboard {
	kb := &Keyboard{Rows: make([][]Button, 0, len(buttons))}
	for _, b := range buttons {
		kb.Rows = append(kb.Rows, []Button{b})
	}
	return kb
}

// Row lays buttons out side by side.
func Row(buttons ...Button) *Keyboard {
	return &Keyboard{Rows: [][]Button{buttons}}
}

func (k *Keyboard) Empty() bool {
	return k == nil || len(k.Rows) == 0
}

// Buttons returns all buttons in row order.
func (k *Keyboard) Buttons() []Button {
	if k == nil {
		return nil
	}
	var out []Button
	for _, row := range k.Rows {
		out = append(out, row...)
	}
	return out
}

// Sender delivers messages to chats. Text is sent as Markdown.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, kb *Keyboard) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string, kb *Keyboard) error
	Answer(ctx context.Context, callbackID, text string) error
}

// Files downloads documents users attached to messages.
type Files interface {
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Escape quotes user-provided text for MarkdownV2 messages.
func Escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, s)
}
