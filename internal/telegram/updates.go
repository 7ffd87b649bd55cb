package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"homework_bot/internal/chat"
	"homework_bot/internal/conversation"
	"homework_bot/pkg/logger"
)

var ErrUnsupported = errors.New("unsupported update")

// ToInput converts a Telegram update into conversation input. Callback data
// is parsed here so the engine only sees typed intents.
func ToInput(u tgbotapi.Update) (conversation.Input, error) {
	switch {
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		if cq.Message == nil || cq.Message.Chat == nil {
			return conversation.Input{}, fmt.Errorf("%w: callback without message", ErrUnsupported)
		}
		intent, err := conversation.ParseIntent(cq.Data)
		if err != nil {
			return conversation.Input{}, err
		}
		in := conversation.Input{
			ChatID:    cq.Message.Chat.ID,
			MessageID: cq.Message.MessageID,
			Callback:  &conversation.Callback{ID: cq.ID, Intent: intent},
		}
		setSender(&in, cq.From)
		return in, nil

	case u.Message != nil && u.Message.Chat != nil:
		msg := u.Message
		in := conversation.Input{
			ChatID:    msg.Chat.ID,
			MessageID: msg.MessageID,
			Text:      msg.Text,
		}
		if msg.IsCommand() {
			in.Command = msg.Command()
		}
		if msg.Document != nil {
			in.Document = &conversation.Document{
				FileID:   msg.Document.FileID,
				FileName: msg.Document.FileName,
			}
		}
		setSender(&in, msg.From)
		return in, nil
	}
	return conversation.Input{}, ErrUnsupported
}

func setSender(in *conversation.Input, from *tgbotapi.User) {
	if from == nil {
		return
	}
	in.Username = from.UserName
	in.FullName = strings.TrimSpace(from.FirstName + " " + from.LastName)
}

type Engine interface {
	Handle(ctx context.Context, in conversation.Input) error
}

// Updates feeds Telegram updates into the conversation engine.
type Updates struct {
	engine Engine
	sender chat.Sender
	logger *logger.Logger
}

func NewUpdates(engine Engine, sender chat.Sender, log *logger.Logger) *Updates {
	return &Updates{engine: engine, sender: sender, logger: log}
}

func (u *Updates) Handle(ctx context.Context, upd tgbotapi.Update) {
	in, err := ToInput(upd)
	switch {
	case errors.Is(err, ErrUnsupported):
		u.logger.Debug(ctx, "Skipping update", zap.Int("update_id", upd.UpdateID))
		return
	case err != nil:
		u.logger.Warn(ctx, "Rejected callback data",
			zap.Int("update_id", upd.UpdateID),
			zap.String("data", upd.CallbackQuery.Data),
			zap.Error(err),
		)
		if aerr := u.sender.Answer(ctx, upd.CallbackQuery.ID, ""); aerr != nil {
			u.logger.Warn(ctx, "Failed to answer callback", zap.Error(aerr))
		}
		return
	}

	if err := u.engine.Handle(ctx, in); err != nil {
		u.logger.Debug(ctx, "Update handled with error", zap.Int("update_id", upd.UpdateID), zap.Error(err))
	}
}

// Poll reads updates with long polling until ctx is done. Updates are
// handled one at a time, in order.
func (u *Updates) Poll(ctx context.Context, api *tgbotapi.BotAPI, timeout int) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = timeout
	ch := api.GetUpdatesChan(cfg)
	defer api.StopReceivingUpdates()

	u.logger.Info(ctx, "Telegram polling started")
	for {
		select {
		case <-ctx.Done():
			u.logger.Info(ctx, "Telegram polling stopped")
			return
		case upd, ok := <-ch:
			if !ok {
				return
			}
			u.Handle(ctx, upd)
		}
	}
}

// RegisterWebhook points Telegram at url.
func RegisterWebhook(api API, url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if _, err := api.Request(wh); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	return nil
}
