package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"homework_bot/internal/chat"
	"homework_bot/internal/errdefs"
	"homework_bot/internal/repository"
)

func (e *Engine) groupSelected(ctx context.Context, t *turn, in Intent) (State, error) {
	students, err := e.Users.ListUnregisteredStudents(ctx, in.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list students: %w", err)
	}
	if len(students) == 0 {
		if err := e.reply(ctx, t, msgUnavailableForGroup, nil); err != nil {
			return "", err
		}
		return StateGroupRequested, nil
	}

	sort.Slice(students, func(i, j int) bool {
		return students[i].FullName() < students[j].FullName()
	})
	buttons := make([]chat.Button, 0, len(students))
	for _, s := range students {
		buttons = append(buttons, chat.Button{Text: s.FullName(), Data: IDIntent(IntentStudent, s.ID).Data()})
	}
	if err := e.reply(ctx, t, msgSelectYourself, chat.Column(buttons...)); err != nil {
		return "", err
	}
	return StateNameRequested, nil
}

func (e *Engine) studentSelected(ctx context.Context, t *turn, in Intent) (State, error) {
	t.session.Data.UserID = in.ID
	if err := e.reply(ctx, t, msgSendGithub, nil); err != nil {
		return "", err
	}
	return StateGithubLoginRequested, nil
}

func (e *Engine) githubLoginEntered(ctx context.Context, t *turn, text string) (State, error) {
	login := strings.TrimSpace(text)
	if t.session.Data.UserID == 0 {
		return e.start(ctx, t)
	}

	waitID, err := e.send(ctx, t, msgCheckingGithub, nil)
	if err != nil {
		return "", err
	}

	exists, err := e.Accounts.UserExists(ctx, login)
	if err != nil {
		e.Logger.Warn(ctx, "Failed to check github login", zap.String("login", login), zap.Error(err))
		if err := e.edit(ctx, t, waitID, msgCannotCheckGithub, nil); err != nil {
			return "", err
		}
		return StateGithubLoginRequested, nil
	}
	if !exists {
		if err := e.edit(ctx, t, waitID, msgNoGithubAccount(login), nil); err != nil {
			return "", err
		}
		return StateGithubLoginRequested, nil
	}

	input := &repository.CompleteRegistrationInput{
		UserID:         t.session.Data.UserID,
		TelegramChatID: t.in.ChatID,
		GithubLogin:    login,
	}
	if t.in.Username != "" {
		username := t.in.Username
		input.TelegramLogin = &username
	}
	user, err := e.Users.CompleteRegistration(ctx, input)
	if errors.Is(err, errdefs.ErrAlreadyExists) {
		if err := e.edit(ctx, t, waitID, msgGithubTaken, nil); err != nil {
			return "", err
		}
		return StateGithubLoginRequested, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to complete registration: %w", err)
	}
	t.user = user
	t.session.Data = Data{}

	e.Logger.Info(ctx, "User registered",
		zap.Int64("user_id", user.ID),
		zap.String("github_login", login),
	)

	kb, err := e.menu(ctx, user)
	if err != nil {
		return "", err
	}
	if err := e.edit(ctx, t, waitID, msgWelcome, kb); err != nil {
		return "", err
	}
	return StateKnown, nil
}
