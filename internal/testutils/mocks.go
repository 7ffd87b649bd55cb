package testutils

import (
	"context"

	"github.com/stretchr/testify/mock"

	"homework_bot/internal/chat"
	"homework_bot/internal/domain"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SubmissionPublished(ctx context.Context, s *domain.Submission) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockNotifier) SubmissionNeedwork(ctx context.Context, s *domain.Submission) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockNotifier) SubmissionAccepted(ctx context.Context, s *domain.Submission) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockNotifier) StudentActivity(ctx context.Context, s *domain.Submission, kind string, actorID int64) error {
	args := m.Called(ctx, s, kind, actorID)
	return args.Error(0)
}

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, chatID int64, text string, kb *chat.Keyboard) (int, error) {
	args := m.Called(ctx, chatID, text, kb)
	return args.Int(0), args.Error(1)
}

func (m *MockSender) Edit(ctx context.Context, chatID int64, messageID int, text string, kb *chat.Keyboard) error {
	args := m.Called(ctx, chatID, messageID, text, kb)
	return args.Error(0)
}

func (m *MockSender) Answer(ctx context.Context, callbackID, text string) error {
	args := m.Called(ctx, callbackID, text)
	return args.Error(0)
}
