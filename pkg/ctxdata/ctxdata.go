package ctxdata

import (
	"context"
)

type traceIDKey struct{}
type chatIDKey struct{}

var (
	traceIDKeyInstance = traceIDKey{}
	chatIDKeyInstance  = chatIDKey{}
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKeyInstance, traceID)
}

func GetTraceID(ctx context.Context) (string, bool) {
	v := ctx.Value(traceIDKeyInstance)
	traceID, ok := v.(string)
	return traceID, ok
}

func WithChatID(ctx context.Context, chatID int64) context.Context {
	return context.WithValue(ctx, chatIDKeyInstance, chatID)
}

func GetChatID(ctx context.Context) (int64, bool) {
	v := ctx.Value(chatIDKeyInstance)
	chatID, ok := v.(int64)
	return chatID, ok
}
