package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"homework_bot/pkg/logger"
)

const (
	telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	defaultMaxBody       = 10 << 20
)

type GithubWebhook interface {
	Handle(ctx context.Context, headers http.Header, body []byte)
}

type TelegramWebhook interface {
	Handle(ctx context.Context, upd tgbotapi.Update)
}

type Config struct {
	Port           int
	TelegramSecret string
	MaxBodyBytes   int64
}

// NewRouter serves the webhook endpoints. Webhooks are always answered
// with 200 so the senders never redeliver; problems are only logged.
func NewRouter(cfg Config, github GithubWebhook, telegram TelegramWebhook, log *logger.Logger) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}

	r := chi.NewRouter()
	r.Use(loggingMiddleware(log))
	r.Use(func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, cfg.MaxBodyBytes)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		ok(w)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/github", func(w http.ResponseWriter, req *http.Request) {
			defer ok(w)
			body, err := io.ReadAll(req.Body)
			if err != nil {
				log.Warn(req.Context(), "Failed to read github webhook", zap.Error(err))
				return
			}
			github.Handle(context.WithoutCancel(req.Context()), req.Header, body)
		})

		r.Post("/telegram", func(w http.ResponseWriter, req *http.Request) {
			defer ok(w)
			if cfg.TelegramSecret != "" &&
				subtle.ConstantTimeCompare([]byte(req.Header.Get(telegramSecretHeader)), []byte(cfg.TelegramSecret)) != 1 {
				log.Warn(req.Context(), "Telegram webhook secret mismatch")
				return
			}
			var upd tgbotapi.Update
			if err := json.NewDecoder(req.Body).Decode(&upd); err != nil {
				log.Warn(req.Context(), "Failed to decode telegram update", zap.Error(err))
				return
			}
			telegram.Handle(context.WithoutCancel(req.Context()), upd)
		})
	})

	return r
}

func ok(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Run serves until ctx is done and then shuts down gracefully.
func Run(ctx context.Context, port int, handler http.Handler, log *logger.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "Starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info(ctx, "Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info(ctx, "Server stopped")
	return nil
}
