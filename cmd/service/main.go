package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"homework_bot/config"
	"homework_bot/internal/cache"
	"homework_bot/internal/catalog"
	"homework_bot/internal/conversation"
	"homework_bot/internal/github"
	"homework_bot/internal/lifecycle"
	"homework_bot/internal/notify"
	"homework_bot/internal/publish"
	"homework_bot/internal/queue"
	"homework_bot/internal/repository"
	"homework_bot/internal/server"
	"homework_bot/internal/session"
	"homework_bot/internal/storage"
	"homework_bot/internal/telegram"
	"homework_bot/internal/webhook"
	"homework_bot/pkg/db"
	"homework_bot/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.ValidateService(); err != nil {
		log.Fatal(ctx, "Invalid config", zap.Error(err))
	}

	dbConfig := db.Config{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		DBName:   cfg.DB.DBName,
		SSLMode:  cfg.DB.SSLMode,
		MaxConns: cfg.DB.MaxConns,
	}
	if err := db.Migrate(dbConfig); err != nil {
		log.Fatal(ctx, "Failed to apply migrations", zap.Error(err))
	}
	pool, err := db.NewPool(ctx, dbConfig)
	if err != nil {
		log.Fatal(ctx, "Failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	users := repository.NewUserRepository(pool)
	assignments := repository.NewAssignmentRepository(pool)
	submissions := repository.NewSubmissionRepository(pool)
	remoteRepos := repository.NewRemoteRepoRepository(pool)
	catalogCache := repository.NewCatalogRepository(pool)

	rdb, err := cache.NewClient(ctx, cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal(ctx, "Failed to connect to redis", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()
	redisCache := cache.NewRedisCache(rdb)

	s3Client, err := storage.NewClient(ctx, storage.Config{
		Endpoint:        cfg.S3.Endpoint,
		Region:          cfg.S3.Region,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		Bucket:          cfg.S3.Bucket,
	})
	if err != nil {
		log.Fatal(ctx, "Failed to create s3 client", zap.Error(err))
	}
	objects := storage.New(s3Client, cfg.S3.Bucket)
	if err := objects.EnsureBucket(ctx); err != nil {
		log.Fatal(ctx, "Failed to ensure bucket", zap.Error(err))
	}

	var tokens github.TokenSource = github.StaticToken(cfg.Github.Token)
	if cfg.Github.UsesApp() {
		tokens, err = github.NewAppTokenSource(github.AppConfig{
			AppID:          cfg.Github.AppID,
			InstallationID: cfg.Github.InstallationID,
			PrivateKey:     cfg.Github.PrivateKey,
			BaseURL:        cfg.Github.BaseURL,
		}, redisCache, log)
		if err != nil {
			log.Fatal(ctx, "Failed to set up github app auth", zap.Error(err))
		}
	}
	host, err := github.NewHost(github.Config{
		Organization: cfg.Github.Organization,
		BaseURL:      cfg.Github.BaseURL,
		Timeout:      cfg.Github.Timeout,
	}, tokens, log)
	if err != nil {
		log.Fatal(ctx, "Failed to create github client", zap.Error(err))
	}

	api, err := telegram.NewAPI(telegram.Config{
		Token:       cfg.Telegram.Token,
		APIEndpoint: cfg.Telegram.APIEndpoint,
		Debug:       cfg.Bot.Debug,
	})
	if err != nil {
		log.Fatal(ctx, "Failed to connect to telegram", zap.Error(err))
	}
	bot := telegram.NewBot(api)

	notifier := notify.New(users, assignments, bot, notify.Config{
		AdminChatID: cfg.Bot.AdminChatID,
		Debug:       cfg.Bot.Debug,
	}, log)
	machine := lifecycle.New(submissions, notifier, log)
	catalogs := catalog.NewService(catalogCache, host, log)

	queueConfig := queue.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	}
	producer := queue.NewProducer(queueConfig)
	defer func() { _ = producer.Close() }()

	pipeline := publish.NewPipeline(publish.Deps{
		Submissions:  submissions,
		Users:        users,
		Assignments:  assignments,
		Repositories: remoteRepos,
		Catalog:      catalogs,
		Storage:      objects,
		Host:         host,
		Lifecycle:    machine,
		Notifier:     notifier,
		Decoder:      publish.NewDecoder(publish.NewChardetDetector()),
		Logger:       log,
	})

	reader := queue.NewReader(queueConfig)
	defer func() { _ = reader.Close() }()
	worker := queue.NewWorker(reader, pipeline, queue.WorkerConfig{
		MaxAttempts: cfg.Kafka.MaxAttempts,
		BaseDelay:   cfg.Kafka.RetryDelay,
	}, log)

	dispatcher := webhook.NewDispatcher(
		webhook.NewRouter(users, submissions, machine, log),
		cfg.Github.WebhookSecret,
		log,
	)

	engine := conversation.NewEngine(conversation.Deps{
		Sessions:    session.NewStore(redisCache, cfg.Redis.SessionTTL),
		Users:       users,
		Assignments: assignments,
		Submissions: submissions,
		Catalog:     catalogs,
		Storage:     objects,
		Queue:       producer,
		Accounts:    host,
		Sender:      bot,
		Files:       bot,
		Logger:      log,
	}, conversation.Config{
		AdminChatID:       cfg.Bot.AdminChatID,
		UploadPrefix:      cfg.Bot.UploadPrefix,
		AllowedExtensions: cfg.Bot.AllowedExtensions,
		ReviewLimit:       cfg.Bot.ReviewLimit,
	})
	updates := telegram.NewUpdates(engine, bot, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	switch cfg.Telegram.Mode {
	case config.TelegramModePolling:
		wg.Add(1)
		go func() {
			defer wg.Done()
			updates.Poll(ctx, api, cfg.Telegram.PollTimeout)
		}()
	case config.TelegramModeWebhook:
		if cfg.Telegram.WebhookURL != "" {
			if err := telegram.RegisterWebhook(api, cfg.Telegram.WebhookURL); err != nil {
				log.Fatal(ctx, "Failed to register telegram webhook", zap.Error(err))
			}
		}
	}

	router := server.NewRouter(server.Config{
		TelegramSecret: cfg.Telegram.WebhookSecret,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
	}, dispatcher, updates, log)

	if err := server.Run(ctx, cfg.HTTP.Port, router, log); err != nil {
		log.Error(ctx, "Server failed", zap.Error(err))
		stop()
	}

	wg.Wait()
	log.Info(ctx, "Service stopped")
}
