package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"memoryvault/internal/ai"
	"memoryvault/internal/app"
	"memoryvault/internal/bot"
	"memoryvault/internal/cache"
	"memoryvault/internal/config"
	"memoryvault/internal/model"
	mysqlClient "memoryvault/internal/platform/mysql"
	rabbitmqClient "memoryvault/internal/platform/rabbitmq"
	redisClient "memoryvault/internal/platform/redis"
	s3Client "memoryvault/internal/platform/s3"
	"memoryvault/internal/relay"
	"memoryvault/internal/repository"
	"memoryvault/internal/telegram"
	"memoryvault/internal/worker"
)

// App owns every explicitly constructed dependency; nothing in the process
// is a package-level singleton.
type App struct {
	Config *config.Config
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Telegram *telegram.Client

	AuthService    *app.AuthService
	MemoryService  *app.MemoryService
	Bot            *bot.Bot
	BackfillWorker *worker.EmbeddingBackfillWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN(), cfg.MySQL.MinIdleConns, cfg.MySQL.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(
		&model.TelegramAuthCode{},
		&model.TelegramConnection{},
		&model.Memory{},
		&model.MemoryFile{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	uploader, err := s3Client.NewUploader(ctx, s3Client.Options{
		Endpoint:      cfg.Storage.Endpoint,
		Region:        cfg.Storage.Region,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		Bucket:        cfg.Storage.Bucket,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	})
	if err != nil {
		return nil, err
	}

	tgClient := telegram.NewClient(cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken)
	aiClient := ai.NewOpenAICompatibleClient()
	fileRelay := relay.NewFileRelay(tgClient, uploader)

	codeRepo := repository.NewAuthCodeRepository(mysqlDB)
	connRepo := repository.NewConnectionRepository(mysqlDB)
	memoryRepo := repository.NewMemoryRepository(mysqlDB)

	connCache := cache.NewConnectionCache(redisCli, time.Duration(cfg.Auth.StatusCacheTTL)*time.Second)
	backfillQueue := rabbitmqClient.NewTaskPublisher(mqConn, cfg.RabbitMQ.BackfillQueue)

	authService := app.NewAuthService(
		codeRepo,
		connRepo,
		connCache,
		cfg.Auth.CodeLength,
		time.Duration(cfg.Auth.CodeExpireMinute)*time.Minute,
	)
	memoryService := app.NewMemoryService(
		memoryRepo,
		aiClient,
		aiClient,
		fileRelay,
		backfillQueue,
		ai.EmbeddingConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.EmbeddingModel,
		},
		ai.VisionConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.VisionModel,
		},
	)
	memoryBot := bot.New(tgClient, authService, memoryService)

	backfillWorker := worker.NewEmbeddingBackfillWorker(mqConn, memoryService, cfg.RabbitMQ.BackfillQueue)
	if err := backfillWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start backfill worker failed: %w", err)
	}

	return &App{
		Config:         cfg,
		MySQL:          mysqlDB,
		Redis:          redisCli,
		MQConn:         mqConn,
		Telegram:       tgClient,
		AuthService:    authService,
		MemoryService:  memoryService,
		Bot:            memoryBot,
		BackfillWorker: backfillWorker,
		StartedAt:      time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.BackfillWorker != nil {
		a.BackfillWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
