package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"kbflow/internal/app"
	"kbflow/internal/cache"
	"kbflow/internal/config"
	"kbflow/internal/gateway"
	"kbflow/internal/logging"
	"kbflow/internal/model"
	mysqlClient "kbflow/internal/platform/mysql"
	rabbitmqClient "kbflow/internal/platform/rabbitmq"
	redisClient "kbflow/internal/platform/redis"
	"kbflow/internal/repository"
	"kbflow/internal/worker"
)

// App holds the wired orchestration stack and any optional infrastructure.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Gateway      *gateway.Client
	Orchestrator *app.Orchestrator

	MySQL         *gorm.DB
	Redis         *redis.Client
	MQConn        *amqp.Connection
	Events        *repository.EventRepository
	JournalWorker *worker.JournalWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	return Build(ctx, cfg, logger)
}

// Build wires the stack from an already loaded config. Infrastructure that is
// enabled but unreachable fails the build.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}

	if cfg.MySQL.Enabled {
		db, err := mysqlClient.Open(ctx, cfg.MySQLDSN(), &model.Event{})
		if err != nil {
			return nil, a.fail(err)
		}
		a.MySQL = db
		a.Events = repository.NewEventRepository(db)
	}

	if cfg.Redis.Enabled {
		client, err := redisClient.New(ctx, cfg.Redis)
		if err != nil {
			return nil, a.fail(err)
		}
		a.Redis = client
	}

	publisher := app.NopPublisher()
	if cfg.RabbitMQ.Enabled {
		conn, err := rabbitmqClient.New(cfg.RabbitMQ.URL, cfg.App.Name)
		if err != nil {
			return nil, a.fail(err)
		}
		a.MQConn = conn
		publisher = rabbitmqClient.NewEventPublisher(conn, cfg.RabbitMQ.EventQueue)

		if a.Events != nil {
			a.JournalWorker = worker.NewJournalWorker(conn, a.Events, cfg.RabbitMQ.EventQueue, logger)
			if err := a.JournalWorker.Start(ctx); err != nil {
				return nil, a.fail(fmt.Errorf("start journal worker failed: %w", err))
			}
		}
	} else if a.Events != nil {
		publisher = app.StorePublisher(a.Events)
	}

	a.Gateway = gateway.NewClient(gateway.Config{
		BaseURL:    cfg.Remote.BaseURL,
		AdminToken: cfg.Remote.AdminToken,
		Timeouts: gateway.Timeouts{
			Ping:   cfg.Remote.Timeout(cfg.Remote.PingTimeoutSeconds),
			Read:   cfg.Remote.Timeout(cfg.Remote.ReadTimeoutSeconds),
			Upload: cfg.Remote.Timeout(cfg.Remote.UploadTimeoutSeconds),
			Index:  cfg.Remote.Timeout(cfg.Remote.IndexTimeoutSeconds),
			Chat:   cfg.Remote.Timeout(cfg.Remote.ChatTimeoutSeconds),
		},
	}, logger.Named("gateway"))

	chatOpts := []app.ChatOption{app.WithSnippetLimit(cfg.Chat.SnippetLimit)}
	if a.Redis != nil {
		chatOpts = append(chatOpts, app.WithHistoryCache(cache.NewHistoryCache(
			a.Redis,
			time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
			time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
		)))
	}

	vaults := app.NewVaultRegistry(a.Gateway, publisher, logger)
	agents := app.NewAgentRegistry(a.Gateway, publisher, logger)
	chat := app.NewChatController(a.Gateway, publisher, logger, chatOpts...)
	a.Orchestrator = app.NewOrchestrator(a.Gateway, vaults, agents, chat, logger, app.Options{
		RequireReadyVault: cfg.Chat.RequireReadyVault,
	})

	logger.Info("orchestrator ready",
		zap.String("remote", a.Gateway.BaseURL()),
		zap.Bool("admin_token", a.Gateway.AdminConfigured()),
		zap.Bool("mysql", a.MySQL != nil),
		zap.Bool("redis", a.Redis != nil),
		zap.Bool("rabbitmq", a.MQConn != nil))
	return a, nil
}

func (a *App) fail(err error) error {
	if closeErr := a.Close(); closeErr != nil {
		return errors.Join(err, closeErr)
	}
	return err
}

func (a *App) Close() error {
	var closeErr error
	if a.JournalWorker != nil {
		a.JournalWorker.Close()
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		if err := a.MQConn.Close(); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}
	if a.MySQL != nil {
		if err := mysqlClient.Close(a.MySQL); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}
