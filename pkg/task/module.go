package task

import (
	"context"
	"errors"
	"os"

	"trackpoints/pkg/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("asynq:client",
	fx.Provide(registerClient, NewEnqueuer),
)

// registerClient shares the application's redis connection with the task client.
func registerClient(lc fx.Lifecycle, rdb *redis.Client) *asynq.Client {
	client := asynq.NewClientFromRedisClient(rdb)

	if err := client.Ping(); err != nil {
		zap.L().Error("[Asynq] Failed to connect to Asynq", zap.Error(err))
		os.Exit(1)
	}

	zap.L().Info("[Asynq] Connected to Asynq")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return client
}

var Server = fx.Module("asynq:server",
	fx.Provide(registerServerMux),
	fx.Invoke(registerAsynqServer),
)

func registerServerMux() *asynq.ServeMux {
	return asynq.NewServeMux()
}

// Queues weights the settle queue above the default queue.
func Queues(cfg *config.Config) map[string]int {
	queues := map[string]int{"default": 3}
	if q := cfg.Worker.SettleQueue; q != "" && q != "default" {
		queues[q] = 6
	}
	return queues
}

func registerAsynqServer(lc fx.Lifecycle, cfg *config.Config, mux *asynq.ServeMux) {
	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency:    concurrency,
			RetryDelayFunc: asynq.DefaultRetryDelayFunc,
			Queues:         Queues(cfg),
			IsFailure: func(err error) bool {
				return err != nil && !errors.Is(err, asynq.SkipRetry)
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				zap.L().Error("asynq task failed",
					zap.String("task_type", task.Type()),
					zap.Int("retried", retried),
					zap.Int("max_retry", maxRetry),
					zap.Error(err),
				)
			}),
		},
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := server.Start(mux); err != nil {
					zap.L().Error("[Asynq] Failed to start Asynq server", zap.Error(err))
					os.Exit(1)
				}
			}()
			zap.L().Info("[Asynq] Asynq server started",
				zap.String("addr", cfg.Redis.Addr), zap.Int("concurrency", concurrency))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.Shutdown()
			return nil
		},
	})
}
