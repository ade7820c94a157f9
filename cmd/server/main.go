package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/zbonzo/warlock/internal/api"
	"github.com/zbonzo/warlock/internal/auth"
	"github.com/zbonzo/warlock/internal/config"
	"github.com/zbonzo/warlock/internal/observability"
	"github.com/zbonzo/warlock/internal/queue"
	"github.com/zbonzo/warlock/internal/realtime"
	"github.com/zbonzo/warlock/internal/room"
	"github.com/zbonzo/warlock/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found")
	}

	cfg := config.Load()
	logger, err := observability.SetupLogger()
	if err != nil {
		log.Fatalf("cannot init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.SetupTracerProvider(ctx, "warlock", cfg.TraceStdout, logger)
	if err != nil {
		logger.Fatal("cannot init tracer", zap.Error(err))
	}
	defer tp.Shutdown(ctx)

	db, err := store.ConnectMySQL(cfg.DBDSN)
	var st *store.Store
	if err != nil {
		logger.Warn("cannot connect db, falling back to in-memory mode", zap.Error(err))
		st = store.NewMemoryStore()
	} else {
		defer db.Close()
		st = store.New(db)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer.(*prometheus.Registry))
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, 24*time.Hour)

	var taskQueue *queue.Queue
	if cfg.RabbitMQURL != "" {
		slogLogger := observability.ZapToSlog(logger)
		taskQueue, err = queue.New(queue.Config{
			URL:       cfg.RabbitMQURL,
			QueueName: cfg.TrophyQueue,
			Prefetch:  10,
			Logger:    slogLogger,
		})
		if err != nil {
			logger.Warn("failed to connect to RabbitMQ", zap.Error(err))
			taskQueue = nil
		} else {
			logger.Info("task queue connected", zap.String("url", cfg.RabbitMQURL), zap.String("queue", cfg.TrophyQueue))
			defer taskQueue.Close()
		}
	}

	roomCfg := room.Config{
		SnapshotInterval:   cfg.SnapshotInterval,
		ActionPhaseTimeout: cfg.ActionPhaseTimeout,
		ReadyGraceWindow:   cfg.ReadyGraceWindow,
	}
	roomMgr := room.NewRoomManager(ctx, st, logger, metrics, taskQueue, roomCfg)
	defer roomMgr.Close()

	if taskQueue != nil {
		taskQueue.RegisterHandler(queue.TaskTypeComputeTrophies, queue.CreateTrophyHandler(func(ctx context.Context, gameCode string, awards []queue.TrophyAward) error {
			trophies := make([]store.Trophy, 0, len(awards))
			for _, a := range awards {
				trophies = append(trophies, store.Trophy{
					ID: gameCode + ":" + a.Category, GameCode: gameCode, PlayerID: a.PlayerID,
					Category: a.Category, Value: a.Value, CreatedAt: time.Now().UTC(),
				})
			}
			return st.SaveTrophies(ctx, trophies)
		}))

		if err := taskQueue.Start(ctx); err != nil {
			logger.Error("failed to start task queue", zap.Error(err))
		}
	}

	wsServer := realtime.NewWSServer(jwtMgr, st, roomMgr, logger, metrics)
	server := api.NewServer(st, jwtMgr, roomMgr, wsServer, logger)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Router}
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
