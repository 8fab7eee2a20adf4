package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tg-subwatch-bot/internal/adapters/bilibili"
	"tg-subwatch-bot/internal/adapters/bot"
	"tg-subwatch-bot/internal/adapters/repo"
	"tg-subwatch-bot/internal/adapters/telegram"
	"tg-subwatch-bot/internal/domain"
	"tg-subwatch-bot/internal/infra/cache"
	"tg-subwatch-bot/internal/infra/config"
	"tg-subwatch-bot/internal/infra/db"
	"tg-subwatch-bot/internal/infra/log"
	"tg-subwatch-bot/internal/infra/metrics"
	"tg-subwatch-bot/internal/infra/sched"
	"tg-subwatch-bot/internal/usecase/livestatus"
	"tg-subwatch-bot/internal/usecase/monitor"
	"tg-subwatch-bot/internal/usecase/subscription"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}
	sender := telegram.NewSender(botAPI, logger)

	biliClient := bilibili.New()
	roomLister := func(ctx context.Context) ([]string, error) {
		return subscription.ListAllSubscribedIDs(ctx, repoAdapter, domain.SubTypeBiliLive)
	}
	liveCache := livestatus.NewCache(biliClient, roomLister, cfg.Monitor.LiveCacheTTL, logger)
	if err := liveCache.Prime(ctx); err != nil {
		// без прогрева первый цикл примет текущее состояние за базовое и промолчит
		logger.Warn().Err(err).Msg("не удалось прогреть кэш статусов трансляций")
	}

	newLiveManager := func(roomID string) *subscription.Manager[domain.StatusUpdate] {
		source := bilibili.NewLiveSource(liveCache, roomID)
		return subscription.NewManager[domain.StatusUpdate](source, repoAdapter, repoAdapter, repoAdapter, sender, cfg.Monitor.SendConcurrency, logger)
	}
	newDynamicManager := func(uid string) *subscription.Manager[bilibili.DynamicItem] {
		source := bilibili.NewDynamicSource(biliClient, uid)
		return subscription.NewManager[bilibili.DynamicItem](source, repoAdapter, repoAdapter, repoAdapter, sender, cfg.Monitor.SendConcurrency, logger)
	}

	var lock monitor.JobLock
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		lock = cache.NewRedis(redisClient)
	}

	mon := monitor.New(monitor.Deps{
		Log:     logger,
		Sources: repoAdapter,
		NewLiveChecker: func(subID string) monitor.Checker {
			return newLiveManager(subID)
		},
		NewDynamicChecker: func(subID string) monitor.Checker {
			return newDynamicManager(subID)
		},
		Lock:             lock,
		LiveSpec:         cfg.Monitor.LiveSpec,
		DynamicSpec:      cfg.Monitor.DynamicSpec,
		CheckConcurrency: cfg.Monitor.CheckConcurrency,
	})

	scheduler := sched.New(logger.With().Str("component", "sched").Logger())
	for _, job := range mon.BuildJobs() {
		if err := scheduler.Register(job); err != nil {
			logger.Fatal().Err(err).Str("job", job.ID).Msg("не удалось зарегистрировать задачу")
		}
	}
	go scheduler.Run(ctx)

	handler := bot.NewHandler(
		botAPI,
		logger,
		func(subID string) bot.SubscriptionService { return newLiveManager(subID) },
		func(subID string) bot.SubscriptionService { return newDynamicManager(subID) },
		scheduler,
	)

	r := chi.NewRouter()
	r.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		handler.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: r}
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("бот запущен")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
		}
	}()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	logger.Info().Msg("остановка бота")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
