package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	MonitorCheckSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "monitor_check_seconds",
		Help:    "Длительность одного цикла проверки источника",
		Buckets: prometheus.DefBuckets,
	}, []string{"sub_type"})

	MonitorCheckErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_check_errors_total",
		Help: "Ошибки циклов проверки источников",
	}, []string{"sub_type"})

	NewContentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "new_content_total",
		Help: "Количество новых элементов контента",
	}, []string{"sub_type"})

	NotifySendTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_send_total",
		Help: "Количество отправленных уведомлений",
	})

	NotifySendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_send_errors_total",
		Help: "Ошибки доставки уведомлений получателям",
	})

	LiveCacheRefreshTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_cache_refresh_total",
		Help: "Количество пакетных обновлений кэша статусов трансляций",
	})

	SchedulerSkippedRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_skipped_runs_total",
		Help: "Пропущенные срабатывания задач планировщика",
	}, []string{"job", "reason"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		MonitorCheckSeconds,
		MonitorCheckErrors,
		NewContentTotal,
		NotifySendTotal,
		NotifySendErrors,
		LiveCacheRefreshTotal,
		SchedulerSkippedRuns,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}
