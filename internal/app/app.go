package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/api"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/action"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/webhook"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/zinc"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает сервис и блокируется до отмены контекста или фатальной
// ошибки HTTP-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	repos, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if repos.store != nil {
			_ = repos.store.Close()
		}
	}()

	provider, err := initProvider(cfg, logger)
	if err != nil {
		return err
	}

	kafkaProducer := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	pipeline := webhook.NewPipelineWithKafka(
		repos.orders,
		kafkaProducer,
		logger.WithField("component", "webhook"),
	)
	gateway := action.NewGateway(action.Config{
		Orders:        repos.orders,
		Cancellations: repos.cancellations,
		Returns:       repos.returns,
		Cases:         repos.cases,
		Provider:      provider,
		WebhookURL:    cfg.WebhookURL(),
		Logger:        logger.WithField("component", "action-gateway"),
		KafkaProducer: kafkaProducer,
	})

	healthHandler := healthcheck.NewHandler(version.String())
	if repos.store != nil {
		healthHandler.Register("postgres", repos.store.Ping)
	}

	server := api.NewServer(api.Config{
		Pipeline: pipeline,
		Gateway:  gateway,
		Orders:   repos.orders,
		Health:   healthHandler,
		Logger:   logger.WithField("component", "api"),
	})

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP сервер слушает %s", cfg.HTTPAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(httpSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// initProvider создаёт клиента провайдера. Без токена сервис работает
// в демо-режиме на mock-клиенте: заказы не уходят наружу.
func initProvider(cfg Config, logger *log.Entry) (domain.FulfillmentProvider, error) {
	if cfg.ZincToken == "" {
		logger.Warn("ZINC_CLIENT_TOKEN is not set, using mock provider")
		return zinc.NewMockClient(), nil
	}

	opts := make([]zinc.Option, 0, 1)
	if cfg.ZincBaseURL != "" {
		opts = append(opts, zinc.WithBaseURL(cfg.ZincBaseURL))
	}
	return zinc.NewClient(cfg.ZincToken, opts...)
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
