package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"asset-intake/internal/config"
	"asset-intake/internal/db"
	"asset-intake/internal/decode"
	"asset-intake/internal/geo"
	httptransport "asset-intake/internal/http"
	"asset-intake/internal/logger"
	"asset-intake/internal/metrics"
	"asset-intake/internal/notifier"
	"asset-intake/internal/repository"
	"asset-intake/internal/service"
	"asset-intake/internal/vision"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("failed to open store")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var publisher notifier.Publisher = notifier.Nop{}
	if cfg.MQTT.Enabled {
		mqttPublisher, err := notifier.NewMQTTPublisher(notifier.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		publisher = mqttPublisher
	}
	defer publisher.Close()

	var recognizer service.Recognizer
	if cfg.Vision.URL != "" {
		recognizer = vision.NewClient(vision.Config{
			URL:     cfg.Vision.URL,
			APIKey:  cfg.Vision.APIKey,
			Timeout: cfg.Vision.Timeout,
		}, log)
	} else {
		log.Warn().Msg("vision.url not set, captures need explicit recognition data")
	}

	var locator geo.Locator = geo.CoordinateLocator{}
	if cfg.Geo.ReverseURL != "" {
		locator = geo.NewReverseGeocoder(cfg.Geo.ReverseURL, cfg.Geo.UserAgent, cfg.Geo.Timeout)
	}

	intakeService := service.NewIntakeService(service.Options{
		Store:      store,
		Recognizer: recognizer,
		Decoder: decode.NewClient(decode.Config{
			BaseURL:  cfg.Decode.URL,
			Timeout:  cfg.Decode.Timeout,
			CacheTTL: cfg.Decode.CacheTTL,
		}, log),
		Locator:    locator,
		GeoTimeout: cfg.Geo.Timeout,
		Notifier:   publisher,
		Metrics:    metrics.New(reg),
	}, log)

	if err := intakeService.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load records")
	}

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := intakeService.Run(ctx); err != nil {
			log.Error().Err(err).Msg("intake consumer stopped")
		}
	}()

	handler := httptransport.NewHandler(intakeService, log)
	router := httptransport.NewRouter(handler, httptransport.RouterConfig{
		AllowOrigins:    cfg.HTTP.AllowOrigins,
		JWTSecret:       cfg.Auth.JWTSecret,
		DefaultOperator: cfg.Auth.DefaultOperator,
		Gatherer:        reg,
	}, log)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Str("env", cfg.Environment).Msg("starting asset-intake")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	<-consumerDone

	if pending := intakeService.QueueLength(); pending > 0 {
		log.Warn().Int("pending", pending).Msg("exiting with unresolved captures")
	}
}

func openStore(cfg *config.Config, log zerolog.Logger) (service.Store, error) {
	if cfg.DB.Driver == "memory" {
		log.Warn().Msg("using in-memory store, records are lost on exit")
		return repository.NewMemoryStore(), nil
	}

	gdb, err := db.Open(cfg.DB.Driver, cfg.DB.DSN, log)
	if err != nil {
		return nil, err
	}
	return repository.NewAssetRepository(gdb), nil
}
