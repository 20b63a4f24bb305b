package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/config"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/handler"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/registry"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/relay"
	pkglog "github.com/archer102125220/parker-nextjs-lab-sub002/pkg/log"
	"github.com/archer102125220/parker-nextjs-lab-sub002/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Level == "debug",
		ServiceName: "signal-relay",
	})
	logger := pkglog.L()

	instanceID := uuid.New().String()
	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str(pkglog.FieldInstanceID, instanceID).
		Msg("starting signal-relay")

	// Connection registry
	reg := registry.New(registry.Config{
		SendBuffer:   cfg.Registry.SendBuffer,
		IdleTimeout:  cfg.Registry.IdleTimeout,
		ReapInterval: cfg.Registry.ReapInterval,
	})

	// Shared bus + bridge. Without the bus the relay still serves
	// single-process traffic correctly.
	var bridge *relay.Bridge
	bus, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		logger.Warn().Err(err).Msg("shared bus unreachable, running single-process")
	} else {
		defer bus.Close()
		bridge = relay.NewBridge(bus, instanceID)
		defer bridge.Close()
		logger.Info().Str("driver", cfg.PubSub.Driver).Msg("connected to shared bus")
	}

	broadcaster := relay.NewBroadcaster(reg, bridge)
	relay.Wire(reg, broadcaster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.StartReaper(ctx)

	// HTTP surface
	h := handler.New(reg, broadcaster, cfg)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	h.RegisterRoutes(r)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE streams stay open indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("signal-relay listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down signal-relay")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("signal-relay stopped")
}
