package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"riffline-calling/internal/database"
	"riffline-calling/internal/device"
	callHandler "riffline-calling/internal/handler/http/call"
	voiceHandler "riffline-calling/internal/handler/http/voice"
	wsHandler "riffline-calling/internal/handler/ws"
	"riffline-calling/internal/middleware"
	"riffline-calling/internal/repository/cassandra"
	"riffline-calling/internal/repository/cockroach"
	"riffline-calling/internal/repository/sqlite"
	callService "riffline-calling/internal/service/call"
	"riffline-calling/internal/service/directory"
	voiceService "riffline-calling/internal/service/voice"
	"riffline-calling/internal/signaling"
	"riffline-calling/internal/transport"
	"riffline-calling/pkg/config"
	"riffline-calling/pkg/constants"
	"riffline-calling/pkg/durable"
	"riffline-calling/pkg/jwt"
	"riffline-calling/pkg/logger"
	"riffline-calling/pkg/metrics"
	"riffline-calling/pkg/resilience"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		logger.InitDefault()
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		logger.InitDefault()
		logger.Warn("Falling back to default logger", zap.Error(err))
	}
	defer logger.Sync()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	clk := clock.New()

	// 2. Shared calls table (optional)
	var calls directory.CallStore
	var profiles directory.ProfileLookup
	if cfg.Database.Enabled {
		db, err := database.NewDB(ctx, &database.CockroachConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			logger.Warn("CockroachDB unavailable, running with local call directory", zap.Error(err))
		} else {
			defer db.Close()
			callRepo := cockroach.NewCallRepository(db.Pool)
			if err := callRepo.EnsureSchema(ctx); err != nil {
				logger.Fatal("Failed to prepare calls table", zap.Error(err))
			}
			calls = callRepo
			profiles = cockroach.NewProfileRepository(db.Pool)
			logger.Info("Connected to CockroachDB")
		}
	}

	// 3. Signal store (optional)
	var signalStore signaling.SignalStore
	if cfg.Cassandra.Enabled {
		cass, err := database.NewCassandraDB(&database.CassandraConfig{
			Hosts:    cfg.Cassandra.Hosts,
			Keyspace: cfg.Cassandra.Keyspace,
			Username: cfg.Cassandra.Username,
			Password: cfg.Cassandra.Password,
			Timeout:  cfg.Cassandra.Timeout,
		})
		if err != nil {
			logger.Warn("Cassandra unavailable, signals will not be persisted", zap.Error(err))
		} else {
			defer cass.Close()
			signalRepo := cassandra.NewSignalRepository(cass.Session, cfg.Signal.TTL)
			if err := signalRepo.EnsureSchema(ctx); err != nil {
				logger.Fatal("Failed to prepare call_signals table", zap.Error(err))
			}
			signalStore = signalRepo
			logger.Info("Connected to Cassandra")
		}
	}

	// 4. Realtime transport
	var redisDB *database.RedisClient
	var tr transport.Transport
	switch cfg.Signal.Transport {
	case "redis":
		redisDB = database.NewRedisDB(&database.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Timeout:  cfg.Redis.Timeout,
		})
		redisDB.StartHealthCheck(ctx, constants.RedisHealthCheckInterval)
		tr = transport.NewRedisTransport(redisDB)
	case "nats":
		natsTr, err := transport.ConnectNATS(cfg.NATS.URL, cfg.NATS.Name)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		tr = natsTr
	default:
		tr = transport.NewMemoryTransport()
		logger.Warn("Using in-process signal transport; calls reach only this process")
	}
	defer tr.Close()
	logger.Info("Signal transport ready", zap.String("transport", cfg.Signal.Transport))

	// 5. Local history
	historyDB, err := database.OpenSQLite(cfg.History.Dir)
	if err != nil {
		logger.Fatal("Failed to open local history", zap.Error(err))
	}
	defer historyDB.Close()

	history, err := sqlite.NewHistoryRepository(historyDB, cfg.History.Limit)
	if err != nil {
		logger.Fatal("Failed to prepare local history", zap.Error(err))
	}

	// 6. Services
	breaker := resilience.NewCircuitBreaker("calls_table", constants.BreakerFailureThreshold, constants.BreakerCooldown,
		resilience.WithClock(clk))
	channel := signaling.NewChannel(tr, signalStore, clk)

	dir := directory.NewService(directory.Deps{
		Calls:     calls,
		History:   history,
		Profiles:  profiles,
		Publisher: channel,
		Mutator:   durable.NewMutator(breaker, constants.RemoteWriteTimeout),
		Clock:     clk,
		Limit:     cfg.History.Limit,
	})
	defer dir.Close()

	manager := callService.NewManager(cfg.Device.UserID, callService.Deps{
		Directory: dir,
		Feed:      channel,
		Capture:   device.NewSimulatedCapture(false),
		Effects:   device.NewEffects(device.NewSimulatedRingtone(nil), device.NewSimulatedHaptics()),
		Clock:     clk,
	}, callService.Options{
		RingTimeout:     cfg.Call.RingTimeout,
		OutgoingTimeout: cfg.Call.OutgoingTimeout,
		MaxDuration:     cfg.Call.MaxDuration,
	})

	if err := manager.Start(ctx); err != nil {
		logger.Fatal("Failed to start call manager", zap.Error(err))
	}
	if err := manager.Reconcile(ctx); err != nil {
		logger.Warn("Call reconciliation failed", zap.Error(err))
	}

	voiceSvc := voiceService.NewService(nil, clk)

	// 7. Gateway
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Audience)
	allowedOrigins := middleware.ParseOrigins(cfg.Server.AllowedOrigins)

	callHdlr := callHandler.NewHandler(manager, dir)
	voiceHdlr := voiceHandler.NewHandler(voiceSvc)
	stateHub := wsHandler.NewStateHub(manager, appMetrics, allowedOrigins, wsHandler.DefaultMaxConnections)

	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.HealthCheck(cfg.Server.ServiceName, func() map[string]string {
		degraded := map[string]string{}
		if state := breaker.State(); state != resilience.CircuitBreakerClosed {
			degraded["calls_table"] = string(state)
		}
		if redisDB != nil && redisDB.IsDegraded() {
			degraded["redis"] = "degraded"
		}
		return degraded
	}))
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(allowedOrigins))
	router.Use(prometheusMiddleware.Handler())
	router.Use(middleware.RequestTimeout(constants.RemoteWriteTimeout * 2))

	router.NoRoute(middleware.NoRoute())
	router.GET("/metrics", middleware.MetricsHandler(prometheus.DefaultGatherer))

	auth := middleware.AuthMiddleware(jwtManager, cfg.Device.UserID)

	v1 := router.Group("/v1/calls")
	v1.Use(auth)
	{
		v1.POST("/initiate", callHdlr.InitiateCall)
		v1.POST("/:id/answer", callHdlr.AnswerCall)
		v1.POST("/:id/decline", callHdlr.DeclineCall)
		v1.POST("/:id/end", callHdlr.EndCall)
		v1.POST("/signal", callHdlr.SendSignal)
		v1.POST("/toggle/:kind", callHdlr.Toggle)
		v1.POST("/reconcile", callHdlr.Reconcile)
		v1.GET("/current", callHdlr.GetCurrent)
		v1.GET("/history", callHdlr.GetHistory)
		v1.GET("/history/remote", callHdlr.GetRemoteHistory)

		v1.GET("/ws/state", stateHub.ServeWS)
	}

	voice := router.Group("/v1/voice")
	voice.Use(auth)
	{
		voice.GET("/channels", voiceHdlr.ListChannels)
		voice.POST("/channels/:id/join", voiceHdlr.Join)
		voice.GET("/sessions/:id", voiceHdlr.GetSession)
		voice.POST("/sessions/:id/leave", voiceHdlr.Leave)
		voice.POST("/sessions/:id/mute", voiceHdlr.SetMuted)
		voice.POST("/sessions/:id/speaking", voiceHdlr.SetSpeaking)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Call agent starting",
			zap.String("addr", srv.Addr),
			logger.UserID(cfg.Device.UserID),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 8. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down call agent")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer shutdownCancel()

	stateHub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	manager.Close()
	cancel()
}
