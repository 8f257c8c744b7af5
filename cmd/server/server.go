package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/thereayou/cipherchat/internal/cache"
	"github.com/thereayou/cipherchat/internal/config"
	"github.com/thereayou/cipherchat/internal/crypto"
	"github.com/thereayou/cipherchat/internal/database"
	"github.com/thereayou/cipherchat/internal/directory"
	"github.com/thereayou/cipherchat/internal/handlers"
	"github.com/thereayou/cipherchat/internal/keys"
	"github.com/thereayou/cipherchat/internal/metrics"
	"github.com/thereayou/cipherchat/internal/presence"
	"github.com/thereayou/cipherchat/internal/router"
	"github.com/thereayou/cipherchat/internal/services"
	"github.com/thereayou/cipherchat/internal/session"
	"github.com/thereayou/cipherchat/internal/websocket"
	"github.com/thereayou/cipherchat/pkg/auth"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg      config.Config
	log      *zap.Logger
	http     *http.Server
	db       *database.Database
	redis    *redis.Client
	registry *prometheus.Registry
	hub      *websocket.Hub
	keys     *keys.Coordinator
}

// NewServer connects the stores and wires every component.
func NewServer(ctx context.Context, cfg config.Config, log *zap.Logger) (*Server, error) {
	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}

	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL)
	blacklist := cache.NewRedisBlacklist(rdb)
	authn := services.NewTokenAuthenticator(jwtMgr, blacklist, db)

	hub := websocket.NewHub(log)
	dir := directory.New(db, m, log)
	tracker := presence.NewTracker(hub, dir, log)
	coordinator := keys.NewCoordinator(keys.Options{
		Rooms:      db,
		Identities: db,
		Keys:       db,
		Sealer:     crypto.NewBoxSealer(nil),
		Groups:     hub,
		Workers:    cfg.RotationWorkers,
		Metrics:    m,
		Logger:     log,
	})
	rt := router.New(router.Options{
		Identities: dir,
		Transport:  hub,
		Rooms:      db,
		Chats:      db,
		Messages:   db,
		Metrics:    m,
		Logger:     log,
	})
	sessions := session.NewService(session.Deps{
		Transport:   hub,
		Directory:   dir,
		Presence:    tracker,
		Router:      rt,
		Keys:        coordinator,
		Auth:        authn,
		Identities:  db,
		Rooms:       db,
		Chats:       db,
		Messages:    db,
		Metrics:     m,
		Logger:      log,
		DefaultRoom: cfg.DefaultRoom,
		PageSize:    cfg.PageSize(),
	})

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	APIEndpoints(engine, Handlers{
		Auth:      handlers.NewAuthHandler(db, jwtMgr, blacklist, log),
		Users:     handlers.NewUserHandler(db, dir, log),
		Rooms:     handlers.NewRoomHandler(db, db, tracker, dir, log),
		Messages:  handlers.NewHTTPMessageHandler(db, db, db, cfg.PageSize(), log),
		WebSocket: handlers.NewWebSocketHandler(sessions, cfg.AllowedOrigins, log),
		AuthMW:    authn,
		Registry:  reg,
	})

	return &Server{
		cfg:      cfg,
		log:      log,
		http:     &http.Server{Addr: cfg.Addr(), Handler: engine},
		db:       db,
		redis:    rdb,
		registry: reg,
		hub:      hub,
		keys:     coordinator,
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.hub.Run(hubCtx)

	if err := s.keys.SyncAll(ctx); err != nil {
		s.log.Warn("startup key sync incomplete", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	stopHub()
	s.keys.Wait()
	return err
}

func (s *Server) Close() {
	if err := s.redis.Close(); err != nil {
		s.log.Warn("failed to close redis", zap.Error(err))
	}
	if sqlDB, err := s.db.DB().DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			s.log.Warn("failed to close database", zap.Error(err))
		}
	}
}
