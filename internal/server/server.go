package server

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"canvas-backend/internal/auth"
	"canvas-backend/internal/commit"
	"canvas-backend/internal/config"
	"canvas-backend/internal/handler"
	"canvas-backend/internal/presence"
	"canvas-backend/internal/store"
)

// Server wires the fiber app, the REST surface and the sync socket.
type Server struct {
	app          *fiber.App
	cfg          *config.Config
	db           *gorm.DB
	redis        *redis.Client
	log          *zap.Logger
	hub          *handler.CanvasHub
	shapeHandler *handler.ShapeHandler
	health       *handler.HealthHandler
	jwtManager   *auth.JWTManager
}

// New builds the server. When redis is nil, presence falls back to the
// in-process channel and sessions on other servers are invisible.
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, log *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:         "Canvas Sync Backend",
		ServerHeader:    "Fiber",
		StrictRouting:   true,
		CaseSensitive:   true,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		Prefork:         false, // incompatible with websocket rooms
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
	})

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	st := store.NewGormStore(db, log)
	commits := commit.NewService(st, log)

	channels := func(pageID string) presence.Channel {
		if rdb == nil {
			return presence.NewMemoryChannel(pageID)
		}
		return presence.NewRedisChannel(rdb, pageID, log)
	}

	return &Server{
		app:          app,
		cfg:          cfg,
		db:           db,
		redis:        rdb,
		log:          log,
		hub:          handler.NewCanvasHub(st, commits, channels, cfg, log),
		shapeHandler: handler.NewShapeHandler(st, commits, log),
		health:       handler.NewHealthHandler(db, rdb),
		jwtManager:   jwtManager,
	}
}

// SetupMiddleware installs panic recovery and CORS.
func (s *Server) SetupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PATCH, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes registers the REST surface and the page sync socket.
func (s *Server) SetupRoutes() {
	s.app.Get("/health", s.health.Check)
	s.app.Get("/health/live", s.health.Liveness)
	s.app.Get("/health/ready", s.health.Readiness)

	api := s.app.Group("/api", auth.AuthMiddleware(s.jwtManager))
	api.Get("/pages/:pageId/shapes", s.shapeHandler.ListShapes)
	api.Get("/pages/:pageId/presence", s.hub.PagePresence)
	api.Post("/pages/:pageId/shapes", s.shapeHandler.CreateShape)
	api.Get("/shapes/:id", s.shapeHandler.GetShape)
	api.Patch("/shapes/:id", s.shapeHandler.UpdateShape)
	api.Post("/shapes/:id/reorder", s.shapeHandler.ReorderShape)
	api.Delete("/shapes/:id", s.shapeHandler.DeleteShape)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/ws/canvas/:pageId", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		accessToken := c.Cookies("access_token")
		if accessToken == "" {
			accessToken = c.Query("token")
		}
		if accessToken == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		claims, err := s.jwtManager.ValidateAccessToken(accessToken)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		pageID := c.Params("pageId")
		if _, err := uuid.Parse(pageID); err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}

		c.Locals("userID", claims.UserID)
		c.Locals("nickname", claims.Nickname)
		c.Locals("pageID", pageID)

		return c.Next()
	}, websocket.New(s.hub.HandleConnection, websocket.Config{
		ReadBufferSize:   s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:  s.cfg.WebSocket.WriteBufferSize,
		HandshakeTimeout: s.cfg.WebSocket.HandshakeTimeout,
	}))
}

// Start runs the server until SIGINT/SIGTERM.
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		s.log.Info("shutting down server")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			s.log.Error("server shutdown error", zap.Error(err))
		}
	}()

	s.log.Info("canvas sync backend starting",
		zap.String("addr", s.cfg.Server.Port),
		zap.String("ws", "/ws/canvas/:pageId"))

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown stops the server.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
