package server

import (
	"context"
	"log/slog"

	"backend-skitrip/internal/auth"
	"backend-skitrip/internal/config"
	"backend-skitrip/internal/db"
	"backend-skitrip/internal/docstore"
	"backend-skitrip/internal/logging"
	"backend-skitrip/internal/metrics"
	"backend-skitrip/internal/resort"
	"backend-skitrip/internal/stream"
	"backend-skitrip/internal/trip"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Stream  *stream.Hub
	Store   *docstore.Local
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewServer wires the document store, sign-in and trip helper routes. With
// no Postgres pool documents live in memory.
func NewServer(cfg config.Config, pg *pgxpool.Pool, redisClient *redis.Client, log *slog.Logger) *Server {
	log = logging.OrDefault(log)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient, log.With("component", "stream"))
	var backend docstore.Backend = docstore.NewMemoryBackend()
	if pg != nil {
		backend = docstore.NewPostgresBackend(pg)
	}

	s := &Server{
		App:     app,
		Cfg:     cfg,
		DB:      pg,
		Redis:   redisClient,
		Stream:  hub,
		Store:   docstore.NewLocal(backend, hub, log.With("component", "docstore")),
		Metrics: metrics.New(),
		Logger:  log,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(s.Metrics.Handler()))

	var users db.Querier
	if s.DB != nil {
		users = s.DB
	}
	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, users))
	trip.RegisterRoutes(s.App, s.Cfg.ShareOrigin)
	docstore.RegisterRoutes(s.App, s.Store, s.Metrics, jwtMiddleware)
}

// Prepare creates the schema when documents are kept in Postgres and seeds
// the resort status snapshot when one is configured.
func (s *Server) Prepare(ctx context.Context) error {
	if s.DB != nil {
		if err := db.EnsureSchema(ctx, s.DB); err != nil {
			return err
		}
	}
	if s.Cfg.ResortStatusFile == "" {
		return nil
	}
	st, err := resort.LoadStatusFile(s.Cfg.ResortStatusFile)
	if err != nil {
		return err
	}
	s.Logger.Info("seeding resort status", "file", s.Cfg.ResortStatusFile, "lifts_open", st.LiftsOpen)
	return resort.Publish(ctx, s.Store, st)
}

// Close releases the stream hub; the pool and Redis client belong to the caller.
func (s *Server) Close() {
	s.Stream.Close()
}
