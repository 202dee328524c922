package server

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/pulsedate/realtime/config"
	"github.com/pulsedate/realtime/src/auth"
	"github.com/pulsedate/realtime/src/hub"
	"github.com/pulsedate/realtime/src/match"
	"github.com/pulsedate/realtime/src/notify"
	"github.com/pulsedate/realtime/src/presence"
	"github.com/pulsedate/realtime/src/store"
	"github.com/pulsedate/realtime/src/types"
)

// Store is the persistence surface the server composes over.
type Store interface {
	store.ChatStore
	store.LikeStore
}

// Server wires the HTTP routes and WebSocket endpoints over the hub.
// All collaborators are injected; there is no process-wide singleton.
type Server struct {
	cfg         *config.Config
	hub         *hub.Hub
	store       Store
	presence    *presence.Tracker
	resolver    auth.Resolver
	notifier    *notify.Notifier
	coordinator *match.Coordinator
	logger      zerolog.Logger
	app         *fiber.App
}

func New(cfg *config.Config, h *hub.Hub, st Store, tracker *presence.Tracker, resolver auth.Resolver, notifier *notify.Notifier, coordinator *match.Coordinator, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		hub:         h,
		store:       st,
		presence:    tracker,
		resolver:    resolver,
		notifier:    notifier,
		coordinator: coordinator,
		logger:      logger.With().Str("component", "server").Logger(),
	}

	app := fiber.New()
	app.Get("/health", s.handleHealth)
	app.Get("/ws/info", s.handleInfo)
	app.Post("/api/v1/matching/like", s.handleLike)
	s.app = app

	return s
}

// Handler returns the root fasthttp handler. WebSocket upgrade paths
// are served directly; everything else goes through the Fiber app,
// which does not expose *fasthttp.RequestCtx to its handlers.
func (s *Server) Handler() fasthttp.RequestHandler {
	appHandler := s.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if strings.HasPrefix(path, "/ws/") && strings.EqualFold(upgrade, "websocket") {
			s.handleWS(ctx)
			return
		}
		appHandler(ctx)
	}
}

// Listen serves until ctx is canceled.
func (s *Server) Listen(ctx context.Context) error {
	srv := &fasthttp.Server{
		Handler:         s.Handler(),
		ReadBufferSize:  s.cfg.ReadBufferSize,
		WriteBufferSize: s.cfg.WriteBufferSize,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(s.cfg.Addr)
	}()

	select {
	case <-ctx.Done():
		return srv.Shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  "/ws",
		"clients":   s.hub.ClientCount(),
		"groups":    len(s.hub.Groups()),
	})
}

type likeRequest struct {
	UserID int64 `json:"user_id"`
}

// handleLike is the like business rule driving the match coordinator:
// record the like, push a new_like notification, and on mutual interest
// run the full match side effect. Coordinator failures surface as 500s,
// never silently swallowed.
func (s *Server) handleLike(c fiber.Ctx) error {
	identity, err := s.resolver.Resolve(c.Context(), bearerCredential(c.Get("Authorization")))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"detail": "authentication required"})
	}

	var req likeRequest
	if err := c.Bind().Body(&req); err != nil || req.UserID == 0 || req.UserID == identity.UserID {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "invalid user_id"})
	}

	mutual, err := s.store.AddLike(c.Context(), identity.UserID, req.UserID)
	if err != nil {
		s.logger.Error().Err(err).Msg("add like failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": "like failed"})
	}

	if liker, err := s.store.UserSummary(c.Context(), identity.UserID); err == nil {
		if err := s.notifier.NewLike(req.UserID, liker); err != nil {
			s.logger.Error().Err(err).Msg("like notification failed")
		}
	}

	if !mutual {
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"detail": "like recorded", "is_match": false})
	}

	result, err := s.coordinator.MutualLike(c.Context(), identity.UserID, req.UserID)
	if err != nil {
		s.logger.Error().Err(err).Msg("match side effect failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": "match failed"})
	}

	other, err := s.store.UserSummary(c.Context(), req.UserID)
	if err != nil {
		other = types.UserSummary{ID: req.UserID}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"detail":   "like recorded",
		"is_match": true,
		"match": types.MatchSummary{
			ID:        result.Match.ID,
			User:      other,
			CreatedAt: result.Match.CreatedAt,
		},
	})
}

// bearerCredential strips the Bearer scheme from an Authorization header.
func bearerCredential(header string) string {
	if h, ok := strings.CutPrefix(header, "Bearer "); ok {
		return h
	}
	return header
}
