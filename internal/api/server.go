package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/carewire/realtime-service/internal/apperr"
	"github.com/carewire/realtime-service/internal/auth"
	"github.com/carewire/realtime-service/internal/config"
	"github.com/carewire/realtime-service/internal/models"
	"github.com/carewire/realtime-service/internal/presence"
	"github.com/carewire/realtime-service/internal/service"
	"github.com/carewire/realtime-service/internal/ws"
)

type Server struct {
	guard   *auth.Guard
	chats   *service.ChatService
	tracker *presence.Tracker
	gateway *ws.Gateway
	logger  *zap.SugaredLogger
}

// NewServer wires the HTTP surface: health, metrics, the websocket
// upgrade route, and the REST endpoints used on initial page load and by
// dashboard views.
func NewServer(cfg *config.Config, guard *auth.Guard, chats *service.ChatService, tracker *presence.Tracker, gateway *ws.Gateway, logger *zap.SugaredLogger) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server{guard: guard, chats: chats, tracker: tracker, gateway: gateway, logger: logger}

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/v1")
	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/ws", websocket.New(gateway.Handler()))

	authed := v1.Group("", s.requireAuth)
	authed.Get("/conversations", s.listConversations)
	authed.Get("/conversations/:id/messages", s.listMessages)
	authed.Get("/presence/:user_id", s.presenceStatus)
	authed.Post("/presence/status", s.bulkPresence)
	authed.Post("/users/:user_id/sign-out", s.forceSignOut)

	return app
}

// requireAuth admits the bearer token and stashes the admission for
// handlers. Rejections surface as 401 with the same reason codes the
// gateway uses.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	header := c.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": apperr.ReasonMalformed})
	}
	adm, err := s.guard.Admit(c.Context(), parts[1])
	if err != nil {
		if apperr.IsAuthRejection(err) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": apperr.Reason(err)})
		}
		s.logger.Errorw("admission", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal"})
	}
	c.Locals("admission", adm)
	return c.Next()
}

func admission(c *fiber.Ctx) *auth.Admission {
	return c.Locals("admission").(*auth.Admission)
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	adm := admission(c)
	views, err := s.chats.ListForUser(c.Context(), adm.UserID)
	if err != nil {
		s.logger.Errorw("list conversations", "user_id", adm.UserID, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal"})
	}
	return c.JSON(fiber.Map{"data": views})
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	adm := admission(c)
	convID := c.Params("id")

	var before time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid before timestamp"})
		}
		before = t
	}
	limit, _ := strconv.ParseInt(c.Query("limit", "50"), 10, 64)

	msgs, err := s.chats.History(c.Context(), convID, adm.UserID, before, limit)
	if errors.Is(err, apperr.ErrNotAParticipant) || errors.Is(err, apperr.ErrConversationNotFound) {
		// same response either way: membership is not disclosed
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": apperr.ReasonNotAParticipant})
	}
	if err != nil {
		s.logger.Errorw("list messages", "conversation_id", convID, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal"})
	}
	return c.JSON(fiber.Map{"data": msgs})
}

func (s *Server) presenceStatus(c *fiber.Ctx) error {
	rec := s.tracker.Record(c.Params("user_id"))
	return c.JSON(rec)
}

type bulkPresenceRequest struct {
	UserIDs []string `json:"user_ids"`
}

// forceSignOut revokes a user's sessions and closes their live
// connections. Admins only; used when an account is compromised or a
// staff member leaves.
func (s *Server) forceSignOut(c *fiber.Ctx) error {
	adm := admission(c)
	if adm.Role != models.RoleAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin only"})
	}
	closed := s.gateway.ForceSignOut(c.Context(), c.Params("user_id"))
	return c.JSON(fiber.Map{"data": fiber.Map{"connections_closed": closed}})
}

// bulkPresence serves online indicators for dashboard and profile views
// without requiring a duplex connection.
func (s *Server) bulkPresence(c *fiber.Ctx) error {
	var req bulkPresenceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	return c.JSON(fiber.Map{"data": s.tracker.BulkStatus(req.UserIDs)})
}
