package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"soljack/internal/cache"
	"soljack/internal/game"
)

// errorStatus maps the closed set of domain errors to HTTP codes. Raw
// internal faults never reach a caller.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, game.ErrTableNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, game.ErrFairnessViolation):
		return fiber.StatusForbidden
	case errors.Is(err, game.ErrNotParticipant):
		return fiber.StatusForbidden
	default:
		return fiber.StatusBadRequest
	}
}

func domainError(c *fiber.Ctx, err error) error {
	return c.Status(errorStatus(err)).JSON(fiber.Map{"error": err.Error()})
}

// Table lifecycle handlers

func (s *FiberServer) createTableHandler(c *fiber.Ctx) error {
	var req struct {
		BetAmount uint64    `json:"betAmount"`
		Creator   string    `json:"creator"`
		Role      game.Role `json:"role"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Creator == "" {
		return c.Status(400).JSON(fiber.Map{"error": "creator is required"})
	}

	tableID, err := s.manager.Create(req.BetAmount, req.Creator, req.Role)
	if err != nil {
		return domainError(c, err)
	}

	ctx := c.Context()
	s.store.Delete(ctx, "tables:open")
	s.store.Delete(ctx, openTablesKey(req.BetAmount))
	return c.Status(201).JSON(fiber.Map{"tableId": tableID})
}

func (s *FiberServer) joinTableHandler(c *fiber.Ctx) error {
	var req struct {
		Opponent string `json:"opponent"`
	}
	if err := c.BodyParser(&req); err != nil || req.Opponent == "" {
		return c.Status(400).JSON(fiber.Map{"error": "opponent is required"})
	}

	if err := s.manager.Join(c.Params("tableId"), req.Opponent); err != nil {
		return domainError(c, err)
	}

	ctx := c.Context()
	s.store.Delete(ctx, "tables:open")
	s.store.Delete(ctx, "table:"+c.Params("tableId"))
	return c.JSON(fiber.Map{"ok": true})
}

func (s *FiberServer) submitCommitmentHandler(c *fiber.Ctx) error {
	var req struct {
		Participant string `json:"participant"`
		Commitment  string `json:"commitment"`
	}
	if err := c.BodyParser(&req); err != nil || req.Participant == "" || req.Commitment == "" {
		return c.Status(400).JSON(fiber.Map{"error": "participant and commitment are required"})
	}

	if err := s.manager.SubmitCommitment(c.Params("tableId"), req.Participant, req.Commitment); err != nil {
		return domainError(c, err)
	}

	s.store.Delete(c.Context(), "table:"+c.Params("tableId"))
	return c.JSON(fiber.Map{"ok": true})
}

func (s *FiberServer) revealSeedHandler(c *fiber.Ctx) error {
	var req struct {
		Participant string `json:"participant"`
		Seed        string `json:"seed"`
	}
	if err := c.BodyParser(&req); err != nil || req.Participant == "" || req.Seed == "" {
		return c.Status(400).JSON(fiber.Map{"error": "participant and seed are required"})
	}

	if err := s.manager.RevealSeed(c.Params("tableId"), req.Participant, req.Seed); err != nil {
		return domainError(c, err)
	}

	s.store.Delete(c.Context(), "table:"+c.Params("tableId"))
	return c.JSON(fiber.Map{"ok": true})
}

func (s *FiberServer) actHandler(c *fiber.Ctx) error {
	var req struct {
		Participant string      `json:"participant"`
		Action      game.Action `json:"action"`
	}
	if err := c.BodyParser(&req); err != nil || req.Participant == "" {
		return c.Status(400).JSON(fiber.Map{"error": "participant and action are required"})
	}

	view, err := s.manager.Act(c.Params("tableId"), req.Participant, req.Action)
	if err != nil {
		return domainError(c, err)
	}

	s.store.Delete(c.Context(), "table:"+c.Params("tableId"))
	return c.JSON(view)
}

// Read API handlers

func (s *FiberServer) statsHandler(c *fiber.Ctx) error {
	ctx := c.Context()

	if cached, ok := s.store.Get(ctx, "platform:stats"); ok {
		return sendCachedJSON(c, cached)
	}

	stats, err := s.db.PlatformStats(ctx)
	if err != nil {
		logrus.Errorf("[API] Platform stats query failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch stats"})
	}
	stats.ActiveTables = s.manager.TableCount()

	s.cacheJSON(ctx, "platform:stats", stats, cache.TTL_PLATFORM_STATS)
	return c.JSON(stats)
}

func (s *FiberServer) leaderboardHandler(c *fiber.Ctx) error {
	ctx := c.Context()

	limit := c.QueryInt("limit", 100)
	if limit < 1 || limit > 500 {
		limit = 100
	}

	key := fmt.Sprintf("leaderboard:%d", limit)
	if cached, ok := s.store.Get(ctx, key); ok {
		return sendCachedJSON(c, cached)
	}

	entries, err := s.db.Leaderboard(ctx, limit)
	if err != nil {
		logrus.Errorf("[API] Leaderboard query failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch leaderboard"})
	}

	body := fiber.Map{"leaderboard": entries}
	s.cacheJSON(ctx, key, body, cache.TTL_LEADERBOARD)
	return c.JSON(body)
}

func (s *FiberServer) openTablesHandler(c *fiber.Ctx) error {
	ctx := c.Context()

	var betAmount uint64
	if raw := c.Query("betAmount"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid betAmount"})
		}
		betAmount = parsed
	}

	key := openTablesKey(betAmount)
	if cached, ok := s.store.Get(ctx, key); ok {
		return sendCachedJSON(c, cached)
	}

	body := fiber.Map{"tables": s.manager.OpenTables(betAmount)}
	s.cacheJSON(ctx, key, body, cache.TTL_OPEN_TABLES)
	return c.JSON(body)
}

func (s *FiberServer) tableSnapshotHandler(c *fiber.Ctx) error {
	ctx := c.Context()

	key := "table:" + c.Params("tableId")
	if cached, ok := s.store.Get(ctx, key); ok {
		return sendCachedJSON(c, cached)
	}

	view, err := s.manager.Snapshot(c.Params("tableId"))
	if err != nil {
		return domainError(c, err)
	}

	s.cacheJSON(ctx, key, view, cache.TTL_TABLE_SNAPSHOT)
	return c.JSON(view)
}

func (s *FiberServer) playerStatsHandler(c *fiber.Ctx) error {
	ctx := c.Context()

	wallet := c.Params("wallet")
	if wallet == "" {
		return c.Status(400).JSON(fiber.Map{"error": "wallet is required"})
	}

	key := "player:" + wallet + ":stats"
	if cached, ok := s.store.Get(ctx, key); ok {
		return sendCachedJSON(c, cached)
	}

	stats, err := s.db.PlayerStats(ctx, wallet)
	if err != nil {
		logrus.Errorf("[API] Player stats query failed for %s: %v", wallet, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch player stats"})
	}

	s.cacheJSON(ctx, key, stats, cache.TTL_PLAYER_STATS)
	return c.JSON(stats)
}

// openTablesKey names the lobby cache entry, per bet tier when filtered.
func openTablesKey(bet uint64) string {
	if bet == 0 {
		return "tables:open"
	}
	return fmt.Sprintf("tables:open:%d", bet)
}

// cacheJSON best-effort stores the marshalled body under the key.
func (s *FiberServer) cacheJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	body, err := json.Marshal(v)
	if err != nil {
		logrus.Errorf("[API] Cache marshal failed for %q: %v", key, err)
		return
	}
	s.store.Set(ctx, key, string(body), ttl)
}

func sendCachedJSON(c *fiber.Ctx, body string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.SendString(body)
}
