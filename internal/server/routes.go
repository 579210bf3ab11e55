package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func (s *FiberServer) RegisterFiberRoutes() {
	// Apply CORS middleware
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	// Basic routes
	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	// Read API (cache-backed, side-effect-free)
	api.Get("/stats", s.statsHandler)
	api.Get("/leaderboard", s.leaderboardHandler)
	api.Get("/tables/open", s.openTablesHandler)
	api.Get("/tables/:tableId", s.tableSnapshotHandler)
	api.Get("/player/:wallet/stats", s.playerStatsHandler)

	// Table lifecycle
	api.Post("/tables", s.createTableHandler)
	api.Post("/tables/:tableId/join", s.joinTableHandler)
	api.Post("/tables/:tableId/commit", s.submitCommitmentHandler)
	api.Post("/tables/:tableId/reveal", s.revealSeedHandler)
	api.Post("/tables/:tableId/act", s.actHandler)

	// WebSocket route
	s.App.Get("/ws", websocket.New(s.subscriptionHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"database": s.db.Health(),
		"game": fiber.Map{
			"status":            "running",
			"live_tables":       s.manager.TableCount(),
			"connected_clients": s.hub.ClientCount(),
		},
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	} else {
		health["cache"] = fiber.Map{"status": "down", "message": "fallback store only"}
	}
	return c.JSON(health)
}
