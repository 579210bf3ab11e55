package server

import (
	"context"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"soljack/internal/cache"
	"soljack/internal/database"
	"soljack/internal/game"
	"soljack/internal/ledger"
)

type FiberServer struct {
	*fiber.App

	db      database.Service
	cache   cache.Service
	store   *cache.Resilient
	hub     *game.Hub
	manager *game.Manager
	watcher *ledger.Watcher

	cancelWatcher context.CancelFunc
}

func New() *FiberServer {
	// Initialize database
	db := database.New()

	// Initialize Redis cache; nil means fallback-only mode.
	redisService := cache.New()
	var primary cache.Store
	if redisService != nil {
		primary = cache.NewRedisStore(redisService.GetClient())
	}
	store := cache.NewResilient(primary, cache.NewMemoryStore())

	// Initialize game components
	hub := game.NewHub()
	manager := game.NewManager(hub, game.DefaultConfig())

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "soljack",
			AppName:       "soljack",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:      db,
		cache:   redisService,
		store:   store,
		hub:     hub,
		manager: manager,
	}

	manager.OnSettle = server.onSettle

	// Apply global middleware
	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()

	server.startWatcher()

	logrus.Info("[SERVER] Table manager and hub started")

	return server
}

// startWatcher wires the ledger subscription when an RPC endpoint and
// program id are configured; without them the coordinator runs local-only.
func (s *FiberServer) startWatcher() {
	endpoint := os.Getenv("SOLJACK_RPC_WS")
	programID := os.Getenv("SOLJACK_GAME_PROGRAM_ID")
	if endpoint == "" || programID == "" {
		logrus.Info("[SERVER] No ledger RPC configured, watcher disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelWatcher = cancel

	source := ledger.NewRPCSource(endpoint, programID, os.Getenv("SOLJACK_COMMITMENT"))
	s.watcher = ledger.NewWatcher(s.hub, s.store)

	go source.Run(ctx)
	go s.watcher.Run(ctx, source.Notifications())
}

// onSettle archives the outcome and drops the derived read caches. Runs
// outside any table lock.
func (s *FiberServer) onSettle(set game.Settlement) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.db.RecordSettlement(ctx, set); err != nil {
		logrus.Errorf("[SERVER] Failed to archive settlement for %s: %v", set.TableAddress, err)
	}

	s.store.Delete(ctx, "platform:stats")
	s.store.Delete(ctx, "table:"+set.TableAddress)
	if set.Creator != "" {
		s.store.Delete(ctx, "player:"+set.Creator+":stats")
	}
	if set.Opponent != "" {
		s.store.Delete(ctx, "player:"+set.Opponent+":stats")
	}
}

// Shutdown gracefully shuts down the server and game components
func (s *FiberServer) Shutdown() error {
	logrus.Info("[SERVER] Shutting down...")

	if s.cancelWatcher != nil {
		s.cancelWatcher()
	}

	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return nil
}
