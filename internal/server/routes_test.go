package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"soljack/internal/cache"
	"soljack/internal/database"
	"soljack/internal/game"
)

// stubDB keeps route tests off a real Postgres.
type stubDB struct {
	platform database.PlatformStats
	player   database.PlayerStats
	board    []database.LeaderboardEntry
	recorded []game.Settlement
}

func (s *stubDB) Health() map[string]string { return map[string]string{"status": "up"} }
func (s *stubDB) Close()                    {}

func (s *stubDB) RecordSettlement(_ context.Context, set game.Settlement) error {
	s.recorded = append(s.recorded, set)
	return nil
}

func (s *stubDB) PlatformStats(_ context.Context) (database.PlatformStats, error) {
	return s.platform, nil
}

func (s *stubDB) Leaderboard(_ context.Context, limit int) ([]database.LeaderboardEntry, error) {
	if limit < len(s.board) {
		return s.board[:limit], nil
	}
	return s.board, nil
}

func (s *stubDB) PlayerStats(_ context.Context, wallet string) (database.PlayerStats, error) {
	out := s.player
	out.Wallet = wallet
	return out, nil
}

func newTestServer() (*FiberServer, *stubDB) {
	db := &stubDB{
		platform: database.PlatformStats{TotalHands: 12, TotalVolume: 2_400_000_000},
		board:    []database.LeaderboardEntry{{Rank: 1, Wallet: "top-wallet", Wins: 9}},
	}

	hub := game.NewHub()
	go hub.Run()

	s := &FiberServer{
		App:     fiber.New(),
		db:      db,
		store:   cache.NewResilient(nil, cache.NewMemoryStore()),
		hub:     hub,
		manager: game.NewManager(hub, game.Config{
			JoinTimeout:   time.Hour,
			CommitTimeout: time.Hour,
			TurnTimeout:   time.Hour,
			RetainFor:     time.Hour,
		}),
	}
	s.RegisterFiberRoutes()
	return s, db
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("could not marshal body: %v", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, path, reqBody)
	if err != nil {
		t.Fatalf("could not create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("could not read response body: %v", err)
	}

	var result map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			t.Fatalf("could not unmarshal response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, result
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer()

	status, body := doJSON(t, s.App, "GET", "/health", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["database"] == nil || body["game"] == nil {
		t.Errorf("health body missing sections: %v", body)
	}
}

func TestTableLifecycleRoutes(t *testing.T) {
	s, _ := newTestServer()

	status, body := doJSON(t, s.App, "POST", "/api/v1/tables", map[string]any{
		"betAmount": 100_000_000,
		"creator":   "walletA",
		"role":      "DEALER",
	})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, want 201 (%v)", status, body)
	}
	tableID, _ := body["tableId"].(string)
	if tableID == "" {
		t.Fatal("create returned no tableId")
	}

	status, body = doJSON(t, s.App, "GET", "/api/v1/tables/open", nil)
	if status != http.StatusOK {
		t.Fatalf("open tables status = %d, want 200", status)
	}
	if tables, ok := body["tables"].([]any); !ok || len(tables) != 1 {
		t.Errorf("open tables = %v, want one entry", body["tables"])
	}

	status, _ = doJSON(t, s.App, "POST", "/api/v1/tables/"+tableID+"/join", map[string]any{
		"opponent": "walletB",
	})
	if status != http.StatusOK {
		t.Fatalf("join status = %d, want 200", status)
	}

	seedA := game.GenerateSeed()
	seedB := game.GenerateSeed()
	for _, step := range []struct {
		participant string
		commitment  string
	}{
		{"walletA", game.HashCommitment(seedA)},
		{"walletB", game.HashCommitment(seedB)},
	} {
		status, body = doJSON(t, s.App, "POST", "/api/v1/tables/"+tableID+"/commit", map[string]any{
			"participant": step.participant,
			"commitment":  step.commitment,
		})
		if status != http.StatusOK {
			t.Fatalf("commit status for %s = %d (%v)", step.participant, status, body)
		}
	}
	for _, step := range []struct {
		participant string
		seed        string
	}{
		{"walletA", seedA},
		{"walletB", seedB},
	} {
		status, body = doJSON(t, s.App, "POST", "/api/v1/tables/"+tableID+"/reveal", map[string]any{
			"participant": step.participant,
			"seed":        step.seed,
		})
		if status != http.StatusOK {
			t.Fatalf("reveal status for %s = %d (%v)", step.participant, status, body)
		}
	}

	status, body = doJSON(t, s.App, "GET", "/api/v1/tables/"+tableID, nil)
	if status != http.StatusOK {
		t.Fatalf("snapshot status = %d, want 200", status)
	}
	if body["state"] != string(game.PhaseActive) {
		t.Errorf("state = %v, want %v", body["state"], game.PhaseActive)
	}
	if body["currentTurn"] != string(game.RolePlayer) {
		t.Errorf("currentTurn = %v, want %v", body["currentTurn"], game.RolePlayer)
	}

	// The creator declared DEALER, so walletB (PLAYER) acts first.
	status, body = doJSON(t, s.App, "POST", "/api/v1/tables/"+tableID+"/act", map[string]any{
		"participant": "walletB",
		"action":      "stand",
	})
	if status != http.StatusOK {
		t.Fatalf("act status = %d (%v)", status, body)
	}
	if body["currentTurn"] != string(game.RoleDealer) {
		t.Errorf("turn after stand = %v, want %v", body["currentTurn"], game.RoleDealer)
	}
}

func TestRouteErrorMapping(t *testing.T) {
	s, _ := newTestServer()

	status, _ := doJSON(t, s.App, "GET", "/api/v1/tables/no-such-table", nil)
	if status != http.StatusNotFound {
		t.Errorf("unknown table status = %d, want 404", status)
	}

	status, _ = doJSON(t, s.App, "POST", "/api/v1/tables", map[string]any{
		"betAmount": 123,
		"creator":   "walletA",
		"role":      "DEALER",
	})
	if status != http.StatusBadRequest {
		t.Errorf("off-tier bet status = %d, want 400", status)
	}

	// A stranger acting on someone else's table is forbidden.
	_, body := doJSON(t, s.App, "POST", "/api/v1/tables", map[string]any{
		"betAmount": 100_000_000,
		"creator":   "walletA",
		"role":      "DEALER",
	})
	tableID := body["tableId"].(string)
	doJSON(t, s.App, "POST", "/api/v1/tables/"+tableID+"/join", map[string]any{"opponent": "walletB"})

	status, _ = doJSON(t, s.App, "POST", "/api/v1/tables/"+tableID+"/commit", map[string]any{
		"participant": "stranger",
		"commitment":  game.HashCommitment(game.GenerateSeed()),
	})
	if status != http.StatusForbidden {
		t.Errorf("stranger commit status = %d, want 403", status)
	}
}

func TestStatsHandler_CachesBody(t *testing.T) {
	s, db := newTestServer()

	status, body := doJSON(t, s.App, "GET", "/api/v1/stats", nil)
	if status != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", status)
	}
	if int64(body["totalHands"].(float64)) != 12 {
		t.Errorf("totalHands = %v, want 12", body["totalHands"])
	}

	// Second read must come from the cache, not the database.
	db.platform.TotalHands = 99
	_, body = doJSON(t, s.App, "GET", "/api/v1/stats", nil)
	if int64(body["totalHands"].(float64)) != 12 {
		t.Errorf("cached totalHands = %v, want 12", body["totalHands"])
	}
}

func TestOpenTablesHandler_CachesBody(t *testing.T) {
	s, _ := newTestServer()

	_, body := doJSON(t, s.App, "POST", "/api/v1/tables", map[string]any{
		"betAmount": 100_000_000,
		"creator":   "walletA",
		"role":      "DEALER",
	})
	if body["tableId"] == nil {
		t.Fatal("create returned no tableId")
	}

	status, body := doJSON(t, s.App, "GET", "/api/v1/tables/open", nil)
	if status != http.StatusOK {
		t.Fatalf("open tables status = %d, want 200", status)
	}
	if tables, ok := body["tables"].([]any); !ok || len(tables) != 1 {
		t.Fatalf("open tables = %v, want one entry", body["tables"])
	}

	// A table created behind the API's back is invisible until the lobby
	// TTL lapses: the second read comes from the cache.
	if _, err := s.manager.Create(500_000_000, "walletC", game.RolePlayer); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, body = doJSON(t, s.App, "GET", "/api/v1/tables/open", nil)
	if tables, ok := body["tables"].([]any); !ok || len(tables) != 1 {
		t.Errorf("second read = %v entries, want the cached single entry", body["tables"])
	}
}

func TestTableSnapshotHandler_CachesBody(t *testing.T) {
	s, _ := newTestServer()

	_, body := doJSON(t, s.App, "POST", "/api/v1/tables", map[string]any{
		"betAmount": 100_000_000,
		"creator":   "walletA",
		"role":      "DEALER",
	})
	tableID := body["tableId"].(string)

	status, body := doJSON(t, s.App, "GET", "/api/v1/tables/"+tableID, nil)
	if status != http.StatusOK {
		t.Fatalf("snapshot status = %d, want 200", status)
	}
	if body["state"] != string(game.PhaseWaiting) {
		t.Fatalf("state = %v, want %v", body["state"], game.PhaseWaiting)
	}

	// Mutate the table directly so no handler drops the cache key; a read
	// inside the TTL must still serve the cached WAITING snapshot.
	if err := s.manager.Join(tableID, "walletB"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	_, body = doJSON(t, s.App, "GET", "/api/v1/tables/"+tableID, nil)
	if body["state"] != string(game.PhaseWaiting) {
		t.Errorf("second read state = %v, want cached %v", body["state"], game.PhaseWaiting)
	}
}

func TestLifecycleDropsSnapshotCache(t *testing.T) {
	s, _ := newTestServer()

	_, body := doJSON(t, s.App, "POST", "/api/v1/tables", map[string]any{
		"betAmount": 100_000_000,
		"creator":   "walletA",
		"role":      "DEALER",
	})
	tableID := body["tableId"].(string)

	doJSON(t, s.App, "GET", "/api/v1/tables/"+tableID, nil) // warm the cache

	status, _ := doJSON(t, s.App, "POST", "/api/v1/tables/"+tableID+"/join", map[string]any{
		"opponent": "walletB",
	})
	if status != http.StatusOK {
		t.Fatalf("join status = %d, want 200", status)
	}

	_, body = doJSON(t, s.App, "GET", "/api/v1/tables/"+tableID, nil)
	if body["state"] != string(game.PhaseCommitting) {
		t.Errorf("state after join = %v, want %v (join must drop the cached snapshot)",
			body["state"], game.PhaseCommitting)
	}
}

func TestLeaderboardHandler(t *testing.T) {
	s, _ := newTestServer()

	status, body := doJSON(t, s.App, "GET", "/api/v1/leaderboard?limit=10", nil)
	if status != http.StatusOK {
		t.Fatalf("leaderboard status = %d, want 200", status)
	}
	entries, ok := body["leaderboard"].([]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("leaderboard = %v, want one entry", body["leaderboard"])
	}
}

func TestPlayerStatsHandler(t *testing.T) {
	s, _ := newTestServer()

	status, body := doJSON(t, s.App, "GET", "/api/v1/player/walletX/stats", nil)
	if status != http.StatusOK {
		t.Fatalf("player stats status = %d, want 200", status)
	}
	if body["wallet"] != "walletX" {
		t.Errorf("wallet = %v, want walletX", body["wallet"])
	}
}
