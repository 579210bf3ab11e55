package database

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"soljack/internal/game"
)

// Service is the settlement archive and the source of truth for the
// read-mostly aggregate queries. Ledger escrow and payouts live outside;
// this records outcomes and serves leaderboard and stats.
type Service interface {
	Health() map[string]string
	Close()

	RecordSettlement(ctx context.Context, s game.Settlement) error
	PlatformStats(ctx context.Context) (PlatformStats, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	PlayerStats(ctx context.Context, wallet string) (PlayerStats, error)
}

type PlatformStats struct {
	TotalHands    int64   `json:"totalHands"`
	TotalVolume   uint64  `json:"totalVolume"`
	DealerWinRate float64 `json:"dealerWinRate"`
	PlayerWinRate float64 `json:"playerWinRate"`
	ActiveTables  int     `json:"activeTables"`
}

type LeaderboardEntry struct {
	Rank       int    `json:"rank"`
	Wallet     string `json:"wallet"`
	Wins       int64  `json:"wins"`
	Losses     int64  `json:"losses"`
	TotalHands int64  `json:"totalHands"`
}

type PlayerStats struct {
	Wallet       string `json:"wallet"`
	Wins         int64  `json:"wins"`
	Losses       int64  `json:"losses"`
	TotalHands   int64  `json:"totalHands"`
	TotalWagered uint64 `json:"totalWagered"`
	TotalWon     uint64 `json:"totalWon"`
}

type service struct {
	pool *pgxpool.Pool
}

var (
	database   = getEnv("SOLJACK_DB_DATABASE", "soljack")
	password   = getEnv("SOLJACK_DB_PASSWORD", "postgres")
	username   = getEnv("SOLJACK_DB_USERNAME", "postgres")
	port       = getEnv("SOLJACK_DB_PORT", "5432")
	host       = getEnv("SOLJACK_DB_HOST", "localhost")
	schema     = getEnv("SOLJACK_DB_SCHEMA", "public")
	dbInstance *service
)

func New() Service {
	if dbInstance != nil {
		return dbInstance
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		username, password, host, port, database, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		logrus.Fatalf("[DB] Failed to create pool: %v", err)
	}

	dbInstance = &service{pool: pool}
	return dbInstance
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	poolStats := s.pool.Stat()
	stats["total_conns"] = strconv.FormatInt(int64(poolStats.TotalConns()), 10)
	stats["idle_conns"] = strconv.FormatInt(int64(poolStats.IdleConns()), 10)
	stats["acquired_conns"] = strconv.FormatInt(int64(poolStats.AcquiredConns()), 10)

	return stats
}

func (s *service) Close() {
	logrus.Infof("[DB] Disconnected from database: %s", database)
	s.pool.Close()
}

// RecordSettlement archives one terminal outcome.
func (s *service) RecordSettlement(ctx context.Context, set game.Settlement) error {
	winnerRole := ""
	if set.Winner != "" {
		winnerRole = string(set.Winner)
	}
	loser := ""
	if set.WinnerIdentity != "" {
		if set.WinnerIdentity == set.Creator {
			loser = set.Opponent
		} else {
			loser = set.Creator
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO hands (
			table_address, bet_amount, creator, opponent, creator_role,
			winner_role, winner_wallet, loser_wallet, push, void, reason,
			player_total, dealer_total, settled_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		set.TableAddress, int64(set.BetAmount), set.Creator, set.Opponent,
		string(set.CreatorRole), winnerRole, set.WinnerIdentity, loser,
		set.Push, set.Void, set.Reason, set.PlayerTotal, set.DealerTotal,
		set.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}
	return nil
}

// PlatformStats aggregates across the full archive. ActiveTables is filled
// in by the caller from live manager state.
func (s *service) PlatformStats(ctx context.Context) (PlatformStats, error) {
	var stats PlatformStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(bet_amount) * 2, 0)::bigint,
			COALESCE(AVG(CASE WHEN winner_role = 'DEALER' THEN 1.0 ELSE 0.0 END), 0)::float8,
			COALESCE(AVG(CASE WHEN winner_role = 'PLAYER' THEN 1.0 ELSE 0.0 END), 0)::float8
		FROM hands`,
	).Scan(&stats.TotalHands, &stats.TotalVolume, &stats.DealerWinRate, &stats.PlayerWinRate)
	if err != nil {
		return PlatformStats{}, fmt.Errorf("platform stats: %w", err)
	}
	return stats, nil
}

// Leaderboard ranks wallets by win count.
func (s *service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx, `
		WITH outcomes AS (
			SELECT winner_wallet AS wallet, 1 AS win, 0 AS loss FROM hands WHERE winner_wallet <> ''
			UNION ALL
			SELECT loser_wallet, 0, 1 FROM hands WHERE loser_wallet <> ''
		)
		SELECT wallet, SUM(win)::bigint, SUM(loss)::bigint, COUNT(*)
		FROM outcomes
		GROUP BY wallet
		ORDER BY SUM(win) DESC, COUNT(*) DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]LeaderboardEntry, 0, limit)
	rank := 0
	for rows.Next() {
		rank++
		e := LeaderboardEntry{Rank: rank}
		if err := rows.Scan(&e.Wallet, &e.Wins, &e.Losses, &e.TotalHands); err != nil {
			return nil, fmt.Errorf("leaderboard scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PlayerStats aggregates one wallet's history.
func (s *service) PlayerStats(ctx context.Context, wallet string) (PlayerStats, error) {
	stats := PlayerStats{Wallet: wallet}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN winner_wallet = $1 THEN 1 ELSE 0 END), 0)::bigint,
			COALESCE(SUM(CASE WHEN loser_wallet = $1 THEN 1 ELSE 0 END), 0)::bigint,
			COUNT(*),
			COALESCE(SUM(bet_amount), 0)::bigint,
			COALESCE(SUM(CASE WHEN winner_wallet = $1 THEN bet_amount * 2 ELSE 0 END), 0)::bigint
		FROM hands
		WHERE creator = $1 OR opponent = $1`, wallet,
	).Scan(&stats.Wins, &stats.Losses, &stats.TotalHands, &stats.TotalWagered, &stats.TotalWon)
	if err != nil {
		return PlayerStats{}, fmt.Errorf("player stats: %w", err)
	}
	return stats, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
