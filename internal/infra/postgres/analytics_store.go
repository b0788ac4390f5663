package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gameroom-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// AnalyticsStore persists finished-game analytics as JSONB, one row per room.
type AnalyticsStore struct {
	pool *pgxpool.Pool
}

func NewAnalyticsStore(pool *pgxpool.Pool) *AnalyticsStore {
	return &AnalyticsStore{pool: pool}
}

func (s *AnalyticsStore) SaveAnalytics(ctx context.Context, a domain.GameAnalytics) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal analytics: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO game_analytics (room_id, game_type, subject, winner_id, started_at, ended_at, data)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7::jsonb)
		ON CONFLICT (room_id) DO UPDATE SET data = EXCLUDED.data, ended_at = EXCLUDED.ended_at, winner_id = EXCLUDED.winner_id`,
		a.RoomID, string(a.GameType), a.Subject, a.WinnerID, a.StartedAt, a.EndedAt, string(raw))
	if err != nil {
		return fmt.Errorf("save analytics: %w", err)
	}
	return nil
}

func (s *AnalyticsStore) GetAnalytics(ctx context.Context, roomID string) (domain.GameAnalytics, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM game_analytics WHERE room_id=$1`, roomID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GameAnalytics{}, fmt.Errorf("%w: no analytics for %s", domain.ErrRoomNotFound, roomID)
	}
	if err != nil {
		return domain.GameAnalytics{}, fmt.Errorf("load analytics: %w", err)
	}
	var a domain.GameAnalytics
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.GameAnalytics{}, fmt.Errorf("unmarshal analytics: %w", err)
	}
	return a, nil
}
