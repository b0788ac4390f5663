package memory

import (
	"context"
	"fmt"
	"sync"

	"gameroom-service/internal/domain"
)

// AnalyticsStore keeps finished-game analytics in process, one entry per room.
type AnalyticsStore struct {
	mu     sync.RWMutex
	byRoom map[string]domain.GameAnalytics
}

func NewAnalyticsStore() *AnalyticsStore {
	return &AnalyticsStore{byRoom: make(map[string]domain.GameAnalytics)}
}

func (s *AnalyticsStore) SaveAnalytics(_ context.Context, a domain.GameAnalytics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRoom[a.RoomID] = a
	return nil
}

func (s *AnalyticsStore) GetAnalytics(_ context.Context, roomID string) (domain.GameAnalytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byRoom[roomID]
	if !ok {
		return domain.GameAnalytics{}, fmt.Errorf("%w: no analytics for %s", domain.ErrRoomNotFound, roomID)
	}
	return a, nil
}
