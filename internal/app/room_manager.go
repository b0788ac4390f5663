package app

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"gameroom-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const maxChatMessages = 100

// roomState is the manager-owned runtime state of one room, kept apart from
// the room's immutable configuration.
type roomState struct {
	room       *domain.GameRoom
	timers     roomTimers
	gen        uint64 // bumped whenever the pending countdown/question/results timer changes
	effects    map[string]map[domain.PowerUpType]bool
	chatCounts map[string]int
	questions  []domain.QuestionAnalytics
	countdown  int
	paused     phase
	remaining  time.Duration
}

func (rs *roomState) bump() uint64 {
	rs.gen++
	return rs.gen
}

// RoomManager is the authoritative state machine for all active rooms.
// Every mutation, including timer callbacks, runs under mu, so a room's
// transitions are strictly sequential.
type RoomManager struct {
	mu         sync.Mutex
	rooms      map[string]*roomState
	playerRoom map[string]string

	evaluator  AnswerEvaluator
	content    QuestionContent
	clock      clockwork.Clock
	events     EventPublisher
	analytics  AnalyticsSink
	lifecycles []RoomLifecycle
	timings    Timings
	log        *zap.Logger
}

// NewRoomManager builds a manager that grades answers with evaluator.
func NewRoomManager(evaluator AnswerEvaluator, opts ...Option) *RoomManager {
	m := &RoomManager{
		rooms:      make(map[string]*roomState),
		playerRoom: make(map[string]string),
		evaluator:  evaluator,
		clock:      clockwork.NewRealClock(),
		events:     nopPublisher{},
		timings:    DefaultTimings(),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if c, ok := evaluator.(QuestionContent); ok {
		m.content = c
	}
	return m
}

// Create allocates a waiting room.
func (m *RoomManager) Create(cfg domain.GameRoomConfig) (*domain.GameRoom, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: missing room id", domain.ErrInvalidConfig)
	}
	cfg = cfg.WithDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[cfg.ID]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomExists, cfg.ID)
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = m.clock.Now()
	}
	rs := &roomState{
		room: &domain.GameRoom{
			Config:      cfg,
			Status:      domain.RoomWaiting,
			Players:     []*domain.Player{},
			Leaderboard: []domain.LeaderboardEntry{},
			Chat:        []domain.ChatMessage{},
			GameData:    initialGameData(cfg),
		},
		timers:     roomTimers{disconnects: make(map[string]clockwork.Timer)},
		effects:    make(map[string]map[domain.PowerUpType]bool),
		chatCounts: make(map[string]int),
	}
	m.rooms[cfg.ID] = rs
	for _, l := range m.lifecycles {
		l.RoomOpened(cfg.ID)
	}
	m.log.Info("room created",
		zap.String("room_id", cfg.ID),
		zap.String("game_type", string(cfg.GameType)),
		zap.Int("max_players", cfg.MaxPlayers))
	return cloneRoom(rs.room), nil
}

// GetRoom returns a snapshot of the room, or nil if it does not exist.
func (m *RoomManager) GetRoom(roomID string) *domain.GameRoom {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	return cloneRoom(rs.room)
}

// ListRooms returns summaries of all rooms ordered by id.
func (m *RoomManager) ListRooms() []domain.RoomSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RoomSummary, 0, len(m.rooms))
	for _, rs := range m.rooms {
		cfg := rs.room.Config
		out = append(out, domain.RoomSummary{
			ID:             cfg.ID,
			Name:           cfg.Name,
			GameType:       cfg.GameType,
			Subject:        cfg.Subject,
			Status:         rs.room.Status,
			CurrentPlayers: len(rs.room.Players),
			MaxPlayers:     cfg.MaxPlayers,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoomOf reports which room a player belongs to.
func (m *RoomManager) RoomOf(playerID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roomID, ok := m.playerRoom[playerID]
	return roomID, ok
}

// AddPlayer admits a player. A player already in this room is treated as
// rejoining; a player in another room is moved out of it first.
func (m *RoomManager) AddPlayer(roomID string, player domain.Player) (*domain.GameRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.rooms[roomID]
	if !ok {
		return nil, nil
	}
	room := rs.room
	if existing := room.Player(player.ID); existing != nil {
		m.rejoinLocked(rs, existing)
		return cloneRoom(room), nil
	}
	if len(room.Players) >= room.Config.MaxPlayers {
		return nil, fmt.Errorf("%w: %d/%d players", domain.ErrRoomFull, len(room.Players), room.Config.MaxPlayers)
	}
	inProgress := room.Status == domain.RoomActive || room.Status == domain.RoomPaused
	if inProgress && !room.Config.Settings.AllowLateJoin {
		return nil, domain.ErrGameInProgress
	}

	p := player
	m.assignPlayerToRoomLocked(rs, &p)
	return cloneRoom(room), nil
}

// assignPlayerToRoomLocked is the only place a player enters a room, keeping
// the at-most-one-room invariant in one spot.
func (m *RoomManager) assignPlayerToRoomLocked(rs *roomState, p *domain.Player) {
	room := rs.room
	roomID := room.Config.ID
	if prev, ok := m.playerRoom[p.ID]; ok && prev != roomID {
		if other, ok := m.rooms[prev]; ok {
			m.removePlayerLocked(other, p.ID)
		}
		delete(m.playerRoom, p.ID)
	}

	now := m.clock.Now()
	p.Status = domain.PlayerConnected
	p.JoinedAt = now
	p.LastSeen = now
	if p.Answers == nil {
		p.Answers = []domain.AnswerRecord{}
	}
	if p.PowerUps == nil {
		p.PowerUps = []domain.PowerUpType{}
	}
	if room.Config.Settings.TeamMode && p.TeamID == "" {
		p.TeamID = nextTeam(room.Players)
	}
	if room.Status == domain.RoomActive || room.Status == domain.RoomPaused {
		grantPowerUps(room, p)
	}
	room.Players = append(room.Players, p)
	m.playerRoom[p.ID] = roomID

	m.recomputeLeaderboardLocked(rs)
	m.systemMessageLocked(rs, fmt.Sprintf("%s joined the room", p.Name))
	m.emit(rs, domain.MsgPlayerJoined, p.ID, clonePlayer(p))
	m.emitRoomState(rs)
	m.log.Info("player joined",
		zap.String("room_id", roomID),
		zap.String("player_id", p.ID),
		zap.Int("players", len(room.Players)))
}

func (m *RoomManager) rejoinLocked(rs *roomState, p *domain.Player) {
	rs.timers.stopDisconnect(p.ID)
	p.Status = domain.PlayerConnected
	if q := rs.room.CurrentQuestion; q != nil && !q.Closed {
		if _, answered := q.Answers[p.ID]; answered {
			p.Status = domain.PlayerFinished
		}
	}
	p.LastSeen = m.clock.Now()
	m.emit(rs, domain.MsgPlayerStatusChange, p.ID, domain.StatusData{Status: p.Status})
	m.emitRoomState(rs)
	m.log.Info("player rejoined", zap.String("room_id", rs.room.Config.ID), zap.String("player_id", p.ID))
}

// RemovePlayer removes a player. It returns nil when the room does not exist
// or was closed because it became empty.
func (m *RoomManager) RemovePlayer(roomID, playerID string) *domain.GameRoom {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	if room := m.removePlayerLocked(rs, playerID); room != nil {
		return cloneRoom(room)
	}
	return nil
}

func (m *RoomManager) removePlayerLocked(rs *roomState, playerID string) *domain.GameRoom {
	room := rs.room
	idx := slices.IndexFunc(room.Players, func(p *domain.Player) bool { return p.ID == playerID })
	if idx < 0 {
		return room
	}
	p := room.Players[idx]
	room.Players = slices.Delete(room.Players, idx, idx+1)
	if m.playerRoom[playerID] == room.Config.ID {
		delete(m.playerRoom, playerID)
	}
	rs.timers.stopDisconnect(playerID)
	delete(rs.effects, playerID)

	left := map[string]any{"playerId": p.ID, "name": p.Name}
	if len(room.Players) == 0 {
		m.emit(rs, domain.MsgPlayerLeft, p.ID, left)
		m.closeRoomLocked(rs, "empty")
		return nil
	}

	if room.Config.CreatedBy != "" && (room.Config.CreatedBy == p.UserID || room.Config.CreatedBy == p.ID) {
		room.Config.CreatedBy = room.Players[0].UserID
		left["newCreator"] = room.Config.CreatedBy
	}
	m.recomputeLeaderboardLocked(rs)
	m.systemMessageLocked(rs, fmt.Sprintf("%s left the room", p.Name))
	m.emit(rs, domain.MsgPlayerLeft, p.ID, left)
	m.emitRoomState(rs)
	m.log.Info("player left",
		zap.String("room_id", room.Config.ID),
		zap.String("player_id", playerID),
		zap.Int("players", len(room.Players)))

	if room.Status == domain.RoomActive && m.allAnsweredLocked(rs) {
		m.endCurrentQuestionLocked(rs)
	}
	return room
}

// closeRoomLocked purges a room with its timers and index entries.
func (m *RoomManager) closeRoomLocked(rs *roomState, reason string) {
	roomID := rs.room.Config.ID
	rs.timers.stopAll()
	rs.bump()
	for _, p := range rs.room.Players {
		if m.playerRoom[p.ID] == roomID {
			delete(m.playerRoom, p.ID)
		}
	}
	delete(m.rooms, roomID)
	for _, l := range m.lifecycles {
		l.RoomClosed(roomID)
	}
	m.log.Info("room closed", zap.String("room_id", roomID), zap.String("reason", reason))
}

// CancelRoom aborts a room in any state and purges it.
func (m *RoomManager) CancelRoom(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	rs.room.Status = domain.RoomCancelled
	rs.room.CurrentQuestion = nil
	m.emit(rs, domain.MsgGameEnd, "", map[string]any{
		"reason":      "cancelled",
		"leaderboard": append([]domain.LeaderboardEntry(nil), rs.room.Leaderboard...),
	})
	m.emitRoomState(rs)
	m.closeRoomLocked(rs, "cancelled")
	return true
}

// AddChatMessage appends a player's chat message. Unknown rooms or players yield nil.
func (m *RoomManager) AddChatMessage(roomID, playerID, text string) (*domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.rooms[roomID]
	if !ok {
		return nil, nil
	}
	p := rs.room.Player(playerID)
	if p == nil {
		return nil, nil
	}
	if !rs.room.Config.Settings.EnableChat {
		return nil, domain.ErrChatDisabled
	}
	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		PlayerID:   p.ID,
		PlayerName: p.Name,
		Message:    text,
		Timestamp:  m.clock.Now(),
	}
	rs.chatCounts[p.ID]++
	p.LastSeen = msg.Timestamp
	m.appendChatLocked(rs, msg)
	return &msg, nil
}

// Announce forwards a transient event (e.g. an emoji reaction) from a room member
// to the room without changing state.
func (m *RoomManager) Announce(roomID, playerID string, t domain.MessageType, data any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.rooms[roomID]
	if !ok || rs.room.Player(playerID) == nil {
		return false
	}
	m.emit(rs, t, playerID, data)
	return true
}

func (m *RoomManager) systemMessageLocked(rs *roomState, text string) {
	m.appendChatLocked(rs, domain.ChatMessage{
		ID:         uuid.NewString(),
		PlayerID:   domain.SystemPlayerID,
		PlayerName: "System",
		Message:    text,
		System:     true,
		Timestamp:  m.clock.Now(),
	})
}

func (m *RoomManager) appendChatLocked(rs *roomState, msg domain.ChatMessage) {
	room := rs.room
	room.Chat = append(room.Chat, msg)
	if n := len(room.Chat); n > maxChatMessages {
		room.Chat = append([]domain.ChatMessage(nil), room.Chat[n-maxChatMessages:]...)
	}
	m.emit(rs, domain.MsgChatMessage, msg.PlayerID, msg)
}

// UpdatePlayerStatus sets a player's presence status.
func (m *RoomManager) UpdatePlayerStatus(roomID, playerID string, status domain.PlayerStatus) *domain.GameRoom {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	p := rs.room.Player(playerID)
	if p == nil {
		return nil
	}
	p.Status = status
	p.LastSeen = m.clock.Now()
	m.emit(rs, domain.MsgPlayerStatusChange, p.ID, domain.StatusData{Status: status})
	return cloneRoom(rs.room)
}

// DisconnectPlayer marks a player whose socket dropped. The player is removed
// after grace unless they rejoin first; a non-positive grace removes at once.
func (m *RoomManager) DisconnectPlayer(roomID, playerID string, grace time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.rooms[roomID]
	if !ok {
		return
	}
	p := rs.room.Player(playerID)
	if p == nil {
		return
	}
	if grace <= 0 {
		m.removePlayerLocked(rs, playerID)
		return
	}
	p.Status = domain.PlayerDisconnected
	p.LastSeen = m.clock.Now()
	m.emit(rs, domain.MsgPlayerStatusChange, p.ID, domain.StatusData{Status: p.Status})

	rs.timers.stopDisconnect(playerID)
	rs.timers.disconnects[playerID] = m.clock.AfterFunc(grace, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.rooms[roomID] != rs {
			return
		}
		if p := rs.room.Player(playerID); p == nil || p.Status != domain.PlayerDisconnected {
			return
		}
		delete(rs.timers.disconnects, playerID)
		m.log.Info("reconnect grace expired", zap.String("room_id", roomID), zap.String("player_id", playerID))
		m.removePlayerLocked(rs, playerID)
	})
}

func (m *RoomManager) recomputeLeaderboardLocked(rs *roomState) {
	room := rs.room
	room.Leaderboard = buildLeaderboard(room.Players)
	refreshTeamScores(room)
	if room.Config.Settings.ShowLeaderboard {
		m.emit(rs, domain.MsgLeaderboardUpdate, "", append([]domain.LeaderboardEntry(nil), room.Leaderboard...))
	}
}

func (m *RoomManager) emit(rs *roomState, t domain.MessageType, playerID string, data any) {
	m.events.Publish(domain.WebSocketMessage{
		Type:      t,
		RoomID:    rs.room.Config.ID,
		PlayerID:  playerID,
		Data:      data,
		Timestamp: m.clock.Now(),
	})
}

func (m *RoomManager) emitRoomState(rs *roomState) {
	m.emit(rs, domain.MsgRoomStateUpdate, "", cloneRoom(rs.room))
}

func (m *RoomManager) persistAnalytics(a domain.GameAnalytics) {
	if m.analytics == nil {
		return
	}
	limit := m.timings.AnalyticsLimit
	if limit <= 0 {
		limit = DefaultTimings().AnalyticsLimit
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), limit)
		defer cancel()
		if err := m.analytics.SaveAnalytics(ctx, a); err != nil {
			m.log.Error("save analytics failed", zap.String("room_id", a.RoomID), zap.Error(err))
		}
	}()
}
