package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"gameroom-service/internal/app"
	"gameroom-service/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxChatLength = 500

var (
	errInvalidPayload = errors.New("invalid payload")
	errRateLimited    = errors.New("too many messages")
	errNotInRoom      = errors.New("join a room first")
	errUnsupported    = errors.New("unsupported message type")
	errUnknownType    = errors.New("unknown message type")
)

// HandlerConfig tunes socket keepalive, limits and reconnect behaviour.
type HandlerConfig struct {
	ReconnectGrace time.Duration // how long a dropped player keeps their seat
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	RatePerSecond  float64 // inbound messages per second per socket
	RateBurst      int
	AllowedOrigins []string // empty allows any origin
}

func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		ReconnectGrace: 30 * time.Second,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 64 * 1024,
		RatePerSecond:  20,
		RateBurst:      40,
	}
}

func (c HandlerConfig) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

type WSHandler struct {
	rooms    *app.RoomManager
	hub      *Hub
	cfg      HandlerConfig
	log      *zap.Logger
	upgrader websocket.Upgrader

	// owners maps a player to the socket currently speaking for them, so a
	// stale socket closing late does not mark a reconnected player as gone.
	mu     sync.Mutex
	owners map[string]*client
}

func NewWSHandler(rooms *app.RoomManager, hub *Hub, cfg HandlerConfig, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &WSHandler{
		rooms:  rooms,
		hub:    hub,
		cfg:    cfg,
		log:    log,
		owners: make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// session is the per-socket state. Only the read loop touches it.
type session struct {
	c        *client
	conn     *websocket.Conn
	limiter  *rate.Limiter
	roomID   string
	playerID string
}

// ServeWS upgrades HTTP requests to websockets and maps envelopes onto room operations.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := &client{id: uuid.NewString(), send: make(chan []byte, sendBuffer)}
	s := &session{
		c:        c,
		conn:     conn,
		limiter:  rate.NewLimiter(rate.Limit(h.cfg.RatePerSecond), h.cfg.RateBurst),
		playerID: r.URL.Query().Get("playerId"),
	}
	h.hub.register(c)
	h.log.Debug("socket connected", zap.String("conn_id", c.id), zap.String("remote", r.RemoteAddr))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn, c)
	}()

	h.readPump(r.Context(), s)

	h.hub.unregister(c)
	<-writerDone
	_ = conn.Close()

	if s.roomID != "" && h.release(s.playerID, c) {
		h.rooms.DisconnectPlayer(s.roomID, s.playerID, h.cfg.ReconnectGrace)
	}
	h.log.Debug("socket closed", zap.String("conn_id", c.id), zap.String("player_id", s.playerID))
}

func (h *WSHandler) readPump(ctx context.Context, s *session) {
	conn := s.conn
	conn.SetReadLimit(h.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.log.Info("ws read error", zap.String("conn_id", s.c.id), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		var msg domain.InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.fail(s, "", errInvalidPayload)
			continue
		}
		if !s.limiter.Allow() {
			h.fail(s, msg.Type, errRateLimited)
			continue
		}
		h.dispatch(ctx, s, msg)
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(h.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				// The hub dropped this socket: it fell behind or the server is stopping.
				// Going away tells the client to reconnect.
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				h.log.Debug("ws write error", zap.String("conn_id", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, s *session, msg domain.InboundMessage) {
	if !msg.Type.Valid() {
		h.fail(s, msg.Type, errUnknownType)
		return
	}
	switch msg.Type {
	case domain.MsgPing:
		h.reply(s, domain.MsgPong, nil)
		return
	case domain.MsgJoinRoom:
		h.handleJoin(s, msg)
		return
	case domain.MsgLeaveRoom:
		h.handleLeave(s, msg)
		return
	}

	if s.roomID == "" {
		h.fail(s, msg.Type, errNotInRoom)
		return
	}

	var err error
	switch msg.Type {
	case domain.MsgSubmitAnswer:
		var data domain.SubmitAnswerData
		if err = msg.DecodeData(&data); err != nil {
			break
		}
		spent := time.Duration(data.TimeSpentMs) * time.Millisecond
		h.rooms.SubmitAnswer(ctx, s.roomID, s.playerID, data.QuestionID, data.Answer, spent)
	case domain.MsgUsePowerUp:
		var data domain.PowerUpData
		if err = msg.DecodeData(&data); err != nil {
			break
		}
		err = h.rooms.UsePowerUp(s.roomID, s.playerID, data.PowerUp)
	case domain.MsgSendChat:
		var data domain.ChatData
		if err = msg.DecodeData(&data); err != nil {
			break
		}
		text := strings.TrimSpace(data.Message)
		if text == "" || utf8.RuneCountInString(text) > maxChatLength {
			err = errInvalidPayload
			break
		}
		_, err = h.rooms.AddChatMessage(s.roomID, s.playerID, text)
	case domain.MsgEmojiReaction:
		var data domain.EmojiData
		if err = msg.DecodeData(&data); err != nil {
			break
		}
		if data.Emoji == "" {
			err = errInvalidPayload
			break
		}
		h.rooms.Announce(s.roomID, s.playerID, domain.MsgEmojiReaction, data)
	case domain.MsgPlayerStatusChange:
		var data domain.StatusData
		if err = msg.DecodeData(&data); err != nil {
			break
		}
		switch data.Status {
		case domain.PlayerConnected, domain.PlayerAway, domain.PlayerAnswering:
			h.rooms.UpdatePlayerStatus(s.roomID, s.playerID, data.Status)
		default:
			err = errInvalidPayload
		}
	case domain.MsgGameStart:
		err = h.rooms.StartGame(s.roomID)
	case domain.MsgGamePause:
		err = h.rooms.PauseGame(s.roomID)
	case domain.MsgGameResume:
		err = h.rooms.ResumeGame(s.roomID)
	default:
		err = errUnsupported
	}
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			err = errInvalidPayload
		}
		h.fail(s, msg.Type, err)
	}
}

func (h *WSHandler) handleJoin(s *session, msg domain.InboundMessage) {
	var data domain.JoinRoomData
	if err := msg.DecodeData(&data); err != nil {
		h.fail(s, msg.Type, errInvalidPayload)
		return
	}
	if msg.RoomID == "" {
		h.fail(s, msg.Type, errInvalidPayload)
		return
	}

	playerID := firstNonEmpty(msg.PlayerID, s.playerID, data.UserID, uuid.NewString())
	player := domain.Player{
		ID:     playerID,
		UserID: firstNonEmpty(data.UserID, playerID),
		Name:   firstNonEmpty(strings.TrimSpace(data.Name), "Player"),
		Avatar: data.Avatar,
		Grade:  data.Grade,
		TeamID: data.TeamID,
	}

	// Follow the room before joining so the joiner sees its own join events.
	h.hub.attach(s.c, msg.RoomID)
	room, err := h.rooms.AddPlayer(msg.RoomID, player)
	if err == nil && room == nil {
		err = domain.ErrRoomNotFound
	}
	if err != nil {
		if s.roomID != "" {
			h.hub.attach(s.c, s.roomID)
		} else {
			h.hub.detach(s.c)
		}
		h.fail(s, msg.Type, err)
		return
	}

	if s.playerID != "" && s.playerID != playerID {
		h.release(s.playerID, s.c)
	}
	s.roomID, s.playerID = msg.RoomID, playerID
	h.claim(playerID, s.c)
	h.log.Info("socket joined room",
		zap.String("conn_id", s.c.id),
		zap.String("room_id", s.roomID),
		zap.String("player_id", playerID),
		zap.Bool("rejoin", data.Rejoin))
	h.reply(s, domain.MsgRoomStateUpdate, room)
}

func (h *WSHandler) handleLeave(s *session, msg domain.InboundMessage) {
	if s.roomID == "" {
		h.fail(s, msg.Type, errNotInRoom)
		return
	}
	roomID := s.roomID
	if current, ok := h.rooms.RoomOf(s.playerID); ok && current == roomID {
		// player_left reaches this socket through the room fan-out.
		h.rooms.RemovePlayer(roomID, s.playerID)
	} else {
		h.reply(s, domain.MsgPlayerLeft, map[string]any{"playerId": s.playerID})
	}
	h.hub.detach(s.c)
	h.release(s.playerID, s.c)
	s.roomID = ""
}

func (h *WSHandler) reply(s *session, t domain.MessageType, data any) {
	h.hub.direct(s.c, domain.WebSocketMessage{
		Type:      t,
		RoomID:    s.roomID,
		PlayerID:  s.playerID,
		Data:      data,
		Timestamp: time.Now(),
	})
}

func (h *WSHandler) fail(s *session, request domain.MessageType, err error) {
	h.log.Debug("request rejected",
		zap.String("conn_id", s.c.id),
		zap.String("request", string(request)),
		zap.Error(err))
	h.reply(s, domain.MsgError, domain.ErrorData{
		Message: err.Error(),
		Code:    errorCode(err),
		Request: request,
	})
}

func (h *WSHandler) claim(playerID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.owners[playerID] = c
}

// release drops c's claim on playerID and reports whether c still held it.
func (h *WSHandler) release(playerID string, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.owners[playerID] != c {
		return false
	}
	delete(h.owners, playerID)
	return true
}

// errorCode maps failures onto the stable codes clients switch on.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomFull):
		return "room_full"
	case errors.Is(err, domain.ErrGameInProgress):
		return "game_in_progress"
	case errors.Is(err, domain.ErrNotEnoughPlayers):
		return "not_enough_players"
	case errors.Is(err, domain.ErrNotWaiting):
		return "not_waiting"
	case errors.Is(err, domain.ErrNotActive):
		return "not_active"
	case errors.Is(err, domain.ErrNotPaused):
		return "not_paused"
	case errors.Is(err, domain.ErrChatDisabled):
		return "chat_disabled"
	case errors.Is(err, domain.ErrPowerUpsDisabled):
		return "powerups_disabled"
	case errors.Is(err, domain.ErrPowerUpNotOwned):
		return "powerup_not_owned"
	case errors.Is(err, domain.ErrNoOpenQuestion):
		return "no_open_question"
	case errors.Is(err, domain.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, errInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	case errors.Is(err, errUnknownType):
		return "unknown_type"
	default:
		return "bad_request"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
