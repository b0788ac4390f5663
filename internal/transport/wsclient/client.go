// Package wsclient is a reconnecting game room client with an in-process
// event bus. Every server message is re-emitted under its wire type.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gameroom-service/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Local events emitted alongside the server message types.
const (
	EventConnect              = "connect"                // payload: nil
	EventDisconnect           = "disconnect"             // payload: DisconnectInfo
	EventConnectError         = "connect_error"          // payload: error
	EventReconnecting         = "reconnecting"           // payload: ReconnectInfo
	EventMaxReconnectAttempts = "max_reconnect_attempts" // payload: int attempts made
)

// Disconnect reasons. Only ReasonTransportClose leads to a reconnect.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonTransportClose   = "transport close"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrJoinTimeout  = errors.New("join room timed out")
	ErrLeaveTimeout = errors.New("leave room timed out")
	ErrClosed       = errors.New("client closed")
)

// ServerError is an error envelope returned for a request.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type DisconnectInfo struct {
	Reason string
	Err    error
}

type ReconnectInfo struct {
	Attempt int
	Delay   time.Duration
}

type Config struct {
	URL          string
	FallbackURLs []string
	BaseDelay    time.Duration
	MaxAttempts  int
	JoinTimeout  time.Duration
	LeaveTimeout time.Duration
	WriteWait    time.Duration
	Dialer       *websocket.Dialer
	Clock        clockwork.Clock
	Logger       *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.LeaveTimeout <= 0 {
		c.LeaveTimeout = 5 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Client keeps one socket to the game server and re-establishes it after
// unexpected drops.
type Client struct {
	cfg   Config
	log   *zap.Logger
	clock clockwork.Clock
	bus   *bus

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	attempts  int
	policy    backoff.BackOff
	retry     clockwork.Timer
	roomID    string
	playerID  string
	profile   domain.JoinRoomData

	writeMu sync.Mutex
}

func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		log:    cfg.Logger,
		clock:  cfg.Clock,
		bus:    newBus(cfg.Logger),
		policy: newPolicy(cfg.BaseDelay, cfg.MaxAttempts),
	}
}

// newPolicy yields base, 2·base, 4·base ... for maxAttempts retries, then backoff.Stop.
func newPolicy(base time.Duration, maxAttempts int) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = base << maxAttempts
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(maxAttempts))
}

func (c *Client) On(event string, fn Handler) HandlerID   { return c.bus.add(event, fn, false) }
func (c *Client) Once(event string, fn Handler) HandlerID { return c.bus.add(event, fn, true) }
func (c *Client) Off(event string, id HandlerID)          { c.bus.remove(event, id) }

// Emit dispatches payload to local handlers of event.
func (c *Client) Emit(event string, payload any) { c.bus.emit(event, payload) }

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// RoomID returns the room this client is in, if any.
func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Connect dials the primary URL and then each fallback in order.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.Emit(EventConnectError, err)
		return err
	}
	c.opened(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	urls := append([]string{c.cfg.URL}, c.cfg.FallbackURLs...)
	var errs []error
	for _, u := range urls {
		if u == "" {
			continue
		}
		conn, _, err := c.cfg.Dialer.DialContext(ctx, u, nil)
		if err == nil {
			return conn, nil
		}
		c.log.Debug("dial failed", zap.String("url", u), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", u, err))
	}
	if len(errs) == 0 {
		return nil, errors.New("no server url configured")
	}
	return nil, errors.Join(errs...)
}

func (c *Client) opened(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.connected = true
	c.attempts = 0
	c.policy.Reset()
	rejoin := c.roomID != ""
	roomID, playerID, profile := c.roomID, c.playerID, c.profile
	c.mu.Unlock()

	c.log.Info("connected", zap.String("url", conn.RemoteAddr().String()))
	go c.readLoop(conn)
	c.Emit(EventConnect, nil)

	if rejoin {
		profile.Rejoin = true
		if err := c.write(c.envelope(domain.MsgJoinRoom, roomID, playerID, profile)); err != nil {
			c.log.Warn("rejoin failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.dropped(conn, err)
			return
		}
		var msg domain.InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Warn("undecodable server message", zap.Error(err))
			continue
		}
		c.Emit(string(msg.Type), msg)
	}
}

func (c *Client) dropped(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	reason := ReasonTransportClose
	var closeErr *websocket.CloseError
	switch {
	case c.closed:
		reason = ReasonClientDisconnect
	case errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure:
		reason = ReasonServerDisconnect
	}
	c.mu.Unlock()
	_ = conn.Close()

	c.log.Info("disconnected", zap.String("reason", reason), zap.Error(err))
	c.Emit(EventDisconnect, DisconnectInfo{Reason: reason, Err: err})
	if reason == ReasonTransportClose {
		c.scheduleReconnect()
	}
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed || c.connected {
		c.mu.Unlock()
		return
	}
	delay := c.policy.NextBackOff()
	if delay == backoff.Stop {
		attempts := c.attempts
		c.mu.Unlock()
		c.log.Warn("giving up reconnecting", zap.Int("attempts", attempts))
		c.Emit(EventMaxReconnectAttempts, attempts)
		return
	}
	c.attempts++
	attempt := c.attempts
	c.retry = c.clock.AfterFunc(delay, c.reconnect)
	c.mu.Unlock()

	c.log.Info("reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))
	c.Emit(EventReconnecting, ReconnectInfo{Attempt: attempt, Delay: delay})
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.closed || c.connected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.JoinTimeout)
	defer cancel()
	conn, err := c.dial(ctx)
	if err != nil {
		c.Emit(EventConnectError, err)
		c.scheduleReconnect()
		return
	}
	c.opened(conn)
}

// Close ends the connection for good; no reconnect follows.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.retry != nil {
		c.retry.Stop()
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	// The read loop sees the close and reports the disconnect.
	_ = conn.Close()
	return err
}

func (c *Client) envelope(t domain.MessageType, roomID, playerID string, data any) domain.WebSocketMessage {
	return domain.WebSocketMessage{
		Type:      t,
		RoomID:    roomID,
		PlayerID:  playerID,
		Data:      data,
		Timestamp: c.clock.Now(),
	}
}

func (c *Client) write(msg domain.WebSocketMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// sendInRoom sends t for the current room and is a no-op outside a room.
func (c *Client) sendInRoom(t domain.MessageType, data any) error {
	c.mu.Lock()
	roomID, playerID := c.roomID, c.playerID
	c.mu.Unlock()
	if roomID == "" {
		return nil
	}
	return c.write(c.envelope(t, roomID, playerID, data))
}

type ack struct {
	msg domain.InboundMessage
	err error
}

// await registers one-shot listeners for the ack of request before it is
// sent, and waits for the ack, a server error, the timeout or ctx.
func (c *Client) await(ctx context.Context, request domain.MessageType, ackType domain.MessageType, playerID string,
	timeout time.Duration, timeoutErr error, send func() error) (domain.InboundMessage, error) {
	done := make(chan ack, 1)
	deliver := func(a ack) {
		select {
		case done <- a:
		default:
		}
	}
	ackID := c.On(string(ackType), func(p any) {
		// Broadcasts carry no player id; an empty playerID accepts the id the server assigns.
		if msg, ok := p.(domain.InboundMessage); ok && msg.PlayerID != "" && (playerID == "" || msg.PlayerID == playerID) {
			deliver(ack{msg: msg})
		}
	})
	errID := c.On(string(domain.MsgError), func(p any) {
		msg, ok := p.(domain.InboundMessage)
		if !ok {
			return
		}
		var data domain.ErrorData
		if err := msg.DecodeData(&data); err != nil || data.Request != request {
			return
		}
		deliver(ack{err: &ServerError{Code: data.Code, Message: data.Message}})
	})
	defer c.Off(string(ackType), ackID)
	defer c.Off(string(domain.MsgError), errID)

	if err := send(); err != nil {
		return domain.InboundMessage{}, err
	}
	select {
	case a := <-done:
		return a.msg, a.err
	case <-c.clock.After(timeout):
		return domain.InboundMessage{}, timeoutErr
	case <-ctx.Done():
		return domain.InboundMessage{}, ctx.Err()
	}
}

// JoinRoom joins roomID as playerID and returns the room snapshot from the ack.
// An empty playerID lets the server assign one.
func (c *Client) JoinRoom(ctx context.Context, roomID, playerID string, profile domain.JoinRoomData) (*domain.GameRoom, error) {
	profile.Rejoin = false
	msg, err := c.await(ctx, domain.MsgJoinRoom, domain.MsgRoomStateUpdate, playerID, c.cfg.JoinTimeout, ErrJoinTimeout, func() error {
		return c.write(c.envelope(domain.MsgJoinRoom, roomID, playerID, profile))
	})
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", roomID, err)
	}
	var room domain.GameRoom
	if err := msg.DecodeData(&room); err != nil {
		return nil, fmt.Errorf("join %s: decode room: %w", roomID, err)
	}

	c.mu.Lock()
	c.roomID, c.playerID, c.profile = roomID, msg.PlayerID, profile
	c.mu.Unlock()
	return &room, nil
}

// LeaveRoom leaves the current room. It is a no-op outside a room.
func (c *Client) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	roomID, playerID := c.roomID, c.playerID
	c.mu.Unlock()
	if roomID == "" {
		return nil
	}
	_, err := c.await(ctx, domain.MsgLeaveRoom, domain.MsgPlayerLeft, playerID, c.cfg.LeaveTimeout, ErrLeaveTimeout, func() error {
		return c.write(c.envelope(domain.MsgLeaveRoom, roomID, playerID, nil))
	})
	if err != nil {
		return fmt.Errorf("leave %s: %w", roomID, err)
	}

	c.mu.Lock()
	if c.roomID == roomID {
		c.roomID, c.playerID, c.profile = "", "", domain.JoinRoomData{}
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) SubmitAnswer(questionID string, answer any, timeSpent time.Duration) error {
	return c.sendInRoom(domain.MsgSubmitAnswer, domain.SubmitAnswerData{
		QuestionID:  questionID,
		Answer:      answer,
		TimeSpentMs: timeSpent.Milliseconds(),
	})
}

func (c *Client) SendChatMessage(text string) error {
	return c.sendInRoom(domain.MsgSendChat, domain.ChatData{Message: text})
}

func (c *Client) UsePowerUp(p domain.PowerUpType) error {
	return c.sendInRoom(domain.MsgUsePowerUp, domain.PowerUpData{PowerUp: p})
}

func (c *Client) UpdatePlayerStatus(status domain.PlayerStatus) error {
	return c.sendInRoom(domain.MsgPlayerStatusChange, domain.StatusData{Status: status})
}

func (c *Client) SendEmojiReaction(emoji string) error {
	return c.sendInRoom(domain.MsgEmojiReaction, domain.EmojiData{Emoji: emoji})
}

func (c *Client) StartGame() error  { return c.sendInRoom(domain.MsgGameStart, nil) }
func (c *Client) PauseGame() error  { return c.sendInRoom(domain.MsgGamePause, nil) }
func (c *Client) ResumeGame() error { return c.sendInRoom(domain.MsgGameResume, nil) }
func (c *Client) Ping() error       { return c.sendInRoom(domain.MsgPing, nil) }
