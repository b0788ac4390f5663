package domain

import (
	"encoding/json"
	"time"
)

// MessageType is the closed set of event names exchanged over the socket.
type MessageType string

// Connection events.
const (
	MsgJoinRoom           MessageType = "join_room"
	MsgLeaveRoom          MessageType = "leave_room"
	MsgPlayerJoined       MessageType = "player_joined"
	MsgPlayerLeft         MessageType = "player_left"
	MsgPlayerStatusChange MessageType = "player_status_change"
)

// Game flow events.
const (
	MsgGameStart     MessageType = "game_start"
	MsgGamePause     MessageType = "game_pause"
	MsgGameResume    MessageType = "game_resume"
	MsgGameEnd       MessageType = "game_end"
	MsgQuestionStart MessageType = "question_start"
	MsgQuestionEnd   MessageType = "question_end"
)

// Player action events.
const (
	MsgSubmitAnswer    MessageType = "submit_answer"
	MsgAnswerSubmitted MessageType = "answer_submitted"
	MsgUsePowerUp      MessageType = "use_powerup"
	MsgSendChat        MessageType = "send_chat"
	MsgChatMessage     MessageType = "chat_message"
	MsgEmojiReaction   MessageType = "emoji_reaction"
)

// System events.
const (
	MsgLeaderboardUpdate MessageType = "leaderboard_update"
	MsgRoomStateUpdate   MessageType = "room_state_update"
	MsgTimerUpdate       MessageType = "timer_update"
	MsgScoreUpdate       MessageType = "score_update"
	MsgError             MessageType = "error"
	MsgPing              MessageType = "ping"
	MsgPong              MessageType = "pong"
)

// MessageTypes lists every wire message type.
var MessageTypes = []MessageType{
	MsgJoinRoom, MsgLeaveRoom, MsgPlayerJoined, MsgPlayerLeft, MsgPlayerStatusChange,
	MsgGameStart, MsgGamePause, MsgGameResume, MsgGameEnd, MsgQuestionStart, MsgQuestionEnd,
	MsgSubmitAnswer, MsgAnswerSubmitted, MsgUsePowerUp, MsgSendChat, MsgChatMessage, MsgEmojiReaction,
	MsgLeaderboardUpdate, MsgRoomStateUpdate, MsgTimerUpdate, MsgScoreUpdate, MsgError, MsgPing, MsgPong,
}

// Valid reports whether t is part of the wire protocol.
func (t MessageType) Valid() bool {
	for _, known := range MessageTypes {
		if t == known {
			return true
		}
	}
	return false
}

// WebSocketMessage is the envelope for everything sent over the socket.
type WebSocketMessage struct {
	Type      MessageType `json:"type"`
	RoomID    string      `json:"roomId"`
	PlayerID  string      `json:"playerId,omitempty"`
	Data      any         `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// InboundMessage is an envelope as decoded from the wire; Data stays raw
// until the handler for Type decodes it.
type InboundMessage struct {
	Type      MessageType     `json:"type"`
	RoomID    string          `json:"roomId"`
	PlayerID  string          `json:"playerId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// DecodeData unmarshals the raw payload into v. An empty payload leaves v untouched.
func (m InboundMessage) DecodeData(v any) error {
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// JoinRoomData is the payload of join_room.
type JoinRoomData struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Grade  string `json:"grade,omitempty"`
	TeamID string `json:"teamId,omitempty"`
	Rejoin bool   `json:"rejoin,omitempty"`
}

// SubmitAnswerData is the payload of submit_answer.
type SubmitAnswerData struct {
	QuestionID  string `json:"questionId"`
	Answer      any    `json:"answer"`
	TimeSpentMs int64  `json:"timeSpent"`
}

// ChatData is the payload of send_chat.
type ChatData struct {
	Message string `json:"message"`
}

// EmojiData is the payload of emoji_reaction.
type EmojiData struct {
	Emoji string `json:"emoji"`
}

// PowerUpData is the payload of use_powerup.
type PowerUpData struct {
	PowerUp PowerUpType `json:"powerUp"`
}

// StatusData is the payload of player_status_change.
type StatusData struct {
	Status PlayerStatus `json:"status"`
}

// ErrorData is the payload of error messages sent to clients.
type ErrorData struct {
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Request MessageType `json:"request,omitempty"`
}
