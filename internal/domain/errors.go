package domain

import "errors"

var (
	// ErrRoomExists is returned when creating a room whose id is already taken.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomNotFound is returned at API boundaries that need to report a missing room.
	// The room manager itself treats a missing room as a nil result.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFull is returned when a room has reached maxPlayers.
	ErrRoomFull = errors.New("room is full")
	// ErrGameInProgress is returned when joining an active room that disallows late joins.
	ErrGameInProgress = errors.New("game already in progress")
	// ErrNotEnoughPlayers is returned when starting a room with fewer than two players.
	ErrNotEnoughPlayers = errors.New("at least 2 players are required to start")
	// ErrNotWaiting is returned when starting a room that is not in the waiting state.
	ErrNotWaiting = errors.New("game is not in waiting state")
	// ErrNotActive is returned when pausing a room that is not running.
	ErrNotActive = errors.New("game is not active")
	// ErrNotPaused is returned when resuming a room that is not paused.
	ErrNotPaused = errors.New("game is not paused")
	// ErrChatDisabled is returned when a player chats in a room with chat disabled.
	ErrChatDisabled = errors.New("chat is disabled in this room")
	// ErrPowerUpsDisabled is returned when power-ups are used in a room that disables them.
	ErrPowerUpsDisabled = errors.New("power-ups are disabled in this room")
	// ErrPowerUpNotOwned is returned when a player uses a power-up they do not hold.
	ErrPowerUpNotOwned = errors.New("power-up not owned")
	// ErrNoOpenQuestion is returned when a power-up is used outside a question round.
	ErrNoOpenQuestion = errors.New("no open question")
	// ErrBankNotFound indicates the question bank for a subject could not be loaded.
	ErrBankNotFound = errors.New("question bank not found")
	// ErrQuestionNotFound indicates a question index has no content in its bank.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidConfig wraps room configuration validation failures.
	ErrInvalidConfig = errors.New("invalid room config")
)
