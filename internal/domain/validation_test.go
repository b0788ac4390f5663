package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateRoomConfigDefaults(t *testing.T) {
	cfg := GameRoomConfig{
		ID:       "room-1",
		Name:     "Math duel",
		GameType: GameTypeQuizBattle,
		Subject:  "math",
	}.WithDefaults()

	if cfg.MaxPlayers != DefaultMaxPlayers || cfg.TimePerQuestion != DefaultTimePerQuestion ||
		cfg.TotalQuestions != DefaultTotalQuestions || cfg.Language != DefaultLanguage {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if err := ValidateRoomConfig(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRoomConfigRanges(t *testing.T) {
	base := GameRoomConfig{
		ID:       "room-1",
		Name:     "Math duel",
		GameType: GameTypeQuizBattle,
		Subject:  "math",
	}.WithDefaults()

	cases := map[string]func(c *GameRoomConfig){
		"MaxPlayers":      func(c *GameRoomConfig) { c.MaxPlayers = 21 },
		"TimePerQuestion": func(c *GameRoomConfig) { c.TimePerQuestion = 5 },
		"TotalQuestions":  func(c *GameRoomConfig) { c.TotalQuestions = 51 },
		"GameType":        func(c *GameRoomConfig) { c.GameType = "chess" },
		"Language":        func(c *GameRoomConfig) { c.Language = "fr" },
	}
	for field, mutate := range cases {
		cfg := base
		mutate(&cfg)
		err := ValidateRoomConfig(cfg)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", field, err)
		}
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("%s: error does not name the field: %v", field, err)
		}
	}
}

func TestMessageTypesAreClosed(t *testing.T) {
	if len(MessageTypes) != 24 {
		t.Fatalf("expected 24 message types, got %d", len(MessageTypes))
	}
	if !MsgRoomStateUpdate.Valid() {
		t.Fatalf("room_state_update should be valid")
	}
	if MessageType("room_created").Valid() {
		t.Fatalf("unknown type reported valid")
	}
}
