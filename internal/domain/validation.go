package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Room configuration defaults applied to zero values.
const (
	DefaultMaxPlayers      = 6
	DefaultTimePerQuestion = 30
	DefaultTotalQuestions  = 10
	DefaultLanguage        = "es"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// WithDefaults returns a copy of c with unset optional fields filled in.
func (c GameRoomConfig) WithDefaults() GameRoomConfig {
	if c.MaxPlayers == 0 {
		c.MaxPlayers = DefaultMaxPlayers
	}
	if c.TimePerQuestion == 0 {
		c.TimePerQuestion = DefaultTimePerQuestion
	}
	if c.TotalQuestions == 0 {
		c.TotalQuestions = DefaultTotalQuestions
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Difficulty == "" {
		c.Difficulty = DifficultyBeginner
	}
	return c
}

// ValidateRoomConfig checks the creation-time ranges of a room configuration.
// Callers should apply WithDefaults first.
func ValidateRoomConfig(c GameRoomConfig) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, "; "))
}
