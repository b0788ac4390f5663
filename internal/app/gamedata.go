package app

import (
	"math"

	"gameroom-service/internal/domain"
)

var teamIDs = []string{"red", "blue"}

// initialGameData seeds the game-type specific state of a new room.
func initialGameData(cfg domain.GameRoomConfig) map[string]any {
	data := map[string]any{}
	switch cfg.GameType {
	case domain.GameTypeQuizBattle:
		data["eliminationThreshold"] = 0
		data["bonusMultipliers"] = map[string]float64{
			"streak3": 1.5,
			"streak5": 2,
		}
	case domain.GameTypeCollaborativeSolve:
		data["sharedWorkspace"] = map[string]any{}
		data["hintsUsed"] = 0
	case domain.GameTypeSpeedRound:
		data["speedBonus"] = true
	case domain.GameTypeTeamChallenge:
		data["teamScores"] = map[string]int{}
	}
	if cfg.Settings.TeamMode {
		data["teamScores"] = map[string]int{}
	}
	return data
}

// setupGame runs the game-type specific preparation when a room turns active.
func setupGame(room *domain.GameRoom) {
	for _, p := range room.Players {
		grantPowerUps(room, p)
	}
}

// grantPowerUps hands the starting inventory to a player of a quiz battle.
func grantPowerUps(room *domain.GameRoom, p *domain.Player) {
	if room.Config.GameType != domain.GameTypeQuizBattle || !room.Config.Settings.PowerUpsEnabled {
		return
	}
	p.PowerUps = append(p.PowerUps,
		domain.PowerUpDoublePoints,
		domain.PowerUpTimeFreeze,
		domain.PowerUpFiftyFifty,
	)
}

// applyStreakBonus scales points by the highest bonus multiplier the streak reached.
// Rooms without bonusMultipliers score unchanged.
func applyStreakBonus(data map[string]any, streak, points int) int {
	multipliers, ok := data["bonusMultipliers"].(map[string]float64)
	if !ok {
		return points
	}
	mult := 1.0
	switch {
	case streak >= 5:
		mult = multipliers["streak5"]
	case streak >= 3:
		mult = multipliers["streak3"]
	}
	if mult <= 0 {
		mult = 1
	}
	return int(math.Round(float64(points) * mult))
}

// nextTeam picks the team with the fewest members, first in teamIDs order on ties.
func nextTeam(players []*domain.Player) string {
	counts := make(map[string]int, len(teamIDs))
	for _, p := range players {
		counts[p.TeamID]++
	}
	best := teamIDs[0]
	for _, id := range teamIDs[1:] {
		if counts[id] < counts[best] {
			best = id
		}
	}
	return best
}

// refreshTeamScores recomputes the per-team totals when the room tracks teams.
func refreshTeamScores(room *domain.GameRoom) {
	if _, ok := room.GameData["teamScores"]; !ok {
		return
	}
	scores := map[string]int{}
	for _, p := range room.Players {
		if p.TeamID != "" {
			scores[p.TeamID] += p.Score
		}
	}
	room.GameData["teamScores"] = scores
}
