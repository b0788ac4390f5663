package app

import (
	"math"
	"sort"
	"time"

	"gameroom-service/internal/domain"
)

const (
	basePoints      = 100
	timeFreezeBonus = 5 * time.Second
)

// pointsFor returns 0 for a wrong answer, otherwise 100 plus one point per
// unused second of the time limit.
func pointsFor(correct bool, limit, spent time.Duration) int {
	if !correct {
		return 0
	}
	bonus := math.Max(0, float64(limit-spent)/float64(time.Second))
	return int(math.Round(basePoints + bonus))
}

// buildLeaderboard projects players to ranked entries. The sort is stable so
// tied players keep their join order.
func buildLeaderboard(players []*domain.Player) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: p.ID,
			Name:     p.Name,
			Score:    p.Score,
			Streak:   p.Streak,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// longestStreak scans an answer history for the longest run of correct answers.
func longestStreak(answers []domain.AnswerRecord) int {
	best, run := 0, 0
	for _, a := range answers {
		if a.Correct {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
	}
	return best
}

func cloneRoom(r *domain.GameRoom) *domain.GameRoom {
	if r == nil {
		return nil
	}
	out := *r
	out.Players = clonePlayers(r.Players)
	if r.CurrentQuestion != nil {
		q := *r.CurrentQuestion
		q.Answers = make(map[string]domain.SubmittedAnswer, len(r.CurrentQuestion.Answers))
		for k, v := range r.CurrentQuestion.Answers {
			q.Answers[k] = v
		}
		out.CurrentQuestion = &q
	}
	out.Leaderboard = append([]domain.LeaderboardEntry(nil), r.Leaderboard...)
	out.Chat = append([]domain.ChatMessage(nil), r.Chat...)
	out.GameData = cloneMap(r.GameData)
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

func clonePlayers(players []*domain.Player) []*domain.Player {
	out := make([]*domain.Player, 0, len(players))
	for _, p := range players {
		out = append(out, clonePlayer(p))
	}
	return out
}

func clonePlayer(p *domain.Player) *domain.Player {
	c := *p
	c.Answers = append([]domain.AnswerRecord(nil), p.Answers...)
	c.PowerUps = append([]domain.PowerUpType(nil), p.PowerUps...)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case map[string]int:
		out := make(map[string]int, len(t))
		for k, n := range t {
			out[k] = n
		}
		return out
	case map[string]float64:
		out := make(map[string]float64, len(t))
		for k, n := range t {
			out[k] = n
		}
		return out
	default:
		return v
	}
}
