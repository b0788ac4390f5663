package app

import (
	"math"
	"time"

	"gameroom-service/internal/domain"
)

// Engagement weights; they sum to 1.
const (
	engagementCompletionWeight = 0.5
	engagementChatWeight       = 0.2
	engagementSpeedWeight      = 0.3
	engagementChatTarget       = 5
)

// questionStats summarizes a closed question round from the records written at close.
func questionStats(index int, questionID string, records []domain.AnswerRecord) domain.QuestionAnalytics {
	qa := domain.QuestionAnalytics{Index: index, QuestionID: questionID}
	var total int64
	for _, r := range records {
		if r.AutoFilled {
			continue
		}
		qa.Answered++
		total += r.TimeSpentMs
		if r.Correct {
			qa.Correct++
		}
	}
	if qa.Answered > 0 {
		qa.CorrectRate = round2(float64(qa.Correct) / float64(qa.Answered))
		qa.AverageTimeMs = total / int64(qa.Answered)
	}
	return qa
}

// buildAnalytics assembles the end-of-game summary. The leaderboard must be current.
func buildAnalytics(rs *roomState, endedAt time.Time) domain.GameAnalytics {
	room := rs.room
	a := domain.GameAnalytics{
		RoomID:         room.Config.ID,
		GameType:       room.Config.GameType,
		Subject:        room.Config.Subject,
		EndedAt:        endedAt,
		QuestionsAsked: len(rs.questions),
		Questions:      append([]domain.QuestionAnalytics(nil), rs.questions...),
		Players:        make([]domain.PlayerPerformance, 0, len(room.Players)),
	}
	if room.StartedAt != nil {
		a.StartedAt = *room.StartedAt
		a.DurationMs = endedAt.Sub(*room.StartedAt).Milliseconds()
	}

	ranks := make(map[string]int, len(room.Leaderboard))
	for _, e := range room.Leaderboard {
		ranks[e.PlayerID] = e.Rank
	}
	if len(room.Leaderboard) > 0 {
		a.WinnerID = room.Leaderboard[0].PlayerID
	}

	limitMs := room.Config.QuestionTimeLimit().Milliseconds()
	var scoreSum int
	for _, p := range room.Players {
		perf := domain.PlayerPerformance{
			PlayerID:      p.ID,
			UserID:        p.UserID,
			Name:          p.Name,
			FinalScore:    p.Score,
			Rank:          ranks[p.ID],
			TotalAnswers:  len(p.Answers),
			LongestStreak: longestStreak(p.Answers),
			ChatMessages:  rs.chatCounts[p.ID],
		}
		var submitted int
		var spent int64
		for _, r := range p.Answers {
			if r.Correct {
				perf.CorrectAnswers++
			}
			if !r.AutoFilled {
				submitted++
				spent += r.TimeSpentMs
			}
		}
		if submitted > 0 {
			perf.AverageTimeMs = spent / int64(submitted)
		}
		perf.EngagementScore = engagement(submitted, a.QuestionsAsked, perf.ChatMessages, perf.AverageTimeMs, limitMs)
		scoreSum += p.Score
		a.Players = append(a.Players, perf)
	}
	if len(room.Players) > 0 {
		a.AverageScore = round2(float64(scoreSum) / float64(len(room.Players)))
	}
	return a
}

// engagement blends completion rate, chat activity and response speed into 0..100.
func engagement(submitted, asked, chatMessages int, avgMs, limitMs int64) float64 {
	var completion, speed float64
	if asked > 0 {
		completion = math.Min(1, float64(submitted)/float64(asked))
	}
	if submitted > 0 && limitMs > 0 {
		speed = clamp01(1 - float64(avgMs)/float64(limitMs))
	}
	chat := math.Min(1, float64(chatMessages)/engagementChatTarget)
	score := 100 * (engagementCompletionWeight*completion + engagementChatWeight*chat + engagementSpeedWeight*speed)
	return round2(score)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
