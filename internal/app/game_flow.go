package app

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"gameroom-service/internal/domain"
	"go.uber.org/zap"
)

const (
	countdownTick  = time.Second
	contentTimeout = 2 * time.Second
)

// QuestionID is the deterministic id of a room's question at index.
func QuestionID(roomID string, index int) string {
	return fmt.Sprintf("%s_q%d", roomID, index)
}

// StartGame moves a waiting room into its countdown. Unknown rooms are a no-op.
func (m *RoomManager) StartGame(roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	room := rs.room
	if room.Status != domain.RoomWaiting {
		return fmt.Errorf("%w: room is %s", domain.ErrNotWaiting, room.Status)
	}
	if len(room.Players) < 2 {
		return domain.ErrNotEnoughPlayers
	}

	room.Status = domain.RoomStarting
	rs.countdown = int(math.Ceil(m.timings.Countdown.Seconds()))
	if rs.countdown < 1 {
		rs.countdown = 1
	}
	m.emit(rs, domain.MsgGameStart, "", map[string]any{
		"phase":     "countdown",
		"countdown": rs.countdown,
	})
	m.emitRoomState(rs)
	m.log.Info("game starting", zap.String("room_id", roomID), zap.Int("players", len(room.Players)))
	m.countdownTickLocked(rs)
	return nil
}

func (m *RoomManager) countdownTickLocked(rs *roomState) {
	m.systemMessageLocked(rs, fmt.Sprintf("Game starts in %d...", rs.countdown))
	m.emit(rs, domain.MsgTimerUpdate, "", map[string]any{
		"phase":            "countdown",
		"secondsRemaining": rs.countdown,
	})
	gen := rs.bump()
	rs.timers.countdown = m.clock.AfterFunc(countdownTick, func() { m.onCountdownTick(rs, gen) })
}

func (m *RoomManager) onCountdownTick(rs *roomState, gen uint64) {
	m.mu.Lock()
	if !m.currentLocked(rs, gen) || rs.room.Status != domain.RoomStarting {
		m.mu.Unlock()
		return
	}
	rs.timers.countdown = nil
	rs.countdown--
	if rs.countdown > 0 {
		m.countdownTickLocked(rs)
		m.mu.Unlock()
		return
	}
	ref, _ := m.nextRefLocked(rs)
	m.mu.Unlock()

	content := m.resolveContent(ref)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.currentLocked(rs, gen) || rs.room.Status != domain.RoomStarting {
		return
	}
	m.activateLocked(rs, content)
}

func (m *RoomManager) activateLocked(rs *roomState, first *PublicQuestion) {
	room := rs.room
	now := m.clock.Now()
	room.Status = domain.RoomActive
	room.StartedAt = &now
	setupGame(room)
	m.systemMessageLocked(rs, "The game has started!")
	m.emit(rs, domain.MsgGameStart, "", map[string]any{
		"phase":          "started",
		"totalQuestions": room.Config.TotalQuestions,
	})
	m.log.Info("game started", zap.String("room_id", room.Config.ID))
	m.startNextQuestionLocked(rs, first)
}

func (m *RoomManager) refLocked(rs *roomState, index int) QuestionRef {
	cfg := rs.room.Config
	return QuestionRef{
		RoomID:     cfg.ID,
		QuestionID: QuestionID(cfg.ID, index),
		Index:      index,
		Subject:    cfg.Subject,
		Topic:      cfg.Topic,
		Difficulty: cfg.Difficulty,
		Language:   cfg.Language,
	}
}

// nextRefLocked returns the next question to open, or false when the game is over.
func (m *RoomManager) nextRefLocked(rs *roomState) (QuestionRef, bool) {
	next := 0
	if q := rs.room.CurrentQuestion; q != nil {
		next = q.Index + 1
	}
	if next >= rs.room.Config.TotalQuestions {
		return QuestionRef{}, false
	}
	return m.refLocked(rs, next), true
}

func (m *RoomManager) resolveContent(ref QuestionRef) *PublicQuestion {
	if m.content == nil || ref.QuestionID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), contentTimeout)
	defer cancel()
	q, err := m.content.Content(ctx, ref)
	if err != nil {
		m.log.Warn("question content unavailable",
			zap.String("room_id", ref.RoomID),
			zap.String("question_id", ref.QuestionID),
			zap.Error(err))
		return nil
	}
	return &q
}

// startNextQuestionLocked opens the next question or ends the game when none is left.
func (m *RoomManager) startNextQuestionLocked(rs *roomState, content *PublicQuestion) {
	ref, more := m.nextRefLocked(rs)
	if !more {
		m.endGameLocked(rs)
		return
	}
	room := rs.room
	now := m.clock.Now()
	for _, p := range room.Players {
		if p.Status != domain.PlayerDisconnected {
			p.Status = domain.PlayerConnected
		}
	}
	limit := room.Config.QuestionTimeLimit()
	room.CurrentQuestion = &domain.CurrentQuestion{
		Index:      ref.Index,
		QuestionID: ref.QuestionID,
		StartTime:  now,
		EndTime:    now.Add(limit),
		Answers:    make(map[string]domain.SubmittedAnswer),
	}
	rs.effects = make(map[string]map[domain.PowerUpType]bool)
	m.armQuestionTimerLocked(rs, limit)

	payload := map[string]any{
		"index":          ref.Index,
		"questionId":     ref.QuestionID,
		"timeLimit":      room.Config.TimePerQuestion,
		"totalQuestions": room.Config.TotalQuestions,
		"startTime":      now,
		"endTime":        now.Add(limit),
	}
	if content != nil {
		payload["question"] = *content
	}
	m.emit(rs, domain.MsgQuestionStart, "", payload)
	m.emitRoomState(rs)
}

func (m *RoomManager) armQuestionTimerLocked(rs *roomState, d time.Duration) {
	gen := rs.bump()
	rs.timers.deadline = m.clock.Now().Add(d)
	rs.timers.question = m.clock.AfterFunc(d, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.currentLocked(rs, gen) {
			return
		}
		rs.timers.question = nil
		m.log.Debug("question timed out", zap.String("room_id", rs.room.Config.ID))
		m.endCurrentQuestionLocked(rs)
	})
}

func (m *RoomManager) armResultsTimerLocked(rs *roomState, d time.Duration) {
	gen := rs.bump()
	rs.timers.deadline = m.clock.Now().Add(d)
	rs.timers.results = m.clock.AfterFunc(d, func() { m.onResultsElapsed(rs, gen) })
}

func (m *RoomManager) onResultsElapsed(rs *roomState, gen uint64) {
	m.mu.Lock()
	if !m.currentLocked(rs, gen) {
		m.mu.Unlock()
		return
	}
	rs.timers.results = nil
	ref, more := m.nextRefLocked(rs)
	if !more {
		m.endGameLocked(rs)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	content := m.resolveContent(ref)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.currentLocked(rs, gen) {
		return
	}
	m.startNextQuestionLocked(rs, content)
}

// currentLocked reports whether rs is still the live room and no newer timer superseded gen.
func (m *RoomManager) currentLocked(rs *roomState, gen uint64) bool {
	return m.rooms[rs.room.Config.ID] == rs && rs.gen == gen
}

// SubmitAnswer records a player's first answer to the open question. It returns
// nil when the submission is ignored: unknown room or player, no open question,
// room not active, a duplicate, or a non-empty questionID naming another question.
func (m *RoomManager) SubmitAnswer(ctx context.Context, roomID, playerID, questionID string, answer any, timeSpent time.Duration) *domain.AnswerResult {
	m.mu.Lock()
	rs, q, ok := m.answerableLocked(roomID, playerID, questionID)
	if !ok {
		m.mu.Unlock()
		return nil
	}
	ref := m.refLocked(rs, q.Index)
	m.mu.Unlock()

	eval, err := m.evaluator.Evaluate(ctx, ref, answer)
	if err != nil {
		m.log.Warn("answer evaluation failed",
			zap.String("room_id", roomID),
			zap.String("question_id", ref.QuestionID),
			zap.Error(err))
		eval = Evaluation{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rs2, q2, ok := m.answerableLocked(roomID, playerID, questionID)
	if !ok || rs2 != rs || q2 != q {
		return nil
	}

	room := rs.room
	p := room.Player(playerID)
	now := m.clock.Now()
	if timeSpent < 0 {
		timeSpent = 0
	}
	effects := rs.effects[playerID]
	scored := timeSpent
	if effects[domain.PowerUpTimeFreeze] {
		scored = max(0, scored-timeFreezeBonus)
	}
	points := pointsFor(eval.Correct, room.Config.QuestionTimeLimit(), scored)
	if eval.Correct {
		points = applyStreakBonus(room.GameData, p.Streak+1, points)
		if effects[domain.PowerUpDoublePoints] {
			points *= 2
		}
	}

	q.Answers[playerID] = domain.SubmittedAnswer{
		Answer:      answer,
		TimeSpentMs: timeSpent.Milliseconds(),
		SubmittedAt: now,
	}
	p.Status = domain.PlayerFinished
	p.LastSeen = now
	p.Answers = append(p.Answers, domain.AnswerRecord{
		QuestionIndex: q.Index,
		QuestionID:    q.QuestionID,
		Answer:        answer,
		TimeSpentMs:   timeSpent.Milliseconds(),
		Correct:       eval.Correct,
		Points:        points,
	})
	p.Score += points
	if eval.Correct {
		p.Streak++
	} else {
		p.Streak = 0
	}
	m.recomputeLeaderboardLocked(rs)

	result := &domain.AnswerResult{
		QuestionID:    q.QuestionID,
		QuestionIndex: q.Index,
		Correct:       eval.Correct,
		Points:        points,
		TotalScore:    p.Score,
		Streak:        p.Streak,
		Explanation:   eval.Explanation,
	}
	m.emit(rs, domain.MsgAnswerSubmitted, playerID, *result)
	m.emit(rs, domain.MsgScoreUpdate, playerID, map[string]any{
		"playerId": playerID,
		"score":    p.Score,
		"streak":   p.Streak,
		"points":   points,
	})

	if m.allAnsweredLocked(rs) {
		m.endCurrentQuestionLocked(rs)
	}
	return result
}

func (m *RoomManager) answerableLocked(roomID, playerID, questionID string) (*roomState, *domain.CurrentQuestion, bool) {
	rs, ok := m.rooms[roomID]
	if !ok || rs.room.Status != domain.RoomActive {
		return nil, nil, false
	}
	q := rs.room.CurrentQuestion
	if q == nil || q.Closed || rs.room.Player(playerID) == nil {
		return nil, nil, false
	}
	if questionID != "" && questionID != q.QuestionID {
		return nil, nil, false
	}
	if _, answered := q.Answers[playerID]; answered {
		return nil, nil, false
	}
	return rs, q, true
}

func (m *RoomManager) allAnsweredLocked(rs *roomState) bool {
	q := rs.room.CurrentQuestion
	if q == nil || q.Closed {
		return false
	}
	for _, p := range rs.room.Players {
		if _, ok := q.Answers[p.ID]; !ok {
			return false
		}
	}
	return true
}

// endCurrentQuestionLocked closes the open question: players who never
// answered get a zero-point incorrect record and lose their streak.
func (m *RoomManager) endCurrentQuestionLocked(rs *roomState) {
	room := rs.room
	q := room.CurrentQuestion
	if q == nil || q.Closed {
		return
	}
	rs.timers.stopRound()
	q.Closed = true

	limitMs := room.Config.QuestionTimeLimit().Milliseconds()
	results := make(map[string]domain.AnswerRecord, len(room.Players))
	records := make([]domain.AnswerRecord, 0, len(room.Players))
	for _, p := range room.Players {
		rec, ok := answerFor(p, q.Index)
		if !ok {
			rec = domain.AnswerRecord{
				QuestionIndex: q.Index,
				QuestionID:    q.QuestionID,
				TimeSpentMs:   limitMs,
				AutoFilled:    true,
			}
			p.Answers = append(p.Answers, rec)
			p.Streak = 0
		}
		results[p.ID] = rec
		records = append(records, rec)
	}
	rs.questions = append(rs.questions, questionStats(q.Index, q.QuestionID, records))
	rs.effects = make(map[string]map[domain.PowerUpType]bool)
	m.recomputeLeaderboardLocked(rs)

	m.emit(rs, domain.MsgQuestionEnd, "", map[string]any{
		"index":      q.Index,
		"questionId": q.QuestionID,
		"results":    results,
	})
	m.emitRoomState(rs)
	m.armResultsTimerLocked(rs, m.timings.ResultsPause)
}

func answerFor(p *domain.Player, index int) (domain.AnswerRecord, bool) {
	for i := len(p.Answers) - 1; i >= 0; i-- {
		if p.Answers[i].QuestionIndex == index {
			return p.Answers[i], true
		}
	}
	return domain.AnswerRecord{}, false
}

func (m *RoomManager) endGameLocked(rs *roomState) {
	room := rs.room
	now := m.clock.Now()
	rs.timers.stopAll()
	rs.bump()
	room.Status = domain.RoomFinished
	room.FinishedAt = &now
	room.CurrentQuestion = nil
	m.recomputeLeaderboardLocked(rs)

	analytics := buildAnalytics(rs, now)
	if len(room.Leaderboard) > 0 {
		top := room.Leaderboard[0]
		m.systemMessageLocked(rs, fmt.Sprintf("Game over! %s wins with %d points", top.Name, top.Score))
	} else {
		m.systemMessageLocked(rs, "Game over!")
	}
	m.emit(rs, domain.MsgGameEnd, "", map[string]any{
		"leaderboard": append([]domain.LeaderboardEntry(nil), room.Leaderboard...),
		"analytics":   analytics,
	})
	m.emitRoomState(rs)
	m.persistAnalytics(analytics)
	m.log.Info("game finished",
		zap.String("room_id", room.Config.ID),
		zap.Int("questions", analytics.QuestionsAsked),
		zap.String("winner", analytics.WinnerID))

	roomID := room.Config.ID
	rs.timers.closure = m.clock.AfterFunc(m.timings.CloseAfter, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.rooms[roomID] != rs || rs.room.Status != domain.RoomFinished {
			return
		}
		rs.timers.closure = nil
		m.closeRoomLocked(rs, "finished")
	})
}

// PauseGame freezes an active room, remembering how long its pending
// question or results timer still had to run.
func (m *RoomManager) PauseGame(roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	room := rs.room
	if room.Status != domain.RoomActive {
		return fmt.Errorf("%w: room is %s", domain.ErrNotActive, room.Status)
	}
	rs.paused = phaseNone
	if q := room.CurrentQuestion; q != nil {
		rs.paused = phaseResults
		if !q.Closed {
			rs.paused = phaseQuestion
		}
	}
	rs.remaining = max(0, rs.timers.deadline.Sub(m.clock.Now()))
	rs.timers.stopRound()
	rs.bump()
	room.Status = domain.RoomPaused

	m.systemMessageLocked(rs, "Game paused")
	m.emit(rs, domain.MsgGamePause, "", map[string]any{"remainingMs": rs.remaining.Milliseconds()})
	m.emitRoomState(rs)
	return nil
}

// ResumeGame re-arms whatever a paused room was waiting on.
func (m *RoomManager) ResumeGame(roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	room := rs.room
	if room.Status != domain.RoomPaused {
		return fmt.Errorf("%w: room is %s", domain.ErrNotPaused, room.Status)
	}
	room.Status = domain.RoomActive
	// Players may have left while paused, leaving only those who already answered.
	answered := false
	switch rs.paused {
	case phaseQuestion:
		if answered = m.allAnsweredLocked(rs); !answered {
			room.CurrentQuestion.EndTime = m.clock.Now().Add(rs.remaining)
			m.armQuestionTimerLocked(rs, rs.remaining)
		}
	default:
		m.armResultsTimerLocked(rs, rs.remaining)
	}
	m.systemMessageLocked(rs, "Game resumed")
	m.emit(rs, domain.MsgGameResume, "", map[string]any{"remainingMs": rs.remaining.Milliseconds()})
	m.emitRoomState(rs)
	rs.paused, rs.remaining = phaseNone, 0
	if answered {
		m.endCurrentQuestionLocked(rs)
	}
	return nil
}

// UsePowerUp consumes one power-up; its effect lasts until the current question closes.
func (m *RoomManager) UsePowerUp(roomID, playerID string, powerUp domain.PowerUpType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	room := rs.room
	p := room.Player(playerID)
	if p == nil {
		return nil
	}
	if !room.Config.Settings.PowerUpsEnabled {
		return domain.ErrPowerUpsDisabled
	}
	if q := room.CurrentQuestion; room.Status != domain.RoomActive || q == nil || q.Closed {
		return domain.ErrNoOpenQuestion
	}
	idx := slices.Index(p.PowerUps, powerUp)
	if idx < 0 {
		return fmt.Errorf("%w: %s", domain.ErrPowerUpNotOwned, powerUp)
	}
	p.PowerUps = slices.Delete(p.PowerUps, idx, idx+1)
	if rs.effects[playerID] == nil {
		rs.effects[playerID] = make(map[domain.PowerUpType]bool)
	}
	rs.effects[playerID][powerUp] = true

	m.emit(rs, domain.MsgUsePowerUp, playerID, map[string]any{
		"playerId":  playerID,
		"powerUp":   powerUp,
		"remaining": append([]domain.PowerUpType(nil), p.PowerUps...),
	})
	return nil
}
