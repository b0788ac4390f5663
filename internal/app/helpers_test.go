package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"gameroom-service/internal/app"
	"gameroom-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// recorder captures every published event and lets tests wait for one.
type recorder struct {
	mu   sync.Mutex
	msgs []domain.WebSocketMessage
	ch   chan domain.WebSocketMessage
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan domain.WebSocketMessage, 4096)}
}

func (r *recorder) Publish(msg domain.WebSocketMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	select {
	case r.ch <- msg:
	default:
	}
}

func (r *recorder) all(t domain.MessageType) []domain.WebSocketMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WebSocketMessage
	for _, m := range r.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type keyEvaluator struct {
	correct string
}

func (e keyEvaluator) Evaluate(_ context.Context, _ app.QuestionRef, answer any) (app.Evaluation, error) {
	return app.Evaluation{Correct: answer == e.correct, Explanation: "because"}, nil
}

type captureSink struct {
	ch chan domain.GameAnalytics
}

func (s *captureSink) SaveAnalytics(_ context.Context, a domain.GameAnalytics) error {
	s.ch <- a
	return nil
}

type harness struct {
	t     *testing.T
	clock *clockwork.FakeClock
	rec   *recorder
	mgr   *app.RoomManager
}

func newHarness(t *testing.T, opts ...app.Option) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		clock: clockwork.NewFakeClockAt(time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)),
		rec:   newRecorder(),
	}
	base := []app.Option{app.WithClock(h.clock), app.WithPublisher(h.rec)}
	h.mgr = app.NewRoomManager(keyEvaluator{correct: "a"}, append(base, opts...)...)
	return h
}

// advance waits until the room has exactly waiters pending timers, then moves the clock.
func (h *harness) advance(d time.Duration, waiters int) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, waiters); err != nil {
		h.t.Fatalf("waiting for %d timers: %v", waiters, err)
	}
	h.clock.Advance(d)
}

func (h *harness) waitFor(typ domain.MessageType) domain.WebSocketMessage {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-h.rec.ch:
			if msg.Type == typ {
				return msg
			}
		case <-timeout:
			h.t.Fatalf("timed out waiting for %s", typ)
			return domain.WebSocketMessage{}
		}
	}
}

func (h *harness) createRoom(id string, mutate func(*domain.GameRoomConfig)) {
	h.t.Helper()
	cfg := domain.GameRoomConfig{
		ID:              id,
		Name:            "Room " + id,
		GameType:        domain.GameTypeSpeedRound,
		Subject:         "math",
		TimePerQuestion: 30,
		TotalQuestions:  2,
		Settings:        domain.RoomSettings{ShowLeaderboard: true, EnableChat: true},
		CreatedBy:       "user-p1",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	if _, err := h.mgr.Create(cfg); err != nil {
		h.t.Fatalf("create room %s: %v", id, err)
	}
}

func (h *harness) join(roomID string, ids ...string) {
	h.t.Helper()
	for _, id := range ids {
		if _, err := h.mgr.AddPlayer(roomID, player(id)); err != nil {
			h.t.Fatalf("add %s to %s: %v", id, roomID, err)
		}
	}
}

// start runs StartGame and the full countdown until the first question opens.
func (h *harness) start(roomID string) {
	h.t.Helper()
	if err := h.mgr.StartGame(roomID); err != nil {
		h.t.Fatalf("start game: %v", err)
	}
	for i := 0; i < int(app.DefaultTimings().Countdown/time.Second); i++ {
		h.advance(time.Second, 1)
	}
	h.waitFor(domain.MsgQuestionStart)
}

func player(id string) domain.Player {
	return domain.Player{ID: id, UserID: "user-" + id, Name: "Player " + id}
}

func answersFor(p *domain.Player, index int) int {
	n := 0
	for _, a := range p.Answers {
		if a.QuestionIndex == index {
			n++
		}
	}
	return n
}

func assertLeaderboardOrdered(t *testing.T, lb []domain.LeaderboardEntry) {
	t.Helper()
	for i, e := range lb {
		if e.Rank != i+1 {
			t.Fatalf("entry %d has rank %d", i, e.Rank)
		}
		if i > 0 && lb[i-1].Score < e.Score {
			t.Fatalf("leaderboard not sorted: %+v", lb)
		}
	}
}
