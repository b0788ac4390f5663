package app

import (
	"context"
	"time"

	"gameroom-service/internal/domain"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// QuestionRef identifies a question round to the content collaborator.
type QuestionRef struct {
	RoomID     string
	QuestionID string
	Index      int
	Subject    string
	Topic      string
	Difficulty domain.Difficulty
	Language   string
}

// Evaluation is the authoritative grading of one answer.
type Evaluation struct {
	Correct     bool
	Explanation string
}

// AnswerEvaluator grades answers. It is supplied by the quiz content collaborator.
type AnswerEvaluator interface {
	Evaluate(ctx context.Context, q QuestionRef, answer any) (Evaluation, error)
}

// QuestionContent resolves the public content of a question, if the evaluator
// also knows it. Rooms without content still run with ids only.
type QuestionContent interface {
	Content(ctx context.Context, q QuestionRef) (PublicQuestion, error)
}

// PublicQuestion is question content safe to show before the round closes.
type PublicQuestion struct {
	Prompt  string         `json:"prompt"`
	Options []PublicOption `json:"options"`
}

// PublicOption omits correctness.
type PublicOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// EventPublisher receives every room event. Publish is called while the room
// manager holds its lock, so implementations must not block.
type EventPublisher interface {
	Publish(msg domain.WebSocketMessage)
}

// AnalyticsSink persists end-of-game analytics.
type AnalyticsSink interface {
	SaveAnalytics(ctx context.Context, a domain.GameAnalytics) error
}

// RoomLifecycle is notified when rooms come and go (e.g. cross-instance liveness markers).
type RoomLifecycle interface {
	RoomOpened(roomID string)
	RoomClosed(roomID string)
}

// Timings are the fixed delays of the room state machine.
type Timings struct {
	Countdown      time.Duration // total countdown before the first question
	ResultsPause   time.Duration // pause between a question ending and the next one
	CloseAfter     time.Duration // grace period after game end before the room is purged
	AnalyticsLimit time.Duration // timeout for handing analytics to the sink
}

// DefaultTimings returns the production delays.
func DefaultTimings() Timings {
	return Timings{
		Countdown:      5 * time.Second,
		ResultsPause:   3 * time.Second,
		CloseAfter:     5 * time.Minute,
		AnalyticsLimit: 10 * time.Second,
	}
}

// Option configures a RoomManager.
type Option func(*RoomManager)

// WithClock replaces the wall clock (tests use clockwork.NewFakeClock).
func WithClock(c clockwork.Clock) Option {
	return func(m *RoomManager) { m.clock = c }
}

// WithPublisher sets where room events are delivered.
func WithPublisher(p EventPublisher) Option {
	return func(m *RoomManager) { m.events = p }
}

// WithAnalyticsSink sets where end-of-game analytics go.
func WithAnalyticsSink(s AnalyticsSink) Option {
	return func(m *RoomManager) { m.analytics = s }
}

// WithLifecycle registers a room lifecycle observer. It may be given more than once.
func WithLifecycle(l RoomLifecycle) Option {
	return func(m *RoomManager) { m.lifecycles = append(m.lifecycles, l) }
}

// WithTimings overrides the state machine delays.
func WithTimings(t Timings) Option {
	return func(m *RoomManager) { m.timings = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *RoomManager) { m.log = l }
}

// FanOut publishes to several publishers in order.
type FanOut []EventPublisher

func (f FanOut) Publish(msg domain.WebSocketMessage) {
	for _, p := range f {
		if p != nil {
			p.Publish(msg)
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.WebSocketMessage) {}
