package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"gameroom-service/internal/app"
	"gameroom-service/internal/domain"
)

type bankMap map[string]domain.QuestionBank

func (b bankMap) GetBank(_ context.Context, id string) (domain.QuestionBank, error) {
	if bank, ok := b[id]; ok {
		return bank, nil
	}
	return domain.QuestionBank{}, domain.ErrBankNotFound
}

func mathBank() bankMap {
	return bankMap{"math": {
		ID: "math",
		Questions: []domain.Question{
			{ID: "q1", Prompt: "2+2?", Explanation: "basic sum", Options: []domain.Option{
				{ID: "o1", Text: "3"}, {ID: "o2", Text: "4", Correct: true},
			}},
			{ID: "q2", Prompt: "3*3?", Options: []domain.Option{
				{ID: "o1", Text: "9", Correct: true}, {ID: "o2", Text: "6"},
			}},
		},
	}}
}

func TestBankEvaluatorGradesByIndex(t *testing.T) {
	ev := app.NewBankEvaluator(mathBank())
	ctx := context.Background()

	tests := []struct {
		name   string
		index  int
		answer any
		want   bool
	}{
		{"string id", 0, "o2", true},
		{"wrong id", 0, "o1", false},
		{"object", 1, map[string]any{"optionId": "o1"}, true},
		{"raw json", 0, json.RawMessage(`{"optionId":"o2"}`), true},
		{"wraps around", 2, "o2", true},
		{"unknown shape", 0, 42, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(ctx, app.QuestionRef{Subject: "math", Index: tt.index}, tt.answer)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if got.Correct != tt.want {
				t.Fatalf("correct = %v, want %v", got.Correct, tt.want)
			}
		})
	}
}

func TestBankEvaluatorMissingBank(t *testing.T) {
	ev := app.NewBankEvaluator(mathBank())
	_, err := ev.Evaluate(context.Background(), app.QuestionRef{Subject: "history"}, "o1")
	if !errors.Is(err, domain.ErrBankNotFound) {
		t.Fatalf("expected ErrBankNotFound, got %v", err)
	}
}

func TestBankEvaluatorContentHidesCorrectness(t *testing.T) {
	ev := app.NewBankEvaluator(mathBank())
	q, err := ev.Content(context.Background(), app.QuestionRef{Subject: "math", Index: 0})
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if q.Prompt != "2+2?" || len(q.Options) != 2 {
		t.Fatalf("unexpected content: %+v", q)
	}
	raw, _ := json.Marshal(q)
	var generic map[string]any
	_ = json.Unmarshal(raw, &generic)
	for _, opt := range generic["options"].([]any) {
		if _, leaked := opt.(map[string]any)["correct"]; leaked {
			t.Fatalf("correctness leaked: %s", raw)
		}
	}
}

func TestQuestionStartCarriesContent(t *testing.T) {
	h := newHarness(t)
	// Replace the manager with one backed by the bank evaluator.
	h.mgr = app.NewRoomManager(app.NewBankEvaluator(mathBank()), app.WithClock(h.clock), app.WithPublisher(h.rec))
	h.createRoom("r1", nil)
	h.join("r1", "p1", "p2")
	h.start("r1")

	msgs := h.rec.all(domain.MsgQuestionStart)
	if len(msgs) != 1 {
		t.Fatalf("expected one question_start, got %d", len(msgs))
	}
	msg := msgs[0]
	q, ok := msg.Data.(map[string]any)["question"].(app.PublicQuestion)
	if !ok || q.Prompt != "2+2?" {
		t.Fatalf("question content missing: %+v", msg.Data)
	}

	res := h.mgr.SubmitAnswer(context.Background(), "r1", "p1", "", map[string]any{"optionId": "o2"}, 0)
	if res == nil || !res.Correct || res.Explanation != "basic sum" {
		t.Fatalf("unexpected result: %+v", res)
	}
}
