package app

import (
	"context"
	"encoding/json"
	"fmt"

	"gameroom-service/internal/domain"
)

// QuestionBankRepository loads question banks (from cache/backing store).
type QuestionBankRepository interface {
	GetBank(ctx context.Context, bankID string) (domain.QuestionBank, error)
}

// BankEvaluator grades answers against the question bank named by the room's
// subject. Round i uses question i of the bank, wrapping when the bank is short.
type BankEvaluator struct {
	banks QuestionBankRepository
}

func NewBankEvaluator(banks QuestionBankRepository) *BankEvaluator {
	return &BankEvaluator{banks: banks}
}

func (e *BankEvaluator) question(ctx context.Context, ref QuestionRef) (domain.Question, error) {
	bank, err := e.banks.GetBank(ctx, ref.Subject)
	if err != nil {
		return domain.Question{}, err
	}
	if len(bank.Questions) == 0 {
		return domain.Question{}, fmt.Errorf("%w: bank %s is empty", domain.ErrQuestionNotFound, bank.ID)
	}
	return bank.Questions[ref.Index%len(bank.Questions)], nil
}

// Evaluate accepts an option id string or an object carrying "optionId".
func (e *BankEvaluator) Evaluate(ctx context.Context, ref QuestionRef, answer any) (Evaluation, error) {
	q, err := e.question(ctx, ref)
	if err != nil {
		return Evaluation{}, err
	}
	optionID, ok := optionIDOf(answer)
	if !ok {
		return Evaluation{Explanation: q.Explanation}, nil
	}
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return Evaluation{Correct: opt.Correct, Explanation: q.Explanation}, nil
		}
	}
	return Evaluation{Explanation: q.Explanation}, nil
}

// Content returns the prompt and options without correctness flags.
func (e *BankEvaluator) Content(ctx context.Context, ref QuestionRef) (PublicQuestion, error) {
	q, err := e.question(ctx, ref)
	if err != nil {
		return PublicQuestion{}, err
	}
	pq := PublicQuestion{Prompt: q.Prompt, Options: make([]PublicOption, 0, len(q.Options))}
	for _, opt := range q.Options {
		pq.Options = append(pq.Options, PublicOption{ID: opt.ID, Text: opt.Text})
	}
	return pq, nil
}

func optionIDOf(answer any) (string, bool) {
	switch v := answer.(type) {
	case string:
		return v, v != ""
	case map[string]any:
		id, ok := v["optionId"].(string)
		return id, ok && id != ""
	case json.RawMessage:
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s, s != ""
		}
		var obj struct {
			OptionID string `json:"optionId"`
		}
		if err := json.Unmarshal(v, &obj); err == nil {
			return obj.OptionID, obj.OptionID != ""
		}
	}
	return "", false
}
