package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gameroom-service/internal/domain"
)

func TestQuestionRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		BankLoader: NewStaticBankLoader(map[string]domain.QuestionBank{
			"math": sampleBank(),
		}),
	}
	repo := NewQuestionRepository(loader, time.Minute)

	if _, err := repo.GetBank(context.Background(), "math"); err != nil {
		t.Fatalf("get bank: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls.Load())
	}

	bank, err := repo.GetBank(context.Background(), "math")
	if err != nil {
		t.Fatalf("get bank 2: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls.Load())
	}
	if len(bank.Questions) != 1 || bank.Questions[0].Prompt != "What is 2 + 2?" {
		t.Fatalf("unexpected bank: %+v", bank)
	}
}

func TestQuestionRepositoryExpires(t *testing.T) {
	loader := &countingLoader{
		BankLoader: NewStaticBankLoader(map[string]domain.QuestionBank{"math": sampleBank()}),
	}
	repo := NewQuestionRepository(loader, time.Minute)
	now := time.Now()
	repo.clock = func() time.Time { return now }

	_, _ = repo.GetBank(context.Background(), "math")
	now = now.Add(2 * time.Minute)
	_, _ = repo.GetBank(context.Background(), "math")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after ttl, got %d calls", loader.calls.Load())
	}
}

func TestQuestionRepositoryCollapsesConcurrentLoads(t *testing.T) {
	release := make(chan struct{})
	loader := &countingLoader{
		BankLoader: NewStaticBankLoader(map[string]domain.QuestionBank{"math": sampleBank()}),
		gate:       release,
	}
	repo := NewQuestionRepository(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.GetBank(context.Background(), "math")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	if loader.calls.Load() != 1 {
		t.Fatalf("expected a single load, got %d", loader.calls.Load())
	}
}

func TestStaticBankLoaderMissing(t *testing.T) {
	_, err := NewStaticBankLoader(nil).LoadBank(context.Background(), "history")
	if !errors.Is(err, domain.ErrBankNotFound) {
		t.Fatalf("expected ErrBankNotFound, got %v", err)
	}
}

type countingLoader struct {
	BankLoader
	calls atomic.Int32
	gate  chan struct{}
}

func (l *countingLoader) LoadBank(ctx context.Context, bankID string) (domain.QuestionBank, error) {
	l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	return l.BankLoader.LoadBank(ctx, bankID)
}

func sampleBank() domain.QuestionBank {
	return domain.QuestionBank{
		ID: "math",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				},
			},
		},
	}
}
