package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"gameroom-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// BankLoader fetches question banks from a backing store (e.g., Postgres JSONB).
type BankLoader interface {
	LoadBank(ctx context.Context, bankID string) (domain.QuestionBank, error)
}

// QuestionRepository caches question banks with TTL to avoid repeated DB hits.
type QuestionRepository struct {
	loader BankLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedBank
}

type cachedBank struct {
	bank      domain.QuestionBank
	expiresAt time.Time
}

func NewQuestionRepository(loader BankLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedBank),
	}
}

func (r *QuestionRepository) GetBank(ctx context.Context, bankID string) (domain.QuestionBank, error) {
	if bank, ok := r.cached(bankID); ok {
		return bank, nil
	}

	result, err, _ := r.sf.Do(bankID, func() (interface{}, error) {
		if bank, ok := r.cached(bankID); ok {
			return bank, nil
		}
		bank, err := r.loader.LoadBank(ctx, bankID)
		if err != nil {
			return domain.QuestionBank{}, err
		}
		ttl := r.ttlWithJitter()

		r.mu.Lock()
		r.cache[bankID] = cachedBank{bank: bank, expiresAt: r.clock().Add(ttl)}
		r.mu.Unlock()
		return bank, nil
	})
	if err != nil {
		return domain.QuestionBank{}, err
	}
	return result.(domain.QuestionBank), nil
}

func (r *QuestionRepository) cached(bankID string) (domain.QuestionBank, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[bankID]
	if !ok || !entry.expiresAt.After(now) {
		return domain.QuestionBank{}, false
	}
	return entry.bank, true
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// up to 10% jitter spreads expirations
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticBankLoader is a loader backed by an in-memory map (useful for tests/demos).
type StaticBankLoader struct {
	banks map[string]domain.QuestionBank
}

func NewStaticBankLoader(banks map[string]domain.QuestionBank) *StaticBankLoader {
	return &StaticBankLoader{banks: banks}
}

func (l *StaticBankLoader) LoadBank(_ context.Context, bankID string) (domain.QuestionBank, error) {
	if bank, ok := l.banks[bankID]; ok {
		return bank, nil
	}
	return domain.QuestionBank{}, fmt.Errorf("%w: %s", domain.ErrBankNotFound, bankID)
}
