package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"gameroom-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// BankLoader fetches question banks from a backing store (e.g., Postgres JSONB).
type BankLoader interface {
	LoadBank(ctx context.Context, bankID string) (domain.QuestionBank, error)
}

// QuestionRepository caches question banks in Redis and falls back to a loader on cache miss.
// Each bank is a hash of its questions keyed by position:
// HSET gameroom:bank:{bankID} {index} {question JSON}
type QuestionRepository struct {
	client *redis.Client
	loader BankLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader BankLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetBank(ctx context.Context, bankID string) (domain.QuestionBank, error) {
	key := bankKey(bankID)

	if bank, ok := r.fromCache(ctx, bankID, key); ok {
		return bank, nil
	}

	result, err, _ := r.sf.Do(bankID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if bank, ok := r.fromCache(ctx, bankID, key); ok {
			return bank, nil
		}

		bank, err := r.loader.LoadBank(ctx, bankID)
		if err != nil {
			return domain.QuestionBank{}, err
		}

		pipe := r.client.TxPipeline()
		pipe.Del(ctx, key)
		for i, q := range bank.Questions {
			raw, err := json.Marshal(q)
			if err != nil {
				return domain.QuestionBank{}, fmt.Errorf("marshal question %s: %w", q.ID, err)
			}
			pipe.HSet(ctx, key, strconv.Itoa(i), raw)
		}
		if ttl := r.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		// best-effort: a failed write only costs another load
		_, _ = pipe.Exec(ctx)

		return bank, nil
	})
	if err != nil {
		return domain.QuestionBank{}, err
	}
	return result.(domain.QuestionBank), nil
}

func (r *QuestionRepository) fromCache(ctx context.Context, bankID, key string) (domain.QuestionBank, bool) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil || len(fields) == 0 {
		return domain.QuestionBank{}, false
	}
	bank, err := buildBankFromCache(bankID, fields)
	if err != nil {
		return domain.QuestionBank{}, false
	}
	return bank, true
}

func buildBankFromCache(bankID string, fields map[string]string) (domain.QuestionBank, error) {
	type indexed struct {
		pos int
		q   domain.Question
	}
	items := make([]indexed, 0, len(fields))
	for field, raw := range fields {
		pos, err := strconv.Atoi(field)
		if err != nil {
			return domain.QuestionBank{}, fmt.Errorf("bad question index %q: %w", field, err)
		}
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return domain.QuestionBank{}, fmt.Errorf("unmarshal question: %w", err)
		}
		items = append(items, indexed{pos: pos, q: q})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].pos < items[j].pos })

	bank := domain.QuestionBank{ID: bankID, Questions: make([]domain.Question, 0, len(items))}
	for _, it := range items {
		bank.Questions = append(bank.Questions, it.q)
	}
	return bank, nil
}

func bankKey(bankID string) string {
	return "gameroom:bank:" + bankID
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
