package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const liveRoomsKey = "gameroom:rooms"

// RoomRegistry marks which rooms this instance hosts so other instances and
// tools can find them. Each live room has a liveness key refreshed with a TTL
// and an entry in a shared set. The room manager calls it under its lock, so
// writes are queued and applied in order by one goroutine.
type RoomRegistry struct {
	client   *redis.Client
	ttl      time.Duration
	instance string
	log      *zap.Logger

	ops      chan registryOp
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

type registryOp struct {
	roomID string
	open   bool
}

func NewRoomRegistry(client *redis.Client, instance string, ttl time.Duration, log *zap.Logger) *RoomRegistry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &RoomRegistry{
		client:   client,
		ttl:      ttl,
		instance: instance,
		log:      log,
		ops:      make(chan registryOp, 256),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *RoomRegistry) RoomOpened(roomID string) { r.enqueue(registryOp{roomID: roomID, open: true}) }

func (r *RoomRegistry) RoomClosed(roomID string) { r.enqueue(registryOp{roomID: roomID}) }

func (r *RoomRegistry) enqueue(op registryOp) {
	select {
	case r.ops <- op:
	case <-r.done:
	default:
		r.log.Warn("room registry queue full", zap.String("room_id", op.roomID), zap.Bool("open", op.open))
	}
}

func (r *RoomRegistry) run() {
	defer close(r.stopped)
	hosted := make(map[string]struct{})

	refresh := time.NewTicker(r.refreshEvery())
	defer refresh.Stop()

	for {
		select {
		case op := <-r.ops:
			if op.open {
				hosted[op.roomID] = struct{}{}
			} else {
				delete(hosted, op.roomID)
			}
			r.apply(op)
		case <-refresh.C:
			r.touch(hosted)
		case <-r.done:
			for {
				select {
				case op := <-r.ops:
					r.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (r *RoomRegistry) apply(op registryOp) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	if op.open {
		pipe.Set(ctx, roomKey(op.roomID), r.instance, r.ttl)
		pipe.SAdd(ctx, liveRoomsKey, op.roomID)
	} else {
		pipe.Del(ctx, roomKey(op.roomID))
		pipe.SRem(ctx, liveRoomsKey, op.roomID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("room registry write", zap.String("room_id", op.roomID), zap.Error(err))
	}
}

func (r *RoomRegistry) refreshEvery() time.Duration {
	if r.ttl <= 0 {
		return time.Minute
	}
	return r.ttl / 2
}

// touch extends the liveness keys of every hosted room.
func (r *RoomRegistry) touch(hosted map[string]struct{}) {
	if len(hosted) == 0 || r.ttl <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	pipe := r.client.Pipeline()
	for id := range hosted {
		pipe.Set(ctx, roomKey(id), r.instance, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("refresh room liveness", zap.Int("rooms", len(hosted)), zap.Error(err))
	}
}

// LiveRooms lists the rooms whose liveness key has not expired, pruning stale set members.
func (r *RoomRegistry) LiveRooms(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, liveRoomsKey).Result()
	if err != nil {
		return nil, err
	}
	live := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := r.client.Exists(ctx, roomKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			_ = r.client.SRem(ctx, liveRoomsKey, id).Err()
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

// Owner returns the instance hosting roomID, or "" if none.
func (r *RoomRegistry) Owner(ctx context.Context, roomID string) (string, error) {
	owner, err := r.client.Get(ctx, roomKey(roomID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return owner, err
}

// Close flushes pending writes and stops the worker.
func (r *RoomRegistry) Close() {
	r.stopOnce.Do(func() { close(r.done) })
	<-r.stopped
}

func roomKey(roomID string) string {
	return "gameroom:room:" + roomID
}
