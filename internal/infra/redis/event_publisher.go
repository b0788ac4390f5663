package redis

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gameroom-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// EventPublisher mirrors room events onto Redis pub/sub so other instances
// (spectators, dashboards) can follow a room: PUBLISH gameroom:events:{roomID} {json}.
// Publish never blocks; events are dropped when the queue is full.
type EventPublisher struct {
	client *redis.Client
	log    *zap.Logger
	queue  chan domain.WebSocketMessage

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func NewEventPublisher(client *redis.Client, buffer int, log *zap.Logger) *EventPublisher {
	if buffer <= 0 {
		buffer = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &EventPublisher{
		client:  client,
		log:     log,
		queue:   make(chan domain.WebSocketMessage, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *EventPublisher) Publish(msg domain.WebSocketMessage) {
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- msg:
	default:
		p.log.Warn("dropping room event, publish queue full",
			zap.String("room_id", msg.RoomID),
			zap.String("type", string(msg.Type)))
	}
}

func (p *EventPublisher) run() {
	defer close(p.stopped)
	for {
		select {
		case msg := <-p.queue:
			p.send(msg)
		case <-p.done:
			// drain what is already queued
			for {
				select {
				case msg := <-p.queue:
					p.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (p *EventPublisher) send(msg domain.WebSocketMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("marshal room event", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, EventsChannel(msg.RoomID), raw).Err(); err != nil {
		p.log.Warn("publish room event", zap.String("room_id", msg.RoomID), zap.Error(err))
	}
}

// Close stops accepting events and waits for the queue to flush.
func (p *EventPublisher) Close() {
	p.stopOnce.Do(func() { close(p.done) })
	<-p.stopped
}

// EventsChannel is the pub/sub channel carrying a room's events.
func EventsChannel(roomID string) string {
	return "gameroom:events:" + roomID
}
