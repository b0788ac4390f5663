package wsclient

import (
	"sync"

	"go.uber.org/zap"
)

// Handler receives the payload of an event. Server events carry a
// domain.InboundMessage; local events carry the types documented on Event.
type Handler func(payload any)

// HandlerID identifies a registration for Off.
type HandlerID uint64

type registration struct {
	id   HandlerID
	fn   Handler
	once bool
}

// bus is an in-process event registry. Emit snapshots the handlers of an
// event before calling them, so handlers may register or remove handlers.
type bus struct {
	log *zap.Logger

	mu       sync.Mutex
	nextID   HandlerID
	handlers map[string][]registration
}

func newBus(log *zap.Logger) *bus {
	return &bus{log: log, handlers: make(map[string][]registration)}
}

func (b *bus) add(event string, fn Handler, once bool) HandlerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[event] = append(b.handlers[event], registration{id: b.nextID, fn: fn, once: once})
	return b.nextID
}

func (b *bus) remove(event string, id HandlerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.handlers[event]
	for i, r := range regs {
		if r.id == id {
			b.handlers[event] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(b.handlers[event]) == 0 {
		delete(b.handlers, event)
	}
}

func (b *bus) emit(event string, payload any) {
	b.mu.Lock()
	regs := b.handlers[event]
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	kept := regs[:0:0]
	for _, r := range regs {
		if !r.once {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(b.handlers, event)
	} else {
		b.handlers[event] = kept
	}
	b.mu.Unlock()

	for _, r := range snapshot {
		b.call(event, r.fn, payload)
	}
}

func (b *bus) call(event string, fn Handler, payload any) {
	defer func() {
		if p := recover(); p != nil {
			b.log.Error("event handler panicked", zap.String("event", event), zap.Any("panic", p))
		}
	}()
	fn(payload)
}
