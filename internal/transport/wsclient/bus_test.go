package wsclient

import (
	"testing"

	"go.uber.org/zap"
)

func TestBusIsolatesPanics(t *testing.T) {
	b := newBus(zap.NewNop())
	var calls []string
	b.add("x", func(any) { calls = append(calls, "first") }, false)
	b.add("x", func(any) { panic("boom") }, false)
	b.add("x", func(any) { calls = append(calls, "third") }, false)

	b.emit("x", nil)
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "third" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestBusOnceAndOff(t *testing.T) {
	b := newBus(zap.NewNop())
	var once, always int
	b.add("x", func(any) { once++ }, true)
	id := b.add("x", func(any) { always++ }, false)

	b.emit("x", nil)
	b.emit("x", nil)
	b.remove("x", id)
	b.emit("x", nil)

	if once != 1 || always != 2 {
		t.Fatalf("once=%d always=%d", once, always)
	}
}

func TestBusHandlerMayUnsubscribeDuringDispatch(t *testing.T) {
	b := newBus(zap.NewNop())
	var id HandlerID
	var self, other int
	id = b.add("x", func(any) {
		self++
		b.remove("x", id)
	}, false)
	b.add("x", func(any) { other++ }, false)

	b.emit("x", "payload")
	b.emit("x", "payload")
	if self != 1 || other != 2 {
		t.Fatalf("self=%d other=%d", self, other)
	}
}
