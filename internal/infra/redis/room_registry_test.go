package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestRoomRegistrySetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	registry := NewRoomRegistry(client, "node-a", time.Minute, nil)

	registry.RoomOpened("r1")
	registry.RoomOpened("r2")
	registry.RoomClosed("r2")
	registry.Close()

	if !mr.Exists("gameroom:room:r1") {
		t.Fatalf("expected redis key to be set")
	}
	if mr.Exists("gameroom:room:r2") {
		t.Fatalf("expected redis key to be removed")
	}
	owner, err := registry.Owner(context.Background(), "r1")
	if err != nil || owner != "node-a" {
		t.Fatalf("owner = %q, %v", owner, err)
	}
	live, err := registry.LiveRooms(context.Background())
	if err != nil {
		t.Fatalf("live rooms: %v", err)
	}
	if len(live) != 1 || live[0] != "r1" {
		t.Fatalf("unexpected live rooms: %v", live)
	}
}

func TestRoomRegistryPrunesExpiredRooms(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	registry := NewRoomRegistry(newClient(mr), "node-a", time.Minute, nil)
	registry.RoomOpened("r1")
	registry.Close()

	mr.FastForward(2 * time.Minute)
	live, err := registry.LiveRooms(context.Background())
	if err != nil {
		t.Fatalf("live rooms: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("expected expired room pruned, got %v", live)
	}
	if ok, _ := mr.SIsMember("gameroom:rooms", "r1"); ok {
		t.Fatalf("stale set member kept")
	}
}
