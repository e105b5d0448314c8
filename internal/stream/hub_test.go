package stream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()
	client := hub.Register("trips/ab12cd")
	defer hub.Unregister(client)

	hub.Broadcast("trips/ab12cd", []byte("hello"))

	select {
	case msg := <-client.Send:
		if string(msg) != "hello" {
			t.Fatalf("unexpected message %q", msg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
	}
}

func TestHubTopicsAreIsolated(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()
	a := hub.Register("trips/a")
	b := hub.Register("trips/b")
	defer hub.Unregister(a)
	defer hub.Unregister(b)

	hub.Broadcast("trips/a", []byte("x"))
	select {
	case <-b.Send:
		t.Fatalf("topic b should not receive topic a payloads")
	case <-time.After(20 * time.Millisecond):
	}
	if len(a.Send) != 1 {
		t.Fatalf("expected one queued payload on topic a")
	}
}

func TestHubHelpers(t *testing.T) {
	ch := redisChannel("trips/abc/locations")
	if ch != "docs:trips/abc/locations:changed" {
		t.Fatalf("unexpected channel %q", ch)
	}
	if topicFromChannel(ch) != "trips/abc/locations" {
		t.Fatalf("unexpected topic")
	}
	if topicFromChannel("bad") != "" {
		t.Fatalf("expected empty topic")
	}
	if topicFromChannel("other:trips/x:changed") != "" {
		t.Fatalf("expected empty topic for foreign prefix")
	}
}

func TestUnregisterClosesOnce(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()
	client := hub.Register("trips/x")
	if hub.Listeners("trips/x") != 1 {
		t.Fatalf("expected one listener")
	}
	hub.Unregister(client)
	hub.Unregister(client)
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected channel closed")
	}
	if hub.Listeners("trips/x") != 0 {
		t.Fatalf("expected no listeners")
	}
}

func TestHubFullBufferDrops(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()
	client := hub.Register("t")
	defer hub.Unregister(client)

	for i := 0; i < sendBuffer+10; i++ {
		hub.Broadcast("t", []byte("x"))
	}
	if len(client.Send) != sendBuffer {
		t.Fatalf("expected buffer capped at %d, got %d", sendBuffer, len(client.Send))
	}
}

func TestHubRedisRelayBetweenInstances(t *testing.T) {
	s := miniredis.RunT(t)
	rdbA := redis.NewClient(&redis.Options{Addr: s.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdbA.Close()
	defer rdbB.Close()

	hubA := NewHub(rdbA, nil)
	hubB := NewHub(rdbB, nil)
	defer hubA.Close()
	defer hubB.Close()

	local := hubA.Register("trips/ab12cd")
	remote := hubB.Register("trips/ab12cd")
	defer hubA.Unregister(local)
	defer hubB.Unregister(remote)

	hubA.Broadcast("trips/ab12cd", []byte("ping"))

	select {
	case msg := <-remote.Send:
		if string(msg) != "ping" {
			t.Fatalf("unexpected relayed message %q", msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for relayed message")
	}

	// the origin instance delivers locally exactly once and ignores its own echo
	<-local.Send
	select {
	case <-local.Send:
		t.Fatalf("origin should skip its own relayed message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubRedisForeignPayload(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	hub := NewHub(rdb, nil)
	defer hub.Close()
	client := hub.Register("resortStatus")
	defer hub.Unregister(client)

	if err := rdb.Publish(context.Background(), "docs:resortStatus:changed", "scraped").Err(); err != nil {
		t.Fatalf("publish error: %v", err)
	}

	select {
	case msg := <-client.Send:
		if string(msg) != "scraped" {
			t.Fatalf("unexpected message %q", msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for redis message")
	}
}

func TestHubRedisPublishError(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	hub := NewHub(client, nil)
	server.Close()
	node := hub.Register("session-bad")

	hub.Broadcast("session-bad", []byte("ping"))
	if len(node.Send) != 1 {
		t.Fatalf("local delivery should not depend on redis")
	}
	hub.Unregister(node)
	hub.Close()
}
