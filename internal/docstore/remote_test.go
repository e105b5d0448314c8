package docstore

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"backend-skitrip/internal/metrics"
)

func startServer(t *testing.T) (*Local, string) {
	t.Helper()
	store := newTestLocal()
	app := newTestApp(store, metrics.New())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return store, "http://" + ln.Addr().String()
}

func newTestRemote(t *testing.T, baseURL, uid string) *Remote {
	t.Helper()
	r, err := NewRemote(baseURL, TokenFunc(func() string { return uid }), nil, nil)
	if err != nil {
		t.Fatalf("new remote: %v", err)
	}
	return r
}

func TestNewRemoteRejectsScheme(t *testing.T) {
	if _, err := NewRemote("ftp://example.com", nil, nil, nil); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestRemoteReadWriteDelete(t *testing.T) {
	_, base := startServer(t)
	ctx := context.Background()
	admin := newTestRemote(t, base, "admin")
	member := newTestRemote(t, base, "member")

	snap, err := admin.Get(ctx, "trips/ab12cd")
	if err != nil || snap.Exists {
		t.Fatalf("expected missing trip, got %+v %v", snap, err)
	}

	if err := admin.Set(ctx, "trips/ab12cd", map[string]any{"adminId": "admin"}, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	snap, err = member.Get(ctx, "trips/ab12cd")
	if err != nil || !snap.Exists || snap.Data["adminId"] != "admin" {
		t.Fatalf("member read: %+v %v", snap, err)
	}

	if err := member.Set(ctx, "trips/ab12cd", map[string]any{"config": map[string]any{}}, true); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if err := member.Delete(ctx, "trips/ab12cd"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied on delete, got %v", err)
	}

	anon := newTestRemote(t, base, "")
	if _, err := anon.Get(ctx, "trips/ab12cd"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}

	if err := admin.Delete(ctx, "trips/ab12cd"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	snap, _ = member.Get(ctx, "trips/ab12cd")
	if snap.Exists {
		t.Fatalf("trip still present after delete")
	}
}

func TestRemoteSubscribe(t *testing.T) {
	store, base := startServer(t)
	ctx := context.Background()
	member := newTestRemote(t, base, "member")

	ch := make(chan Snapshot, 8)
	sub := member.Subscribe("trips/live", func(s Snapshot) { ch <- s }, func(err error) { t.Errorf("subscription error: %v", err) })
	defer sub.Cancel()

	if first := nextSnapshot(t, ch); first.Exists {
		t.Fatalf("expected missing document first, got %+v", first)
	}

	if err := store.Set(ctx, "trips/live", map[string]any{"adminId": "a"}, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	deadline := time.After(time.Second)
	for {
		select {
		case s := <-ch:
			if s.Exists && s.Data["adminId"] == "a" {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for pushed change")
		}
	}
}

func TestRemoteSubscribeCollection(t *testing.T) {
	_, base := startServer(t)
	ctx := context.Background()
	u1 := newTestRemote(t, base, "u1")
	u2 := newTestRemote(t, base, "u2")

	ch := make(chan []Snapshot, 8)
	sub := u2.SubscribeCollection(LocationsPath("t"), func(d []Snapshot) { ch <- d }, nil)
	defer sub.Cancel()

	if docs := nextDocs(t, ch); len(docs) != 0 {
		t.Fatalf("expected empty collection, got %+v", docs)
	}
	if err := u1.Set(ctx, LocationPath("t", "u1"), map[string]any{"uid": "u1", "status": "SOS"}, true); err != nil {
		t.Fatalf("set presence: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case docs := <-ch:
			if len(docs) == 1 && docs[0].Data["status"] == "SOS" {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for collection change")
		}
	}
}

func TestRemoteSubscribeDenied(t *testing.T) {
	_, base := startServer(t)
	r := newTestRemote(t, base, "u1")

	errs := make(chan error, 1)
	sub := r.Subscribe("users/u1", func(Snapshot) { t.Errorf("unexpected delivery") }, func(err error) { errs <- err })
	defer sub.Cancel()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("expected permission denied, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for denial")
	}
}

// dropProxy forwards TCP connections to target and can cut them all.
type dropProxy struct {
	addr   string
	target string
	mu     sync.Mutex
	conns  []net.Conn
}

func startProxy(t *testing.T, target string) *dropProxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &dropProxy{addr: ln.Addr().String(), target: target}
	t.Cleanup(func() {
		ln.Close()
		p.dropAll()
	})
	go func() {
		for {
			client, err := ln.Accept()
			if err != nil {
				return
			}
			upstream, err := net.Dial("tcp", p.target)
			if err != nil {
				client.Close()
				continue
			}
			p.mu.Lock()
			p.conns = append(p.conns, client, upstream)
			p.mu.Unlock()
			go func() { _, _ = io.Copy(upstream, client); upstream.Close() }()
			go func() { _, _ = io.Copy(client, upstream); client.Close() }()
		}
	}()
	return p
}

func (p *dropProxy) dropAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		c.Close()
	}
	p.conns = nil
}

func TestRemoteSubscriptionRedialsAfterDrop(t *testing.T) {
	store, base := startServer(t)
	proxy := startProxy(t, strings.TrimPrefix(base, "http://"))
	r := newTestRemote(t, "http://"+proxy.addr, "member")
	r.retryMin, r.retryMax = 20*time.Millisecond, 100*time.Millisecond

	snaps := make(chan Snapshot, 16)
	errs := make(chan error, 16)
	sub := r.Subscribe("trips/live", func(s Snapshot) { snaps <- s }, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	defer sub.Cancel()

	if first := nextSnapshot(t, snaps); first.Exists {
		t.Fatalf("expected missing document first, got %+v", first)
	}

	proxy.dropAll()
	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the dropped connection to be reported")
	}

	if err := store.Set(context.Background(), "trips/live", map[string]any{"adminId": "a"}, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-snaps:
			if s.Exists && s.Data["adminId"] == "a" {
				return
			}
		case <-deadline:
			t.Fatalf("no delivery after the connection was re-established")
		}
	}
}

func TestRemoteSubscriptionStopsRedialingOnCancel(t *testing.T) {
	_, base := startServer(t)
	proxy := startProxy(t, strings.TrimPrefix(base, "http://"))
	r := newTestRemote(t, "http://"+proxy.addr, "member")
	r.retryMin, r.retryMax = 10*time.Millisecond, 10*time.Millisecond

	snaps := make(chan Snapshot, 16)
	sub := r.Subscribe("trips/live", func(s Snapshot) { snaps <- s }, nil)
	nextSnapshot(t, snaps)

	sub.Cancel()
	proxy.dropAll()
	time.Sleep(100 * time.Millisecond)
	select {
	case s := <-snaps:
		t.Fatalf("delivery after cancel: %+v", s)
	default:
	}
}
