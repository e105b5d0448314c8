package docstore

import (
	"context"
	"log/slog"

	"backend-skitrip/internal/logging"
	"backend-skitrip/internal/stream"
)

var _ Store = (*Local)(nil)

// Local is the authoritative in-process store: a Backend for persistence and
// a stream.Hub for change notices. Every write notifies the document's topic
// and its parent collection's topic.
type Local struct {
	backend Backend
	hub     *stream.Hub
	logger  *slog.Logger
}

func NewLocal(backend Backend, hub *stream.Hub, logger *slog.Logger) *Local {
	if hub == nil {
		hub = stream.NewHub(nil, logger)
	}
	return &Local{backend: backend, hub: hub, logger: logging.OrDefault(logger)}
}

func (l *Local) Get(ctx context.Context, path string) (Snapshot, error) {
	if _, err := Segments(path); err != nil {
		return Snapshot{}, err
	}
	data, ok, err := l.backend.Get(ctx, path)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: path, Exists: ok, Data: data}, nil
}

// List returns the documents directly under the collection path.
func (l *Local) List(ctx context.Context, parent string) ([]Snapshot, error) {
	if _, err := Segments(parent); err != nil {
		return nil, err
	}
	return l.backend.List(ctx, parent)
}

func (l *Local) Set(ctx context.Context, path string, fields map[string]any, merge bool) error {
	if _, err := Segments(path); err != nil {
		return err
	}
	if err := l.backend.Put(ctx, path, fields, merge); err != nil {
		return err
	}
	l.notify(path)
	return nil
}

func (l *Local) Delete(ctx context.Context, path string) error {
	if _, err := Segments(path); err != nil {
		return err
	}
	existed, err := l.backend.Delete(ctx, path)
	if err != nil {
		return err
	}
	if existed {
		l.notify(path)
	}
	return nil
}

func (l *Local) Subscribe(path string, onChange func(Snapshot), onError func(error)) Subscription {
	return l.watch(path, func(ctx context.Context) (func(), error) {
		snap, err := l.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		return func() { onChange(snap) }, nil
	}, onError)
}

func (l *Local) SubscribeCollection(path string, onChange func([]Snapshot), onError func(error)) Subscription {
	return l.watch(path, func(ctx context.Context) (func(), error) {
		docs, err := l.List(ctx, path)
		if err != nil {
			return nil, err
		}
		return func() { onChange(docs) }, nil
	}, onError)
}

// watch delivers once immediately and again after each notice on topic.
// Notices queued while a delivery runs collapse into one re-read.
func (l *Local) watch(topic string, read func(context.Context) (func(), error), onError func(error)) Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	client := l.hub.Register(topic)
	sub := newSubscription(func() {
		cancel()
		l.hub.Unregister(client)
	})

	run := func() {
		if !sub.active() {
			return
		}
		emit, err := read(ctx)
		if !sub.active() {
			return
		}
		if err != nil {
			l.logger.Warn("subscription read failed", "topic", topic, "error", err)
			if onError != nil {
				onError(err)
			}
			return
		}
		emit()
	}

	go func() {
		run()
		for range client.Send {
			drain(client.Send)
			run()
		}
	}()
	return sub
}

func (l *Local) notify(path string) {
	l.hub.Broadcast(path, []byte(path))
	if parent := Parent(path); parent != "" {
		l.hub.Broadcast(parent, []byte(path))
	}
}

func drain(ch chan []byte) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
