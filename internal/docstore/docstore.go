// Package docstore is the shared multi-reader/multi-writer document store:
// point reads, merge or replace writes, deletes, and push subscriptions that
// deliver the current value of a document or collection whenever it changes.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrPermissionDenied = errors.New("not permitted")
	ErrUnauthenticated  = errors.New("not signed in")
	ErrInvalidPath      = errors.New("invalid document path")
	ErrInvalidInput     = errors.New("invalid document fields")
)

// Snapshot is the value of one document at a point in time.
type Snapshot struct {
	Path   string         `json:"path"`
	Exists bool           `json:"exists"`
	Data   map[string]any `json:"data,omitempty"`
}

// ID returns the last path segment.
func (s Snapshot) ID() string {
	return Base(s.Path)
}

// Decode converts the snapshot data into v through its JSON shape.
func (s Snapshot) Decode(v any) error {
	return Decode(s.Data, v)
}

// Subscription is returned by every subscribe call. Cancel is idempotent; once
// it returns no new callback starts.
type Subscription interface {
	Cancel()
}

// Store is the consumed surface of the remote document store.
type Store interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	Set(ctx context.Context, path string, fields map[string]any, merge bool) error
	Delete(ctx context.Context, path string) error
	Subscribe(path string, onChange func(Snapshot), onError func(error)) Subscription
	SubscribeCollection(path string, onChange func([]Snapshot), onError func(error)) Subscription
}

// Paths used by the trip engine.
const ResortStatusPath = "resortStatus"

func TripPath(tripID string) string { return "trips/" + tripID }

func LocationsPath(tripID string) string { return TripPath(tripID) + "/locations" }

func LocationPath(tripID, uid string) string { return LocationsPath(tripID) + "/" + uid }

// Parent returns the collection path containing path, or "" for top-level documents.
func Parent(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// Base returns the last segment of path.
func Base(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}

// Segments splits a cleaned path; it fails on empty or dot segments.
func Segments(path string) ([]string, error) {
	if path == "" {
		return nil, ErrInvalidPath
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return parts, nil
}

// ToFields converts a typed value into document fields through its JSON shape.
func ToFields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return fields, nil
}

// Decode is the inverse of ToFields.
func Decode(fields map[string]any, v any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out, err := ToFields(fields)
	if err != nil {
		// fields that cannot round-trip through JSON never reach a backend
		return map[string]any{}
	}
	return out
}

func mergeFields(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

// subscription is the shared Subscription implementation.
type subscription struct {
	cancelled atomic.Bool
	once      sync.Once
	stop      func()
}

func newSubscription(stop func()) *subscription {
	return &subscription{stop: stop}
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		if s.stop != nil {
			s.stop()
		}
	})
}

func (s *subscription) active() bool {
	return !s.cancelled.Load()
}
