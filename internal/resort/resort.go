// Package resort reads the live lift and trail status written by the
// external scraper into the resortStatus document.
package resort

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"backend-skitrip/internal/docstore"
	"backend-skitrip/internal/logging"
	"backend-skitrip/internal/trip"

	"gopkg.in/yaml.v3"
)

// Status mirrors the resortStatus document.
type Status struct {
	LiftsOpen      int                    `json:"liftsOpen" yaml:"liftsOpen"`
	LiftsTotal     int                    `json:"liftsTotal" yaml:"liftsTotal"`
	Weather        string                 `json:"weather,omitempty" yaml:"weather,omitempty"`
	Temp           float64                `json:"temp,omitempty" yaml:"temp,omitempty"`
	NextSnow       string                 `json:"nextSnow,omitempty" yaml:"nextSnow,omitempty"`
	Warning        string                 `json:"warning,omitempty" yaml:"warning,omitempty"`
	LastUpdated    string                 `json:"lastUpdated,omitempty" yaml:"lastUpdated,omitempty"`
	DetailedStatus map[string]trip.Status `json:"detailedStatus,omitempty" yaml:"detailedStatus,omitempty"`
}

// Watcher keeps the latest resort status. Overrides are look-up only; trip
// configs are never modified.
type Watcher struct {
	store  docstore.Store
	logger *slog.Logger

	mu     sync.RWMutex
	status Status
	live   bool
	sub    docstore.Subscription
	onLive func(Status)
}

func NewWatcher(store docstore.Store, logger *slog.Logger) *Watcher {
	return &Watcher{store: store, logger: logging.OrDefault(logger)}
}

// OnChange sets a callback invoked after each delivered status.
func (w *Watcher) OnChange(fn func(Status)) {
	w.mu.Lock()
	w.onLive = fn
	w.mu.Unlock()
}

func (w *Watcher) Start() {
	w.mu.Lock()
	if w.sub != nil {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	sub := w.store.Subscribe(docstore.ResortStatusPath, w.apply, func(err error) {
		w.logger.Warn("resort status subscription error", "error", err)
	})
	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	sub := w.sub
	w.sub = nil
	w.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

func (w *Watcher) apply(snap docstore.Snapshot) {
	if !snap.Exists {
		return
	}
	var st Status
	if err := snap.Decode(&st); err != nil {
		w.logger.Warn("ignoring unreadable resort status", "error", err)
		return
	}
	w.mu.Lock()
	w.status = st
	w.live = true
	fn := w.onLive
	w.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// Status returns the last delivered status and whether one has arrived.
func (w *Watcher) Status() (Status, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status, w.live
}

// StatusOf returns the live status for a lift or trail id, or def.
func (w *Watcher) StatusOf(id string, def trip.Status) trip.Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if s, ok := w.status.DetailedStatus[id]; ok && s != "" {
		return s
	}
	return def
}

// LiftCounts reports open and total lifts, from the live status when present
// and otherwise from the config defaults.
func (w *Watcher) LiftCounts(cfg trip.Config) (open, total int) {
	if st, ok := w.Status(); ok && st.LiftsTotal > 0 {
		return st.LiftsOpen, st.LiftsTotal
	}
	for _, l := range cfg.Lifts {
		if w.StatusOf(l.ID, l.Status) == trip.StatusOpen {
			open++
		}
	}
	return open, len(cfg.Lifts)
}

// Publish writes st as the resortStatus document. Clients cannot; this is
// for the server and the scraper collaborator.
func Publish(ctx context.Context, store docstore.Store, st Status) error {
	fields, err := docstore.ToFields(st)
	if err != nil {
		return err
	}
	return store.Set(ctx, docstore.ResortStatusPath, fields, true)
}

// LoadStatusFile reads a YAML status snapshot.
func LoadStatusFile(path string) (Status, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Status{}, err
	}
	var st Status
	if err := yaml.Unmarshal(raw, &st); err != nil {
		return Status{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return st, nil
}
