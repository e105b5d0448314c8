// Package client assembles the per-device trip engine: config sync,
// presence, members, SOS, ride recording and live resort status.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"backend-skitrip/internal/auth"
	"backend-skitrip/internal/docstore"
	"backend-skitrip/internal/localstore"
	"backend-skitrip/internal/logging"
	"backend-skitrip/internal/members"
	"backend-skitrip/internal/presence"
	"backend-skitrip/internal/resort"
	"backend-skitrip/internal/shared/geo"
	"backend-skitrip/internal/tracking"
	"backend-skitrip/internal/trip"
)

type Deps struct {
	Store    docstore.Store
	KV       localstore.KV
	Identity auth.Provider
	// Source is the device location service; nil uses the simulator.
	Source presence.Source
	Logger *slog.Logger

	GPSInterval       time.Duration
	RecordingInterval time.Duration
}

// Engine follows the synchronizer's active trip: on every switch it tears
// down the previous trip's member subscription and presence loop before
// starting new ones. SOS callbacks run under the engine lock and must not
// call back into the Engine.
type Engine struct {
	Sync      *trip.Synchronizer
	Publisher *presence.Publisher
	Members   *members.Aggregator
	SOS       *members.SOSMonitor
	Recorder  *tracking.Recorder
	Resort    *resort.Watcher

	logger  *slog.Logger
	cancels []func()

	mu        sync.Mutex
	tripID    string
	gen       uint64
	memberSub docstore.Subscription
	views     []members.View
	watchers  map[int]func([]members.View)
	nextID    int
}

func New(ctx context.Context, d Deps) *Engine {
	logger := logging.OrDefault(d.Logger)
	pub := presence.NewPublisher(ctx, presence.Options{
		Store:             d.Store,
		KV:                d.KV,
		Identity:          d.Identity,
		Source:            d.Source,
		Logger:            logger.With("component", "presence"),
		GPSInterval:       d.GPSInterval,
		RecordingInterval: d.RecordingInterval,
	})
	e := &Engine{
		Sync:      trip.NewSynchronizer(d.Store, d.KV, d.Identity, logger.With("component", "trip")),
		Publisher: pub,
		Members:   members.NewAggregator(d.Store, d.Identity, logger.With("component", "members")),
		SOS:       members.NewSOSMonitor(),
		Recorder:  tracking.NewRecorder(d.KV, logger.With("component", "tracking")),
		Resort:    resort.NewWatcher(d.Store, logger.With("component", "resort")),
		logger:    logger,
		watchers:  map[int]func([]members.View){},
	}

	e.cancels = append(e.cancels,
		e.Sync.Watch(e.onTripEvent),
		e.Recorder.OnStateChange(e.Publisher.SetRecording),
		e.Publisher.OnFix(func(p geo.Point) { e.Recorder.AddSample(p) }),
	)
	return e
}

// Start opens the deep-linked or cached trip and begins watching resort
// status. It returns the trip id that was opened, if any.
func (e *Engine) Start(ctx context.Context, deepLinkID string) (string, error) {
	e.Resort.Start()
	id, err := e.Sync.Start(ctx, deepLinkID)
	if err != nil {
		return "", err
	}
	e.followActive()
	return id, nil
}

// Close stops all loops and subscriptions. Local state is kept.
func (e *Engine) Close() {
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Lock()
	e.teardownLocked()
	e.mu.Unlock()
	e.Resort.Stop()
	e.Recorder.Close()
}

func (e *Engine) CreateTrip(ctx context.Context, cfg trip.Config) (string, error) {
	id, err := e.Sync.CreateTrip(ctx, cfg)
	if err != nil {
		return "", err
	}
	e.followActive()
	return id, nil
}

// JoinTrip accepts a share link or a bare trip id.
func (e *Engine) JoinTrip(ctx context.Context, linkOrID string) (string, error) {
	id, err := trip.TripIDFromLink(linkOrID)
	if err != nil {
		return "", err
	}
	if err := e.Sync.JoinTrip(ctx, id); err != nil {
		return "", err
	}
	e.followActive()
	return id, nil
}

func (e *Engine) UpdateTripConfig(ctx context.Context, cfg trip.Config) error {
	return e.Sync.UpdateTripConfig(ctx, cfg)
}

func (e *Engine) DeleteTrip(ctx context.Context) error {
	return e.Sync.DeleteTrip(ctx)
}

func (e *Engine) LeaveTrip(ctx context.Context) error {
	err := e.Sync.LeaveTrip(ctx)
	e.followActive()
	return err
}

func (e *Engine) RaiseSOS(ctx context.Context) { e.Publisher.RaiseSOS(ctx) }

func (e *Engine) ClearSOS(ctx context.Context) { e.Publisher.ClearSOS(ctx) }

// StartRide arms the recorder; the publisher switches to the recording
// cadence through the state listener.
func (e *Engine) StartRide() error { return e.Recorder.Start() }

func (e *Engine) StopRide(ctx context.Context) (tracking.RideRecord, error) {
	return e.Recorder.Stop(ctx)
}

// MemberList returns the last delivered member list.
func (e *Engine) MemberList() []members.View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]members.View(nil), e.views...)
}

// WatchMembers registers fn for every member list delivery.
func (e *Engine) WatchMembers(fn func([]members.View)) (cancel func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.watchers[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.watchers, id)
			e.mu.Unlock()
		})
	}
}

// LiftStatus is the live status of a lift or trail, falling back to the
// trip config default.
func (e *Engine) LiftStatus(id string) (trip.Status, bool) {
	cfg := e.Sync.State().Config
	if cfg == nil {
		return "", false
	}
	for _, l := range cfg.Lifts {
		if l.ID == id {
			return e.Resort.StatusOf(id, l.Status), true
		}
	}
	for _, t := range cfg.Trails {
		if t.ID == id {
			return e.Resort.StatusOf(id, t.Status), true
		}
	}
	return "", false
}

// onTripEvent runs under the synchronizer's transition lock.
func (e *Engine) onTripEvent(ev trip.Event) {
	switch ev.Kind {
	case trip.EventConfig:
		e.follow(ev.TripID, ev.State.Config)
	case trip.EventEvicted, trip.EventLeft:
		e.mu.Lock()
		if e.tripID == ev.TripID {
			e.teardownLocked()
		}
		e.mu.Unlock()
	}
}

func (e *Engine) followActive() {
	st := e.Sync.State()
	e.follow(st.TripID, st.Config)
}

func (e *Engine) follow(tripID string, cfg *trip.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if tripID == e.tripID {
		if tripID != "" && cfg != nil {
			e.Publisher.SetConfig(*cfg)
		}
		return
	}
	e.teardownLocked()
	if tripID == "" {
		return
	}

	e.tripID = tripID
	gen := e.gen
	sub, err := e.Members.Subscribe(tripID, func(views []members.View) { e.onMembers(gen, views) })
	if err != nil {
		e.logger.Warn("member subscription failed", "trip_id", tripID, "error", err)
	} else {
		e.memberSub = sub
	}

	var start trip.Config
	if cfg != nil {
		start = *cfg
	}
	if err := e.Publisher.Start(context.Background(), tripID, start); err != nil {
		if errors.Is(err, presence.ErrPermissionDenied) {
			e.logger.Warn("presence disabled", "trip_id", tripID, "error", err)
		} else {
			e.logger.Error("presence start failed", "trip_id", tripID, "error", err)
		}
	}
	e.logger.Info("following trip", "trip_id", tripID)
}

// teardownLocked cancels the member subscription before anything for a new
// trip is started, so no late delivery can land on the new trip.
func (e *Engine) teardownLocked() {
	e.gen++
	if e.memberSub != nil {
		e.memberSub.Cancel()
		e.memberSub = nil
	}
	e.Publisher.Stop()
	e.tripID = ""
	e.views = nil
	e.SOS.Update(nil)
}

func (e *Engine) onMembers(gen uint64, views []members.View) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.views = views
	e.SOS.Update(views)
	fns := make([]func([]members.View), 0, len(e.watchers))
	for _, fn := range e.watchers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(views)
	}
}
