// Package tracking records rides from the device's location feed and keeps
// the finished rides in local history.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"backend-skitrip/internal/localstore"
	"backend-skitrip/internal/logging"
	"backend-skitrip/internal/shared/geo"

	"github.com/google/uuid"
)

// tickEvery is how often the recording clock advances without samples.
var tickEvery = time.Second

// Recorder is the Idle/Recording state machine. All state sits behind mu;
// listeners run after it is released.
type Recorder struct {
	kv     localstore.KV
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu        sync.Mutex
	session   Session
	stopClock context.CancelFunc
	listeners map[int]func(bool)
	nextID    int
}

func NewRecorder(kv localstore.KV, logger *slog.Logger) *Recorder {
	return &Recorder{
		kv:        kv,
		logger:    logging.OrDefault(logger),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
		listeners: map[int]func(bool){},
	}
}

// OnStateChange registers fn for Idle/Recording transitions.
func (r *Recorder) OnStateChange(fn func(recording bool)) (cancel func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, id)
			r.mu.Unlock()
		})
	}
}

// Start resets the path and stats and begins recording.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.session.Recording {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.session = Session{
		Recording: true,
		Path:      []TrackPoint{},
		Stats:     Stats{StartTime: r.now()},
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.stopClock = cancel
	r.mu.Unlock()

	go r.runClock(ctx)
	r.notify(true)
	return nil
}

// AddSample appends p while recording. A sample at the same coordinates as
// the previous point is ignored. It reports whether p was accepted.
func (r *Recorder) AddSample(p geo.Point) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.session.Recording || !p.Valid() {
		return false
	}

	now := r.now()
	path := r.session.Path
	if n := len(path); n > 0 {
		prev := path[n-1].Point()
		if prev.Equal(p) {
			return false
		}
		r.session.Stats.DistanceKm += geo.DistanceKm(prev, p)
	}
	r.session.Path = append(path, TrackPoint{Lat: p.Lat, Lng: p.Lng, Timestamp: now.UnixMilli()})
	r.session.Stats.DurationSec = r.elapsed(now)
	return true
}

// Tick advances the duration while stationary.
func (r *Recorder) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session.Recording {
		r.session.Stats.DurationSec = r.elapsed(r.now())
	}
}

// Stop ends the ride. Rides with fewer than two points return
// ErrRideTooShort and are not saved; others are prepended to history.
func (r *Recorder) Stop(ctx context.Context) (RideRecord, error) {
	r.mu.Lock()
	if !r.session.Recording {
		r.mu.Unlock()
		return RideRecord{}, ErrNotRecording
	}
	done := r.session
	r.session = Session{}
	if r.stopClock != nil {
		r.stopClock()
		r.stopClock = nil
	}
	end := r.now()
	r.mu.Unlock()

	r.notify(false)

	if len(done.Path) < 2 {
		return RideRecord{}, ErrRideTooShort
	}
	rec := RideRecord{
		ID:          r.newID(),
		Date:        done.Stats.StartTime.Format(time.DateOnly),
		StartTime:   done.Stats.StartTime,
		EndTime:     end,
		DistanceKm:  done.Stats.DistanceKm,
		DurationSec: done.Stats.DurationSec,
		Path:        done.Path,
	}
	return rec, r.prepend(ctx, rec)
}

// Session returns a copy of the current session.
func (r *Recorder) Session() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.session
	s.Path = append([]TrackPoint(nil), s.Path...)
	return s
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Recording
}

// History returns saved rides, most recent first.
func (r *Recorder) History(ctx context.Context) ([]RideRecord, error) {
	raw, err := r.kv.Get(ctx, localstore.KeyRideHistory)
	if errors.Is(err, localstore.ErrNotFound) {
		return []RideRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	var rides []RideRecord
	if err := json.Unmarshal([]byte(raw), &rides); err != nil {
		return nil, fmt.Errorf("read ride history: %w", err)
	}
	return rides, nil
}

// ClearHistory deletes every saved ride. The caller must pass confirmed
// after asking the user.
func (r *Recorder) ClearHistory(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	return r.kv.Delete(ctx, localstore.KeyRideHistory)
}

// Close stops the recording clock without saving.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.stopClock != nil {
		r.stopClock()
		r.stopClock = nil
	}
	r.mu.Unlock()
}

func (r *Recorder) prepend(ctx context.Context, rec RideRecord) error {
	rides, err := r.History(ctx)
	if err != nil {
		return err
	}
	rides = append([]RideRecord{rec}, rides...)
	raw, err := json.Marshal(rides)
	if err != nil {
		return err
	}
	if err := r.kv.Set(ctx, localstore.KeyRideHistory, string(raw)); err != nil {
		return fmt.Errorf("save ride history: %w", err)
	}
	r.logger.Info("ride saved", "ride_id", rec.ID, "distance_km", rec.DistanceKm, "duration_sec", rec.DurationSec)
	return nil
}

func (r *Recorder) runClock(ctx context.Context) {
	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}

func (r *Recorder) elapsed(now time.Time) int64 {
	return int64(now.Sub(r.session.Stats.StartTime) / time.Second)
}

func (r *Recorder) notify(recording bool) {
	r.mu.Lock()
	fns := make([]func(bool), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(recording)
	}
}
