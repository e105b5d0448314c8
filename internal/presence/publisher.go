package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"backend-skitrip/internal/auth"
	"backend-skitrip/internal/docstore"
	"backend-skitrip/internal/localstore"
	"backend-skitrip/internal/logging"
	"backend-skitrip/internal/shared/geo"
	"backend-skitrip/internal/trip"
)

// Options are the publisher's dependencies. Source falls back to a
// Simulator centered on the trip's base point.
type Options struct {
	Store    docstore.Store
	KV       localstore.KV
	Identity auth.Provider
	Source   Source
	Logger   *slog.Logger

	// Defaults used when the trip config leaves an interval unset.
	GPSInterval       time.Duration
	RecordingInterval time.Duration
}

const (
	defaultGPSInterval       = 60 * time.Second
	defaultRecordingInterval = 5 * time.Second
)

// Publisher runs one outbound loop for the active trip. Every tick takes a
// fix, updates LocalStatus immediately and then merge-writes the presence
// record. Remote failures are logged and dropped.
//
// All persists go through writeMu and read the status when they write, so
// the last write to land always carries the latest local status.
type Publisher struct {
	store     docstore.Store
	kv        localstore.KV
	identity  auth.Provider
	source    Source
	simulated *Simulator
	logger    *slog.Logger
	now       func() time.Time

	gpsDefault, recDefault time.Duration

	writeMu sync.Mutex

	mu        sync.Mutex
	status    LocalStatus
	tripID    string
	cfg       trip.Config
	recording bool
	permAsked bool
	permErr   error
	wake      chan struct{}
	stop      context.CancelFunc
	done      chan struct{}
	listeners map[int]func(geo.Point)
	nextID    int
}

func NewPublisher(ctx context.Context, opts Options) *Publisher {
	p := &Publisher{
		store:      opts.Store,
		kv:         opts.KV,
		identity:   opts.Identity,
		source:     opts.Source,
		logger:     logging.OrDefault(opts.Logger),
		now:        time.Now,
		gpsDefault: opts.GPSInterval,
		recDefault: opts.RecordingInterval,
		status:     LocalStatus{Status: ActivityActive},
		listeners:  map[int]func(geo.Point){},
	}
	if p.gpsDefault <= 0 {
		p.gpsDefault = defaultGPSInterval
	}
	if p.recDefault <= 0 {
		p.recDefault = defaultRecordingInterval
	}
	if p.source == nil {
		p.simulated = NewSimulator(PilaBase, nil)
		p.source = p.simulated
	}
	p.loadStatus(ctx)
	return p
}

// Start begins publishing for tripID, replacing any previous loop. The
// permission check runs once per publisher; after a denial Start keeps
// returning ErrPermissionDenied without asking again.
func (p *Publisher) Start(ctx context.Context, tripID string, cfg trip.Config) error {
	if tripID == "" {
		return ErrNotStarted
	}
	if err := p.permission(ctx); err != nil {
		return err
	}
	p.Stop()

	loopCtx, cancel := context.WithCancel(context.Background())
	wake := make(chan struct{}, 1)
	done := make(chan struct{})

	p.mu.Lock()
	p.tripID = tripID
	p.cfg = cfg
	p.wake = wake
	p.stop = cancel
	p.done = done
	p.mu.Unlock()
	p.recenter(cfg)

	go p.run(loopCtx, tripID, wake, done)
	return nil
}

// Stop ends the loop and waits for it to exit. Local status is kept.
func (p *Publisher) Stop() {
	p.mu.Lock()
	cancel, done := p.stop, p.done
	p.stop, p.done, p.wake = nil, nil, nil
	p.tripID = ""
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// SetConfig applies a newly delivered trip config without restarting.
func (p *Publisher) SetConfig(cfg trip.Config) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	p.recenter(cfg)
	p.poke()
}

// SetRecording switches between the idle and the recording cadence.
func (p *Publisher) SetRecording(on bool) {
	p.mu.Lock()
	changed := p.recording != on
	p.recording = on
	p.mu.Unlock()
	if changed {
		p.poke()
	}
}

// Interval is the current tick cadence.
func (p *Publisher) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.intervalLocked()
}

func (p *Publisher) intervalLocked() time.Duration {
	if p.recording {
		return p.cfg.RecordingEvery(p.recDefault)
	}
	return p.cfg.GPSEvery(p.gpsDefault)
}

// Status returns the optimistic local status.
func (p *Publisher) Status() LocalStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.clone()
}

// OnFix registers fn for every accepted fix.
func (p *Publisher) OnFix(fn func(geo.Point)) (cancel func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Tick runs one publish cycle for the active trip.
func (p *Publisher) Tick(ctx context.Context) error {
	p.mu.Lock()
	tripID := p.tripID
	p.mu.Unlock()
	if tripID == "" {
		return ErrNotStarted
	}
	p.tick(ctx, tripID)
	return nil
}

// RaiseSOS flips the local status to SOS and sends it without waiting for a
// fix. The local flip always succeeds.
func (p *Publisher) RaiseSOS(ctx context.Context) {
	p.setActivity(ctx, ActivitySOS)
}

// ClearSOS returns the local status to active.
func (p *Publisher) ClearSOS(ctx context.Context) {
	p.setActivity(ctx, ActivityActive)
}

func (p *Publisher) setActivity(ctx context.Context, a Activity) {
	p.mu.Lock()
	p.status.Status = a
	p.status.LastUpdated = p.now()
	tripID := p.tripID
	p.mu.Unlock()

	if tripID == "" {
		p.logger.Debug("status changed without an active trip", "status", a)
	}
	p.persist(ctx, tripID, false)
}

func (p *Publisher) run(ctx context.Context, tripID string, wake <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	p.tick(ctx, tripID)
	for {
		timer := time.NewTimer(p.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-wake:
			timer.Stop()
			p.tick(ctx, tripID)
		case <-timer.C:
			p.tick(ctx, tripID)
		}
	}
}

func (p *Publisher) tick(ctx context.Context, tripID string) {
	fix, err := p.source.Fix(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn("location fix failed", "trip_id", tripID, "error", err)
		}
		return
	}
	if !fix.Valid() {
		p.logger.Warn("ignoring invalid location fix", "lat", fix.Lat, "lng", fix.Lng)
		return
	}

	stored, hasStored := p.storedStatus(ctx)

	p.mu.Lock()
	if p.tripID != tripID {
		p.mu.Unlock()
		return
	}
	// another process on this device may have changed the status since
	if hasStored && stored.LastUpdated.After(p.status.LastUpdated) {
		p.status.Status = stored.Status
	}
	loc := fix
	p.status.Location = &loc
	p.status.LastUpdated = p.now()
	listeners := make([]func(geo.Point), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(fix)
	}
	p.persist(ctx, tripID, true)
}

// persist saves the current local status and, with an active trip,
// merge-writes it as the presence record. Without withLocation the stored
// location is left in place.
func (p *Publisher) persist(ctx context.Context, tripID string, withLocation bool) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	st := p.status.clone()
	p.mu.Unlock()

	p.saveStatus(ctx, st)
	if tripID == "" {
		return
	}
	rec := Record{Status: st.Status, LastUpdated: st.LastUpdated}
	if withLocation {
		rec.Location = st.Location
	}
	p.write(ctx, tripID, rec)
}

// write merge-writes rec for the signed-in user. Identity fields are filled
// here; unset fields in rec leave the stored ones in place.
func (p *Publisher) write(ctx context.Context, tripID string, rec Record) {
	user := p.identity.CurrentUser()
	if user == nil {
		p.logger.Debug("skipping presence write without identity", "trip_id", tripID)
		return
	}
	rec.UID = user.UID
	rec.DisplayName = user.DisplayName
	rec.PhotoURL = user.PhotoURL

	fields, err := docstore.ToFields(rec)
	if err != nil {
		p.logger.Warn("encode presence record", "error", err)
		return
	}
	if err := p.store.Set(ctx, docstore.LocationPath(tripID, user.UID), fields, true); err != nil {
		p.logger.Warn("presence write dropped", "trip_id", tripID, "error", err)
	}
}

func (p *Publisher) permission(ctx context.Context) error {
	req, ok := p.source.(PermissionRequester)
	if !ok {
		return nil
	}
	p.mu.Lock()
	if p.permAsked {
		err := p.permErr
		p.mu.Unlock()
		return err
	}
	p.permAsked = true
	p.mu.Unlock()

	var permErr error
	if err := req.RequestPermission(ctx); err != nil {
		p.logger.Warn("location permission denied", "error", err)
		permErr = errors.Join(ErrPermissionDenied, err)
	}
	p.mu.Lock()
	p.permErr = permErr
	p.mu.Unlock()
	return permErr
}

func (p *Publisher) recenter(cfg trip.Config) {
	if p.simulated != nil {
		p.simulated.SetBase(cfg.BasePoint(PilaBase))
	}
}

func (p *Publisher) poke() {
	p.mu.Lock()
	wake := p.wake
	p.mu.Unlock()
	if wake == nil {
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

func (p *Publisher) saveStatus(ctx context.Context, st LocalStatus) {
	if p.kv == nil {
		return
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := p.kv.Set(ctx, localstore.KeyUserStatus, string(raw)); err != nil {
		p.logger.Warn("persist local status", "error", err)
	}
}

func (p *Publisher) loadStatus(ctx context.Context) {
	if st, ok := p.storedStatus(ctx); ok {
		p.status = st
	}
}

func (p *Publisher) storedStatus(ctx context.Context) (LocalStatus, bool) {
	if p.kv == nil {
		return LocalStatus{}, false
	}
	raw, err := p.kv.Get(ctx, localstore.KeyUserStatus)
	if err != nil {
		return LocalStatus{}, false
	}
	var st LocalStatus
	if err := json.Unmarshal([]byte(raw), &st); err != nil || st.Status == "" {
		p.logger.Warn("discarding unreadable local status", "error", err)
		return LocalStatus{}, false
	}
	return st, true
}
