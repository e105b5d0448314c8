package trip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"backend-skitrip/internal/auth"
	"backend-skitrip/internal/docstore"
	"backend-skitrip/internal/localstore"
	"backend-skitrip/internal/logging"
)

var (
	ErrNoActiveTrip = errors.New("no active trip")
	ErrIDExhausted  = errors.New("could not allocate an unused trip id")
)

const maxIDAttempts = 5

var (
	newTripIDFn = NewTripID
	nowFn       = time.Now
)

type EventKind int

const (
	// EventConfig carries a newly delivered, patched config.
	EventConfig EventKind = iota + 1
	// EventEvicted means the trip document no longer exists; local trip
	// state has been cleared.
	EventEvicted
	// EventLeft follows LeaveTrip.
	EventLeft
	// EventError reports a subscription or decode failure. State keeps the
	// last known config.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConfig:
		return "config"
	case EventEvicted:
		return "evicted"
	case EventLeft:
		return "left"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// State is what consumers render. Config is nil until the first snapshot
// arrives, unless a warm-start cache supplied one (Cached).
type State struct {
	TripID    string
	Config    *Config
	AdminID   string
	IsAdmin   bool
	CreatedAt time.Time
	Loading   bool
	Cached    bool
}

func (s State) clone() State {
	if s.Config != nil {
		cfg := s.Config.Clone()
		s.Config = &cfg
	}
	return s
}

type Event struct {
	Kind   EventKind
	TripID string
	State  State
	Err    error
}

type cachedDoc struct {
	TripID string         `json:"tripId"`
	Data   map[string]any `json:"data"`
}

// Synchronizer owns the active trip id and the subscription to its root
// document. It converges every device on the stored config and evicts the
// local trip when the document disappears.
type Synchronizer struct {
	store    docstore.Store
	kv       localstore.KV
	identity auth.Provider
	logger   *slog.Logger

	// transition serializes state changes together with their dispatch.
	transition sync.Mutex

	mu       sync.Mutex
	state    State
	gen      uint64
	sub      docstore.Subscription
	watchers map[int]func(Event)
	nextID   int
}

func NewSynchronizer(store docstore.Store, kv localstore.KV, identity auth.Provider, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		store:    store,
		kv:       kv,
		identity: identity,
		logger:   logging.OrDefault(logger),
		watchers: map[int]func(Event){},
	}
}

// Watch registers fn for every event. fn runs while a transition is in
// progress and must not call CreateTrip, JoinTrip, LeaveTrip, Restore or
// Resubscribe.
func (s *Synchronizer) Watch(fn func(Event)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *Synchronizer) ActiveTripID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.TripID
}

// CreateTrip writes a new trip with the caller as admin and makes it active.
// Each call creates an independent trip.
func (s *Synchronizer) CreateTrip(ctx context.Context, cfg Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	uid := s.selfUID()
	if uid == "" {
		return "", docstore.ErrUnauthenticated
	}

	id, err := s.allocateID(ctx)
	if err != nil {
		return "", err
	}
	t := Trip{ID: id, Config: cfg.Clone(), AdminID: uid, CreatedAt: nowFn().UTC().Truncate(time.Millisecond)}
	fields, err := t.fields()
	if err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, docstore.TripPath(id), fields, false); err != nil {
		return "", fmt.Errorf("create trip %s: %w", id, err)
	}

	patched := Patch(t.Config)
	s.activate(ctx, id, State{TripID: id, Config: &patched, AdminID: uid, IsAdmin: true, CreatedAt: t.CreatedAt})
	s.logger.Info("trip created", "trip_id", id)
	return id, nil
}

func (s *Synchronizer) allocateID(ctx context.Context) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := newTripIDFn()
		if err != nil {
			return "", err
		}
		snap, err := s.store.Get(ctx, docstore.TripPath(id))
		if err != nil {
			return "", fmt.Errorf("check trip id: %w", err)
		}
		if !snap.Exists {
			return id, nil
		}
		s.logger.Debug("trip id taken", "trip_id", id)
	}
	return "", ErrIDExhausted
}

// JoinTrip makes id the active trip. It does not fetch; the first
// subscription callback delivers the config or evicts.
func (s *Synchronizer) JoinTrip(ctx context.Context, id string) error {
	if err := ValidateTripID(id); err != nil {
		return err
	}
	s.activate(ctx, id, State{TripID: id, Loading: true})
	return nil
}

// Restore reopens the cached active trip, publishing the cached config
// first when one is available.
func (s *Synchronizer) Restore(ctx context.Context) (string, error) {
	id, err := s.kv.Get(ctx, localstore.KeyActiveTrip)
	if errors.Is(err, localstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load active trip: %w", err)
	}
	initial, ok := s.loadCache(ctx, id)
	if !ok {
		initial = State{TripID: id, Loading: true}
	}
	s.activate(ctx, id, initial)
	return id, nil
}

// Start resolves the trip to open on launch; a deep-link id wins over the
// cached one.
func (s *Synchronizer) Start(ctx context.Context, deepLinkID string) (string, error) {
	cached, err := s.kv.Get(ctx, localstore.KeyActiveTrip)
	if err != nil && !errors.Is(err, localstore.ErrNotFound) {
		return "", fmt.Errorf("load active trip: %w", err)
	}
	id := ResolveStartup(deepLinkID, cached)
	switch {
	case id == "":
		return "", nil
	case id == cached:
		return s.Restore(ctx)
	default:
		return id, s.JoinTrip(ctx, id)
	}
}

// Resubscribe re-establishes the subscription of the active trip, keeping
// the last known config.
func (s *Synchronizer) Resubscribe(ctx context.Context) error {
	st := s.State()
	if st.TripID == "" {
		return ErrNoActiveTrip
	}
	s.activate(ctx, st.TripID, st)
	return nil
}

// UpdateTripConfig replaces the trip's config with a merge-write of
// {config: cfg}. The store decides whether the caller may.
func (s *Synchronizer) UpdateTripConfig(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	id := s.ActiveTripID()
	if id == "" {
		return ErrNoActiveTrip
	}
	fields, err := docstore.ToFields(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := s.store.Set(ctx, docstore.TripPath(id), map[string]any{"config": fields}, true); err != nil {
		return fmt.Errorf("update trip %s: %w", id, err)
	}
	return nil
}

// DeleteTrip deletes the trip document. Every subscribed device, this one
// included, is then evicted by its subscription.
func (s *Synchronizer) DeleteTrip(ctx context.Context) error {
	id := s.ActiveTripID()
	if id == "" {
		return ErrNoActiveTrip
	}
	if err := s.store.Delete(ctx, docstore.TripPath(id)); err != nil {
		return fmt.Errorf("delete trip %s: %w", id, err)
	}
	return nil
}

// LeaveTrip forgets the active trip locally. The trip document and this
// device's presence record are left untouched.
func (s *Synchronizer) LeaveTrip(ctx context.Context) error {
	s.transition.Lock()
	defer s.transition.Unlock()

	id := s.reset()
	err := s.clearCache(ctx)
	if id != "" {
		s.logger.Info("left trip", "trip_id", id)
		s.dispatch(Event{Kind: EventLeft, TripID: id})
	}
	return err
}

func (s *Synchronizer) activate(ctx context.Context, id string, initial State) {
	s.transition.Lock()
	s.mu.Lock()
	prev := s.sub
	s.sub = nil
	s.gen++
	gen := s.gen
	s.state = initial
	s.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}
	if err := s.kv.Set(ctx, localstore.KeyActiveTrip, id); err != nil {
		s.logger.Warn("persist active trip failed", "trip_id", id, "error", err)
	}
	if initial.Config != nil {
		s.dispatch(Event{Kind: EventConfig, TripID: id, State: initial.clone()})
	}
	s.transition.Unlock()

	sub := s.store.Subscribe(docstore.TripPath(id),
		func(snap docstore.Snapshot) { s.onSnapshot(gen, id, snap) },
		func(err error) { s.onSubscriptionError(gen, id, err) },
	)

	s.mu.Lock()
	if s.gen == gen {
		s.sub, sub = sub, nil
	}
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

func (s *Synchronizer) onSnapshot(gen uint64, id string, snap docstore.Snapshot) {
	s.transition.Lock()
	defer s.transition.Unlock()
	if !s.current(gen) {
		return
	}

	if !snap.Exists {
		s.reset()
		if err := s.clearCache(context.Background()); err != nil {
			s.logger.Warn("clear trip cache failed", "trip_id", id, "error", err)
		}
		s.logger.Info("trip no longer exists", "trip_id", id)
		s.dispatch(Event{Kind: EventEvicted, TripID: id})
		return
	}

	st, err := s.decodeState(id, snap.Data)
	if err != nil {
		s.logger.Warn("ignoring unreadable trip document", "trip_id", id, "error", err)
		s.dispatch(Event{Kind: EventError, TripID: id, State: s.State(), Err: err})
		return
	}
	s.saveCache(id, snap.Data)

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.dispatch(Event{Kind: EventConfig, TripID: id, State: st.clone()})
}

func (s *Synchronizer) onSubscriptionError(gen uint64, id string, err error) {
	s.transition.Lock()
	defer s.transition.Unlock()
	if !s.current(gen) {
		return
	}
	s.logger.Warn("trip subscription error", "trip_id", id, "error", err)
	s.dispatch(Event{Kind: EventError, TripID: id, State: s.State(), Err: err})
}

func (s *Synchronizer) decodeState(id string, data map[string]any) (State, error) {
	t, err := DecodeTrip(id, data)
	if err != nil {
		return State{}, err
	}
	cfg := Patch(t.Config)
	if err := cfg.Validate(); err != nil {
		return State{}, err
	}
	return State{
		TripID:    id,
		Config:    &cfg,
		AdminID:   t.AdminID,
		IsAdmin:   t.AdminID == s.selfUID(),
		CreatedAt: t.CreatedAt,
	}, nil
}

func (s *Synchronizer) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// reset clears local trip state and cancels the subscription. It returns the
// trip id that was active.
func (s *Synchronizer) reset() string {
	s.mu.Lock()
	id := s.state.TripID
	sub := s.sub
	s.sub = nil
	s.gen++
	s.state = State{}
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
	return id
}

func (s *Synchronizer) dispatch(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Synchronizer) selfUID() string {
	if s.identity == nil {
		return ""
	}
	if u := s.identity.CurrentUser(); u != nil {
		return u.UID
	}
	return ""
}

func (s *Synchronizer) saveCache(id string, data map[string]any) {
	raw, err := json.Marshal(cachedDoc{TripID: id, Data: data})
	if err == nil {
		err = s.kv.Set(context.Background(), localstore.KeyTripDoc, string(raw))
	}
	if err != nil {
		s.logger.Warn("cache trip document failed", "trip_id", id, "error", err)
	}
}

func (s *Synchronizer) loadCache(ctx context.Context, id string) (State, bool) {
	raw, err := s.kv.Get(ctx, localstore.KeyTripDoc)
	if err != nil {
		return State{}, false
	}
	var doc cachedDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil || doc.TripID != id {
		return State{}, false
	}
	st, err := s.decodeState(id, doc.Data)
	if err != nil {
		s.logger.Warn("ignoring unreadable cached trip", "trip_id", id, "error", err)
		return State{}, false
	}
	st.Cached = true
	return st, true
}

func (s *Synchronizer) clearCache(ctx context.Context) error {
	return errors.Join(
		s.kv.Delete(ctx, localstore.KeyActiveTrip),
		s.kv.Delete(ctx, localstore.KeyTripDoc),
	)
}
