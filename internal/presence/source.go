package presence

import (
	"context"
	"math/rand/v2"
	"sync"

	"backend-skitrip/internal/shared/geo"
)

// PilaBase is the simulation center when a trip has no hotel location.
var PilaBase = geo.Point{Lat: 45.733, Lng: 7.320}

// JitterSpan is the side, in degrees, of the square simulated fixes fall in.
const JitterSpan = 0.002

// Source supplies location fixes.
type Source interface {
	Fix(ctx context.Context) (geo.Point, error)
}

// PermissionRequester is implemented by sources that need an explicit grant.
type PermissionRequester interface {
	RequestPermission(ctx context.Context) error
}

// Simulator is the fallback Source for devices without GPS: each fix lands
// within JitterSpan of the current base point.
type Simulator struct {
	mu   sync.Mutex
	base geo.Point
	rnd  *rand.Rand
}

func NewSimulator(base geo.Point, rnd *rand.Rand) *Simulator {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Simulator{base: base, rnd: rnd}
}

// SetBase recenters the simulation, e.g. when the trip's hotel changes.
func (s *Simulator) SetBase(base geo.Point) {
	s.mu.Lock()
	s.base = base
	s.mu.Unlock()
}

func (s *Simulator) Fix(ctx context.Context) (geo.Point, error) {
	if err := ctx.Err(); err != nil {
		return geo.Point{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return geo.Jitter(s.base, JitterSpan, s.rnd), nil
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (geo.Point, error)

func (f SourceFunc) Fix(ctx context.Context) (geo.Point, error) { return f(ctx) }
