package client

import (
	"context"
	"testing"
	"time"

	"backend-skitrip/internal/auth"
	"backend-skitrip/internal/docstore"
	"backend-skitrip/internal/localstore"
	"backend-skitrip/internal/members"
	"backend-skitrip/internal/presence"
	"backend-skitrip/internal/resort"
	"backend-skitrip/internal/shared/geo"
	"backend-skitrip/internal/trip"
)

type staticIdentity struct{ id *auth.Identity }

func (s staticIdentity) CurrentUser() *auth.Identity { return s.id }

func (s staticIdentity) OnAuthChange(fn func(*auth.Identity)) func() {
	fn(s.id)
	return func() {}
}

func newEngine(t *testing.T, store docstore.Store, uid string, at geo.Point) *Engine {
	t.Helper()
	e := New(context.Background(), Deps{
		Store:    store,
		KV:       localstore.NewMemory(),
		Identity: staticIdentity{id: &auth.Identity{UID: uid, DisplayName: uid}},
		Source: presence.SourceFunc(func(context.Context) (geo.Point, error) {
			return at, nil
		}),
		GPSInterval:       time.Hour,
		RecordingInterval: 30 * time.Minute,
	})
	t.Cleanup(e.Close)
	return e
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func memberIDs(views []members.View) map[string]bool {
	out := map[string]bool{}
	for _, v := range views {
		out[v.ID] = true
	}
	return out
}

func TestTwoDevicesShareATrip(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewLocal(docstore.NewMemoryBackend(), nil, nil)
	a := newEngine(t, store, "A", geo.Point{Lat: 45.74, Lng: 7.31})
	b := newEngine(t, store, "B", geo.Point{Lat: 45.73, Lng: 7.32})

	raised := make(chan members.View, 4)
	b.SOS.OnRaise(func(v members.View) { raised <- v })

	id, err := a.CreateTrip(ctx, trip.Config{ResortName: "X", Lifts: []trip.LiftInfo{}, Trails: []trip.TrailInfo{}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := b.JoinTrip(ctx, trip.ShareLink("https://ski.example", id)); err != nil {
		t.Fatalf("join: %v", err)
	}

	eventually(t, "B to receive the config", func() bool {
		st := b.Sync.State()
		return st.Config != nil && st.Config.ResortName == "X" && !st.IsAdmin
	})
	eventually(t, "both devices to see each other", func() bool {
		return memberIDs(a.MemberList())["B"] && memberIDs(b.MemberList())["A"]
	})
	if memberIDs(a.MemberList())["A"] || memberIDs(b.MemberList())["B"] {
		t.Fatalf("a device must not list itself")
	}

	a.RaiseSOS(ctx)
	select {
	case v := <-raised:
		if v.ID != "A" || v.Status.LocationLabel != members.LabelSOS {
			t.Fatalf("unexpected alert %+v", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("B never saw the SOS")
	}
	b.SOS.Dismiss()
	if !b.SOS.Active() {
		t.Fatalf("dismissal must not resolve the SOS")
	}
	a.ClearSOS(ctx)
	eventually(t, "the SOS to clear on B", func() bool { return !b.SOS.Active() })

	if err := a.DeleteTrip(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	eventually(t, "both devices to be evicted", func() bool {
		return a.Sync.ActiveTripID() == "" && b.Sync.ActiveTripID() == "" &&
			len(a.MemberList()) == 0 && len(b.MemberList()) == 0
	})
	if err := a.Publisher.Tick(ctx); err == nil {
		t.Fatalf("presence loop should stop after eviction")
	}
}

func TestRideDrivesPublisherCadence(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewLocal(docstore.NewMemoryBackend(), nil, nil)
	e := newEngine(t, store, "A", geo.Point{Lat: 45.74, Lng: 7.31})

	if _, err := e.CreateTrip(ctx, trip.Config{ResortName: "X"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := e.Publisher.Interval(); got != time.Hour {
		t.Fatalf("idle interval %v", got)
	}
	if err := e.StartRide(); err != nil {
		t.Fatalf("start ride: %v", err)
	}
	if got := e.Publisher.Interval(); got != 30*time.Minute {
		t.Fatalf("recording interval %v", got)
	}
	eventually(t, "a fix to reach the recorder", func() bool {
		return len(e.Recorder.Session().Path) == 1
	})

	// a stationary device yields one point, so the ride is too short
	if _, err := e.StopRide(ctx); err == nil {
		t.Fatalf("expected a too-short ride")
	}
	if got := e.Publisher.Interval(); got != time.Hour {
		t.Fatalf("expected idle cadence after the ride, got %v", got)
	}
}

func TestSwitchingTripsDropsOldMembers(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewLocal(docstore.NewMemoryBackend(), nil, nil)
	for _, id := range []string{"trip01", "trip02"} {
		if err := store.Set(ctx, docstore.TripPath(id), map[string]any{
			"adminId": "Z",
			"config":  map[string]any{"resortName": id},
		}, false); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if err := store.Set(ctx, docstore.LocationPath("trip01", "old"), map[string]any{"uid": "old", "status": "SOS"}, true); err != nil {
		t.Fatalf("seed: %v", err)
	}

	e := newEngine(t, store, "A", geo.Point{Lat: 1, Lng: 1})
	if _, err := e.JoinTrip(ctx, "trip01"); err != nil {
		t.Fatalf("join: %v", err)
	}
	eventually(t, "trip01 members", func() bool { return memberIDs(e.MemberList())["old"] })
	if !e.SOS.Active() {
		t.Fatalf("expected SOS from trip01")
	}

	if _, err := e.JoinTrip(ctx, "trip02"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if memberIDs(e.MemberList())["old"] || e.SOS.Active() {
		t.Fatalf("switching trips must drop the previous trip's members")
	}

	// late writes to the old trip never surface
	if err := store.Set(ctx, docstore.LocationPath("trip01", "late"), map[string]any{"uid": "late"}, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	eventually(t, "trip02 config", func() bool {
		st := e.Sync.State()
		return st.Config != nil && st.Config.ResortName == "trip02"
	})
	time.Sleep(50 * time.Millisecond)
	if memberIDs(e.MemberList())["late"] {
		t.Fatalf("stale trip delivery leaked into the new trip")
	}
}

func TestLiftStatusUsesResortOverride(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewLocal(docstore.NewMemoryBackend(), nil, nil)
	e := newEngine(t, store, "A", geo.Point{Lat: 1, Lng: 1})
	if _, err := e.Start(ctx, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	cfg := trip.Config{ResortName: "X", Lifts: []trip.LiftInfo{{ID: "chamole", Name: "Chamolé", Status: trip.StatusOpen}}}
	if _, err := e.CreateTrip(ctx, cfg); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got, ok := e.LiftStatus("chamole"); !ok || got != trip.StatusOpen {
		t.Fatalf("expected default status, got %q %v", got, ok)
	}
	if _, ok := e.LiftStatus("nope"); ok {
		t.Fatalf("unknown lift should not resolve")
	}

	if err := resort.Publish(ctx, store, resort.Status{LiftsTotal: 1, DetailedStatus: map[string]trip.Status{"chamole": trip.StatusClosed}}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	eventually(t, "the live override", func() bool {
		got, _ := e.LiftStatus("chamole")
		return got == trip.StatusClosed
	})
}
