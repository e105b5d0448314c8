// Package members projects a trip's presence records into the member list
// shown to the local user, and derives the group SOS alert from it.
package members

import (
	"log/slog"
	"time"

	"backend-skitrip/internal/auth"
	"backend-skitrip/internal/docstore"
	"backend-skitrip/internal/logging"
	"backend-skitrip/internal/presence"
	"backend-skitrip/internal/shared/geo"
	"backend-skitrip/internal/trip"
)

const (
	LabelSOS     = "SOS ALERT"
	LabelActive  = "On Mountain"
	LabelOffline = "Offline"
)

type Status struct {
	Activity      presence.Activity `json:"activity"`
	LocationLabel string            `json:"locationLabel"`
}

type View struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	PhotoURL    string     `json:"photoURL,omitempty"`
	Coordinates *geo.Point `json:"coordinates,omitempty"`
	Status      Status     `json:"status"`
	IsSOS       bool       `json:"isSOS"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

func LocationLabel(a presence.Activity) string {
	switch a {
	case presence.ActivitySOS:
		return LabelSOS
	case presence.ActivityActive:
		return LabelActive
	}
	return LabelOffline
}

// Project maps records to views, dropping the one owned by selfUID.
func Project(records []presence.Record, selfUID string) []View {
	out := make([]View, 0, len(records))
	for _, r := range records {
		if r.UID == "" || r.UID == selfUID {
			continue
		}
		out = append(out, View{
			ID:          r.UID,
			Name:        r.DisplayName,
			PhotoURL:    r.PhotoURL,
			Coordinates: r.Location,
			Status:      Status{Activity: r.Status, LocationLabel: LocationLabel(r.Status)},
			IsSOS:       r.Status == presence.ActivitySOS,
			LastUpdated: r.LastUpdated,
		})
	}
	return out
}

// Records decodes presence documents. A record without a uid takes the
// document id; undecodable documents are skipped.
func Records(docs []docstore.Snapshot, logger *slog.Logger) []presence.Record {
	out := make([]presence.Record, 0, len(docs))
	for _, doc := range docs {
		var r presence.Record
		if err := doc.Decode(&r); err != nil {
			logging.OrDefault(logger).Warn("skipping unreadable presence record", "path", doc.Path, "error", err)
			continue
		}
		if r.UID == "" {
			r.UID = doc.ID()
		}
		out = append(out, r)
	}
	return out
}

// Aggregator subscribes to a trip's presence collection.
type Aggregator struct {
	store    docstore.Store
	identity auth.Provider
	logger   *slog.Logger
}

func NewAggregator(store docstore.Store, identity auth.Provider, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: store, identity: identity, logger: logging.OrDefault(logger)}
}

// Subscribe delivers the full member list on every change. The local user
// is resolved at each delivery, so a sign-in change takes effect on the
// next one.
func (a *Aggregator) Subscribe(tripID string, fn func([]View)) (docstore.Subscription, error) {
	if err := trip.ValidateTripID(tripID); err != nil {
		return nil, err
	}
	return a.store.SubscribeCollection(docstore.LocationsPath(tripID), func(docs []docstore.Snapshot) {
		fn(Project(Records(docs, a.logger), a.selfUID()))
	}, func(err error) {
		a.logger.Warn("member subscription error", "trip_id", tripID, "error", err)
	}), nil
}

func (a *Aggregator) selfUID() string {
	if a.identity == nil {
		return ""
	}
	if u := a.identity.CurrentUser(); u != nil {
		return u.UID
	}
	return ""
}
