// Package presence publishes this device's location and activity into its
// own presence record under the active trip.
package presence

import (
	"errors"
	"time"

	"backend-skitrip/internal/shared/geo"
)

type Activity string

const (
	ActivityActive Activity = "active"
	ActivitySOS    Activity = "SOS"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrNotStarted       = errors.New("publisher has no active trip")
)

// Record is the stored presence document, keyed by UID under
// trips/{tripId}/locations.
type Record struct {
	UID         string     `json:"uid"`
	DisplayName string     `json:"displayName"`
	PhotoURL    string     `json:"photoURL,omitempty"`
	Location    *geo.Point `json:"location,omitempty"`
	Status      Activity   `json:"status,omitempty"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

// LocalStatus is the optimistic "my status" state shown before any remote
// write completes.
type LocalStatus struct {
	Status      Activity   `json:"status"`
	Location    *geo.Point `json:"location,omitempty"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

func (s LocalStatus) clone() LocalStatus {
	if s.Location != nil {
		p := *s.Location
		s.Location = &p
	}
	return s
}
