package tracking

import (
	"errors"
	"time"

	"backend-skitrip/internal/shared/geo"
)

var (
	ErrAlreadyRecording = errors.New("a ride is already recording")
	ErrNotRecording     = errors.New("no ride is recording")
	// ErrRideTooShort is a notice, not a failure: the ride had fewer than two
	// points and was discarded.
	ErrRideTooShort     = errors.New("ride too short to save")
	ErrNotConfirmed     = errors.New("clearing history needs confirmation")
)

// TrackPoint is one accepted sample. Timestamp is Unix milliseconds.
type TrackPoint struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"timestamp"`
}

func (p TrackPoint) Point() geo.Point {
	return geo.Point{Lat: p.Lat, Lng: p.Lng}
}

type Stats struct {
	DistanceKm  float64   `json:"distanceKm"`
	StartTime   time.Time `json:"startTime"`
	DurationSec int64     `json:"durationSec"`
}

// Session is a snapshot of the recorder.
type Session struct {
	Recording bool         `json:"isRecording"`
	Path      []TrackPoint `json:"path"`
	Stats     Stats        `json:"stats"`
}

// RideRecord is a finished ride kept in local history.
type RideRecord struct {
	ID          string       `json:"id"`
	Date        string       `json:"date"`
	StartTime   time.Time    `json:"startTime"`
	EndTime     time.Time    `json:"endTime"`
	DistanceKm  float64      `json:"distanceKm"`
	DurationSec int64        `json:"durationSec"`
	Path        []TrackPoint `json:"path"`
}

type Summary struct {
	RideID          string  `json:"rideId"`
	PointCount      int     `json:"pointCount"`
	DistanceKm      float64 `json:"distanceKm"`
	DurationSec     int64   `json:"durationSec"`
	AverageSpeedKmh float64 `json:"averageSpeedKmh"`
}

// Summarize derives the average speed of a ride.
func Summarize(r RideRecord) Summary {
	avg := 0.0
	if r.DurationSec > 0 {
		avg = r.DistanceKm / (float64(r.DurationSec) / 3600)
	}
	return Summary{
		RideID:          r.ID,
		PointCount:      len(r.Path),
		DistanceKm:      r.DistanceKm,
		DurationSec:     r.DurationSec,
		AverageSpeedKmh: avg,
	}
}
