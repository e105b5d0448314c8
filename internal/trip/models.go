package trip

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"backend-skitrip/internal/shared/geo"
)

var ErrInvalidConfig = errors.New("invalid trip config")

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

type Hotel struct {
	Name     string     `json:"name" yaml:"name"`
	Location *geo.Point `json:"location,omitempty" yaml:"location,omitempty"`
}

type SkiGear struct {
	ShopName string     `json:"shopName" yaml:"shopName"`
	Location *geo.Point `json:"location,omitempty" yaml:"location,omitempty"`
}

type Emergency struct {
	ResortRescue string `json:"resortRescue" yaml:"resortRescue"`
}

// LiftInfo is one lift of the resort. Status is the default shown when the
// live resort status has no entry for ID.
type LiftInfo struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type,omitempty" yaml:"type,omitempty"`
	Status  Status `json:"status" yaml:"status"`
	MapPath string `json:"mapPath,omitempty" yaml:"mapPath,omitempty"`
}

type TrailInfo struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Difficulty string `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
	Status     Status `json:"status" yaml:"status"`
	MapPath    string `json:"mapPath,omitempty" yaml:"mapPath,omitempty"`
}

// Config is the shared trip configuration. It is written whole by the admin.
// Intervals are in milliseconds.
type Config struct {
	ResortID          string      `json:"resortId,omitempty" yaml:"resortId,omitempty"`
	ResortName        string      `json:"resortName" yaml:"resortName"`
	MapImage          string      `json:"mapImage,omitempty" yaml:"mapImage,omitempty"`
	GPSInterval       int         `json:"gpsInterval,omitempty" yaml:"gpsInterval,omitempty"`
	RecordingInterval int         `json:"recordingInterval,omitempty" yaml:"recordingInterval,omitempty"`
	Hotel             *Hotel      `json:"hotel,omitempty" yaml:"hotel,omitempty"`
	SkiGear           *SkiGear    `json:"skiGear,omitempty" yaml:"skiGear,omitempty"`
	Emergency         *Emergency  `json:"emergency,omitempty" yaml:"emergency,omitempty"`
	Lifts             []LiftInfo  `json:"lifts" yaml:"lifts"`
	Trails            []TrailInfo `json:"trails" yaml:"trails"`
}

// Trip is the root document stored at trips/{id}.
type Trip struct {
	ID        string    `json:"-"`
	Config    Config    `json:"config"`
	AdminID   string    `json:"adminId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate rejects configs the engine cannot display faithfully.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ResortName) == "" {
		return fmt.Errorf("%w: resortName required", ErrInvalidConfig)
	}
	if c.GPSInterval < 0 || c.RecordingInterval < 0 {
		return fmt.Errorf("%w: intervals must not be negative", ErrInvalidConfig)
	}
	if c.Hotel != nil && c.Hotel.Location != nil && !c.Hotel.Location.Valid() {
		return fmt.Errorf("%w: hotel location out of range", ErrInvalidConfig)
	}
	if c.SkiGear != nil && c.SkiGear.Location != nil && !c.SkiGear.Location.Valid() {
		return fmt.Errorf("%w: ski gear location out of range", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Lifts)+len(c.Trails))
	check := func(kind, id, name string, status Status) error {
		if id == "" {
			return fmt.Errorf("%w: %s %q has no id", ErrInvalidConfig, kind, name)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidConfig, id)
		}
		seen[id] = true
		if status != StatusOpen && status != StatusClosed {
			return fmt.Errorf("%w: %s %q has status %q", ErrInvalidConfig, kind, id, status)
		}
		return nil
	}
	for _, l := range c.Lifts {
		if err := check("lift", l.ID, l.Name, l.Status); err != nil {
			return err
		}
	}
	for _, t := range c.Trails {
		if err := check("trail", t.ID, t.Name, t.Status); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	if c.Hotel != nil {
		h := *c.Hotel
		h.Location = clonePoint(h.Location)
		out.Hotel = &h
	}
	if c.SkiGear != nil {
		g := *c.SkiGear
		g.Location = clonePoint(g.Location)
		out.SkiGear = &g
	}
	if c.Emergency != nil {
		e := *c.Emergency
		out.Emergency = &e
	}
	if c.Lifts != nil {
		out.Lifts = append([]LiftInfo{}, c.Lifts...)
	}
	if c.Trails != nil {
		out.Trails = append([]TrailInfo{}, c.Trails...)
	}
	return out
}

// BasePoint is where simulated fixes are centered: the hotel when known,
// otherwise fallback.
func (c Config) BasePoint(fallback geo.Point) geo.Point {
	if c.Hotel != nil && c.Hotel.Location != nil {
		return *c.Hotel.Location
	}
	return fallback
}

// GPSEvery returns the idle publish interval, or def when unset.
func (c Config) GPSEvery(def time.Duration) time.Duration {
	return millis(c.GPSInterval, def)
}

// RecordingEvery returns the publish interval while a ride is recording.
func (c Config) RecordingEvery(def time.Duration) time.Duration {
	return millis(c.RecordingInterval, def)
}

// MapAnchor parses the start of an SVG path ("M x y ...") into percentage
// coordinates on the map image.
func MapAnchor(mapPath string) (x, y float64, ok bool) {
	parts := strings.Fields(mapPath)
	if len(parts) < 3 || parts[0] != "M" {
		return 0, 0, false
	}
	x, errX := strconv.ParseFloat(parts[1], 64)
	y, errY := strconv.ParseFloat(parts[2], 64)
	if errX != nil || errY != nil {
		return 0, 0, false
	}
	return x, y, true
}

func millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func clonePoint(p *geo.Point) *geo.Point {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
