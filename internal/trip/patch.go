package trip

// Patch brings a stored config written against an older preset up to the
// current preset's shape. It applies only when the config names a known
// preset, by resortId or, for configs predating resortId, by resortName.
//
// Patched fields: resortId, mapImage, missing intervals, lift and trail
// mapPath, empty names and types. Preset lifts and trails missing from the
// config are appended. Everything else is kept, including statuses and
// entries the preset does not know. Patch(Patch(c)) == Patch(c).
func Patch(cfg Config) Config {
	id, preset, ok := presetFor(cfg)
	if !ok {
		return cfg
	}
	out := cfg.Clone()

	out.ResortID = id
	if preset.MapImage != "" {
		out.MapImage = preset.MapImage
	}
	if out.GPSInterval == 0 {
		out.GPSInterval = preset.GPSInterval
	}
	if out.RecordingInterval == 0 {
		out.RecordingInterval = preset.RecordingInterval
	}

	out.Lifts = patchLifts(out.Lifts, preset.Lifts)
	out.Trails = patchTrails(out.Trails, preset.Trails)
	return out
}

func presetFor(cfg Config) (string, Config, bool) {
	if cfg.ResortID != "" {
		p, ok := presets[cfg.ResortID]
		return cfg.ResortID, p, ok
	}
	for id, p := range presets {
		if p.ResortName == cfg.ResortName {
			return id, p, true
		}
	}
	return "", Config{}, false
}

func patchLifts(lifts, preset []LiftInfo) []LiftInfo {
	index := make(map[string]int, len(lifts))
	for i, l := range lifts {
		index[l.ID] = i
	}
	for _, p := range preset {
		i, ok := index[p.ID]
		if !ok {
			lifts = append(lifts, p)
			continue
		}
		l := &lifts[i]
		if p.MapPath != "" {
			l.MapPath = p.MapPath
		}
		if l.Name == "" {
			l.Name = p.Name
		}
		if l.Type == "" {
			l.Type = p.Type
		}
	}
	if lifts == nil {
		lifts = []LiftInfo{}
	}
	return lifts
}

func patchTrails(trails, preset []TrailInfo) []TrailInfo {
	index := make(map[string]int, len(trails))
	for i, t := range trails {
		index[t.ID] = i
	}
	for _, p := range preset {
		i, ok := index[p.ID]
		if !ok {
			trails = append(trails, p)
			continue
		}
		t := &trails[i]
		if p.MapPath != "" {
			t.MapPath = p.MapPath
		}
		if t.Name == "" {
			t.Name = p.Name
		}
		if t.Difficulty == "" {
			t.Difficulty = p.Difficulty
		}
	}
	if trails == nil {
		trails = []TrailInfo{}
	}
	return trails
}
