package trip

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
)

//go:embed presets/*.yaml
var presetFS embed.FS

var presets = mustLoadPresets()

func mustLoadPresets() map[string]Config {
	entries, err := presetFS.ReadDir("presets")
	if err != nil {
		panic(err)
	}
	out := make(map[string]Config, len(entries))
	for _, e := range entries {
		raw, err := presetFS.ReadFile(path.Join("presets", e.Name()))
		if err != nil {
			panic(err)
		}
		cfg, err := ParseConfigYAML(raw)
		if err != nil {
			panic(fmt.Sprintf("preset %s: %v", e.Name(), err))
		}
		out[strings.TrimSuffix(e.Name(), path.Ext(e.Name()))] = cfg
	}
	return out
}

// Preset returns a copy of the named preset.
func Preset(id string) (Config, bool) {
	cfg, ok := presets[id]
	if !ok {
		return Config{}, false
	}
	return cfg.Clone(), true
}

// PresetIDs lists the embedded presets in name order.
func PresetIDs() []string {
	ids := make([]string, 0, len(presets))
	for id := range presets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
