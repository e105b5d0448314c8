package trip

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"backend-skitrip/internal/docstore"

	"gopkg.in/yaml.v3"
)

// ParseConfig decodes a user-submitted JSON config. Unknown fields are
// rejected and the result is validated.
func ParseConfig(raw []byte) (Config, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if dec.More() {
		return Config{}, fmt.Errorf("%w: trailing data", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseConfigYAML is ParseConfig for YAML input.
func ParseConfigYAML(raw []byte) (Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads a JSON or YAML config chosen by file extension.
func LoadConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseConfigYAML(raw)
	default:
		return ParseConfig(raw)
	}
}

// DecodeTrip reads a stored trip document. Fields added by newer clients are
// ignored, but mistyped fields and an invalid config are rejected. The
// config is returned as stored, before Patch.
func DecodeTrip(id string, data map[string]any) (Trip, error) {
	var t Trip
	if err := docstore.Decode(data, &t); err != nil {
		return Trip{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if t.AdminID == "" {
		return Trip{}, fmt.Errorf("%w: trip %s has no admin", ErrInvalidConfig, id)
	}
	t.ID = id
	return t, nil
}

func (t Trip) fields() (map[string]any, error) {
	return docstore.ToFields(t)
}
