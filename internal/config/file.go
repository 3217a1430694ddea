package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadFile reads a YAML config file. Top-level keys are the same names as the
// environment variables, e.g.
//
//	AERO_WEBRTC_SIGNAL_RELAY_MODE: prod
//	ALLOWED_ORIGINS:
//	  - https://app.example.com
//	AERO_ICE_SERVERS_JSON:
//	  - urls: [stun:stun.example.com:3478]
//
// Lists of scalars are joined with commas; any other nested value is
// re-encoded as JSON.
func loadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return parseFile(data)
}

func parseFile(data []byte) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	out := make(map[string]string, len(raw))
	for key, value := range raw {
		s, err := fileValueString(value)
		if err != nil {
			return nil, fmt.Errorf("config file key %s: %w", key, err)
		}
		out[key] = s
	}
	return out, nil
}

func fileValueString(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(v), nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, elem := range v {
			switch elem.(type) {
			case string, bool, int, int64, uint64, float64:
				parts = append(parts, fmt.Sprint(elem))
			default:
				return encodeJSON(v)
			}
		}
		return strings.Join(parts, ","), nil
	default:
		return encodeJSON(v)
	}
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// layeredLookup prefers the process environment and falls back to the config
// file.
func layeredLookup(env func(string) (string, bool), file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := env(key); ok && v != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}
