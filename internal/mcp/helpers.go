package mcpserver

import (
	"encoding/json"
	"fmt"
)

// jsonArg decodes args[key] into target. Agents send nested config either
// as a JSON string or as an already decoded value. A missing key is not an
// error.
func jsonArg(args map[string]any, key string, target any) error {
	var data []byte
	switch v := args[key].(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		data = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		data = b
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	return nil
}

func getString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func getInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func getBool(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func boolPtr(v bool) *bool { return &v }
