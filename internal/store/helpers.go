package store

import (
	"encoding/json"
	"strconv"

	"github.com/jward/elmls/internal/extract"
)

// formatHash renders a content hash as hex. SQLite integers are
// signed, so the unsigned hash is stored as text.
func formatHash(h uint64) string {
	return strconv.FormatUint(h, 16)
}

func parseHash(s string) uint64 {
	h, _ := strconv.ParseUint(s, 16, 64)
	return h
}

// marshalExposing converts an exposing list to JSON text for storage.
func marshalExposing(items []extract.Exposed) string {
	if len(items) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(items)
	return string(b)
}

// unmarshalExposing converts JSON text back to an exposing list.
func unmarshalExposing(s string) []extract.Exposed {
	if s == "" || s == "null" || s == "[]" {
		return nil
	}
	var items []extract.Exposed
	_ = json.Unmarshal([]byte(s), &items)
	return items
}
