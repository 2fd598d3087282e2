package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/lattice/internal/journal"
)

// marshalJSON converts a payload or counts map to JSON TEXT.
// json.Encoder sorts map keys; HTML escaping is disabled so stored text
// matches what the journal holds byte for byte.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalPayload parses JSON TEXT to a payload map. Numbers decode as
// float64 and arrays as []any, as with any JSON round trip.
func unmarshalPayload(data string) (map[string]any, error) {
	if data == "" || data == "{}" || data == "null" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return m, nil
}

func unmarshalCounts(data string) (map[journal.EventType]int, error) {
	counts := map[journal.EventType]int{}
	if data == "" || data == "{}" || data == "null" {
		return counts, nil
	}
	if err := json.Unmarshal([]byte(data), &counts); err != nil {
		return nil, fmt.Errorf("unmarshal counts: %w", err)
	}
	return counts, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// eventRefs returns the entity ids an event is indexed under.
func eventRefs(e journal.Event) []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	add(e.EntityID)
	switch v := e.Payload["refs"].(type) {
	case []string:
		for _, id := range v {
			add(id)
		}
	case []any:
		for _, item := range v {
			if id, ok := item.(string); ok {
				add(id)
			}
		}
	}
	return out
}
