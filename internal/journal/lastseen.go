package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// LastSeen persists {channel: RFC3339} so a restart does not rescan history
// that was already ingested.
type LastSeen struct {
	path string
}

func NewLastSeen(path string) *LastSeen {
	return &LastSeen{path: path}
}

// Load returns the stored map. A missing or empty file is an empty map.
func (s *LastSeen) Load() (map[string]time.Time, error) {
	out := make(map[string]time.Time)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last seen: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return out, nil
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse last seen: %w", err)
	}
	for channel, v := range raw {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("parse last seen for %s: %w", channel, err)
		}
		out[channel] = ts
	}
	return out, nil
}

// Save rewrites the whole map.
func (s *LastSeen) Save(m map[string]time.Time) error {
	raw := make(map[string]string, len(m))
	for channel, ts := range m {
		raw[channel] = ts.UTC().Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal last seen: %w", err)
	}
	return writeFileAtomic(s.path, data)
}
