package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/resttap/pkg/jsonvalue"
)

// Bookmark is the persisted replication position of one stream.
type Bookmark struct {
	ReplicationKey      string `json:"replication_key"`
	ReplicationKeyValue any    `json:"replication_key_value"`
}

// State is the state file: one bookmark per stream. It is safe for
// concurrent use.
type State struct {
	mu        sync.RWMutex
	bookmarks map[string]Bookmark
}

// NewState returns an empty state.
func NewState() *State {
	return &State{bookmarks: make(map[string]Bookmark)}
}

// ParseState decodes a state document. Numbers keep their integer or float
// form so replication values round-trip unchanged.
func ParseState(data []byte) (*State, error) {
	s := NewState()
	if len(data) == 0 {
		return s, nil
	}

	doc, err := jsonvalue.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse state: document must be an object")
	}
	raw, ok := root["bookmarks"].(map[string]any)
	if !ok {
		return s, nil
	}

	for stream, v := range raw {
		bm, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parse state: bookmark for %q must be an object", stream)
		}
		key, _ := bm["replication_key"].(string)
		s.bookmarks[stream] = Bookmark{
			ReplicationKey:      key,
			ReplicationKeyValue: bm["replication_key_value"],
		}
	}
	return s, nil
}

// LoadState reads a state file. A missing file is an empty state.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the command line
	if os.IsNotExist(err) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return ParseState(data)
}

// Value returns the replication value stored for stream, or nil. A
// bookmark written for another replication key is ignored.
func (s *State) Value(stream, replicationKey string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bm, ok := s.bookmarks[stream]
	if !ok {
		return nil
	}
	if bm.ReplicationKey != "" && replicationKey != "" && bm.ReplicationKey != replicationKey {
		return nil
	}
	return bm.ReplicationKeyValue
}

// Set stores the replication value of stream.
func (s *State) Set(stream, replicationKey string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarks[stream] = Bookmark{ReplicationKey: replicationKey, ReplicationKeyValue: value}
}

// Streams lists the streams with a bookmark, sorted.
func (s *State) Streams() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.bookmarks))
	for name := range s.bookmarks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON renders {"bookmarks": {...}}.
func (s *State) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return gojson.Marshal(map[string]any{"bookmarks": s.bookmarks})
}

// Save writes the state atomically: a temporary file in the same directory
// is renamed over path.
func (s *State) Save(path string) error {
	data, err := gojson.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
