package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/jsonvalue"
)

// Version is one registered schema for a stream.
type Version struct {
	Version     int       `json:"version"`
	Schema      *Schema   `json:"schema"`
	CreatedAt   time.Time `json:"created_at"`
	Fingerprint string    `json:"fingerprint"`
}

// Registry keeps the schemas discovered for each stream. Re-registering an
// identical document is a no-op; a changed document becomes a new version.
type Registry struct {
	mu       sync.RWMutex
	versions map[string][]*Version
	logger   *zap.Logger
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		versions: make(map[string][]*Version),
		logger:   logger.With(zap.String("component", "schema_registry")),
		now:      time.Now,
	}
}

// Register records s for stream and returns the version it landed on.
func (r *Registry) Register(stream string, s *Schema) (*Version, error) {
	fp, err := Fingerprint(s)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.versions[stream]
	if n := len(history); n > 0 && history[n-1].Fingerprint == fp {
		return history[n-1], nil
	}

	v := &Version{
		Version:     len(history) + 1,
		Schema:      s,
		CreatedAt:   r.now(),
		Fingerprint: fp,
	}
	r.versions[stream] = append(history, v)

	if v.Version > 1 {
		r.logger.Info("schema changed",
			zap.String("stream", stream),
			zap.Int("version", v.Version),
			zap.String("previous_fingerprint", history[len(history)-1].Fingerprint),
			zap.String("fingerprint", fp))
	} else {
		r.logger.Debug("schema registered",
			zap.String("stream", stream),
			zap.String("fingerprint", fp))
	}
	return v, nil
}

// Latest returns the newest schema registered for stream.
func (r *Registry) Latest(stream string) (*Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.versions[stream]
	if len(history) == 0 {
		return nil, false
	}
	return history[len(history)-1], true
}

// History returns every version registered for stream, oldest first.
func (r *Registry) History(stream string) []*Version {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Version, len(r.versions[stream]))
	copy(out, r.versions[stream])
	return out
}

// CatalogEntry is one stream in an exported catalog.
type CatalogEntry struct {
	Stream      string         `json:"stream"`
	Version     int            `json:"version"`
	Fingerprint string         `json:"fingerprint"`
	Schema      map[string]any `json:"schema"`
}

// Catalog returns the latest schema of every stream, ordered by stream name.
func (r *Registry) Catalog() []CatalogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]CatalogEntry, 0, len(names))
	for _, name := range names {
		history := r.versions[name]
		latest := history[len(history)-1]
		out = append(out, CatalogEntry{
			Stream:      name,
			Version:     latest.Version,
			Fingerprint: latest.Fingerprint,
			Schema:      latest.Schema.Document(),
		})
	}
	return out
}

// Export renders the catalog as indented JSON.
func (r *Registry) Export() ([]byte, error) {
	data, err := gojson.MarshalIndent(map[string]any{"streams": r.Catalog()}, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "export catalog")
	}
	return data, nil
}

// Fingerprint hashes the canonical (sorted-key) encoding of the schema
// document.
func Fingerprint(s *Schema) (string, error) {
	text, err := jsonvalue.Encode(s.Document())
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeSchema, "fingerprint schema")
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8]), nil
}
