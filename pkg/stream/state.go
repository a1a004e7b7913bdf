package stream

import (
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/resttap/pkg/flatten"
	"github.com/ajitpratap0/resttap/pkg/jsonvalue"
)

// tracker keeps the running maximum of the replication key. Values seen on
// the current page stay pending until commit.
type tracker struct {
	key       string
	flatKey   string
	committed any
	pending   any
	changed   bool
}

func newTracker(key string, prior any) *tracker {
	return &tracker{key: key, flatKey: flatten.Key(key), committed: prior}
}

func (t *tracker) observe(rec flatten.Record) {
	if t.key == "" {
		return
	}
	v, ok := rec[t.flatKey]
	if !ok {
		v, ok = rec[t.key]
	}
	if !ok || v == nil {
		return
	}
	if t.pending == nil || Compare(v, t.pending) > 0 {
		t.pending = v
	}
}

// commit promotes the pending maximum when it is newer than the committed
// value and returns the value to persist.
func (t *tracker) commit() (any, bool) {
	if t.pending != nil && (t.committed == nil || Compare(t.pending, t.committed) > 0) {
		t.committed = t.pending
		t.changed = true
	}
	t.pending = nil
	return t.committed, t.changed
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Compare orders two replication values: numerically when both are
// numbers, chronologically when both parse as timestamps, and as strings
// otherwise.
func Compare(a, b any) int {
	if x, ok := asNumber(a); ok {
		if y, ok := asNumber(b); ok {
			return cmpFloat(x, y)
		}
	}
	if x, ok := asTime(a); ok {
		if y, ok := asTime(b); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(jsonvalue.AsString(a), jsonvalue.AsString(b))
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func asNumber(v any) (float64, bool) {
	switch t := jsonvalue.Normalize(v).(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	if t, ok := v.(time.Time); ok {
		return t, true
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
