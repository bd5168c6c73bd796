// Package telemetry keeps in-process counters and timings of the sync core.
// Nothing is transmitted; values are only exposed through Snapshot for the
// status surfaces of the CLI and the mobile bridge.
package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Timing aggregates recorded durations.
type Timing struct {
	Count int64         `json:"count"`
	Total time.Duration `json:"total"`
	Max   time.Duration `json:"max"`
}

// Average returns Total/Count, or zero.
func (t Timing) Average() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Count)
}

// Snapshot is a copy of the registry at one point in time.
type Snapshot struct {
	Counters map[string]int64  `json:"counters"`
	Timings  map[string]Timing `json:"timings"`
	Since    time.Time         `json:"since"`
}

// Names returns the counter names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.Counters))
	for name := range s.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry holds named counters and timings.
type Registry struct {
	mu       sync.Mutex
	counters map[string]int64
	timings  map[string]Timing
	since    time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]int64),
		timings:  make(map[string]Timing),
		since:    time.Now(),
	}
}

// key joins name and sorted tags as name{k=v,...}.
func key(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	b.WriteByte('}')
	return b.String()
}

// RecordCount adds delta to a counter.
func (r *Registry) RecordCount(name string, delta int, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[key(name, tags)] += int64(delta)
}

// RecordTiming adds one duration sample.
func (r *Registry) RecordTiming(name string, d time.Duration, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(name, tags)
	t := r.timings[k]
	t.Count++
	t.Total += d
	if d > t.Max {
		t.Max = d
	}
	r.timings[k] = t
}

// Count returns the current value of a counter.
func (r *Registry) Count(name string, tags map[string]string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[key(name, tags)]
}

// Snapshot copies the registry.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		Counters: make(map[string]int64, len(r.counters)),
		Timings:  make(map[string]Timing, len(r.timings)),
		Since:    r.since,
	}
	for k, v := range r.counters {
		s.Counters[k] = v
	}
	for k, v := range r.timings {
		s.Timings[k] = v
	}
	return s
}

// Reset clears every value.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = make(map[string]int64)
	r.timings = make(map[string]Timing)
	r.since = time.Now()
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// RecordCount adds delta to a counter of the default registry.
func RecordCount(name string, delta int, tags map[string]string) {
	defaultRegistry.RecordCount(name, delta, tags)
}

// RecordTiming adds a duration sample to the default registry.
func RecordTiming(name string, d time.Duration, tags map[string]string) {
	defaultRegistry.RecordTiming(name, d, tags)
}
