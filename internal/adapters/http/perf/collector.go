package perf

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRingSize is the default capacity of the ring buffer.
const DefaultRingSize = 10000

// EntryKind distinguishes what an entry timed.
type EntryKind uint8

const (
	KindRequest    EntryKind = iota // an HTTP request
	KindQuery                       // a slot storage statement
	KindActivation                  // a wizard control activation
)

// Entry is a single timing record stored in the ring buffer.
type Entry struct {
	Kind       EntryKind
	Path       string // "GET /year.html", "SELECT filter_slot", or a control kind
	StatusCode int    // HTTP status (0 for non-requests)
	DurationMs float64
	Timestamp  time.Time
}

// Collector is a fixed-size ring buffer for timing entries.
// Writes are non-blocking; when full, oldest entries are overwritten.
// Aggregation happens only on read (Snapshot).
type Collector struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	pos     int
	count   [3]int64 // entries ever written, by kind
}

// NewCollector creates a collector with the given ring buffer capacity.
// PRE: size > 0
// POST: Returns a ready-to-use collector with pre-allocated storage
func NewCollector(size int) *Collector {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Collector{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Record appends an entry to the ring buffer.
// PRE: e.Kind is a declared EntryKind
// POST: Entry stored; if buffer full, oldest entry overwritten
func (c *Collector) Record(e Entry) {
	c.mu.Lock()
	c.entries[c.pos] = e
	c.pos = (c.pos + 1) % c.size
	c.mu.Unlock()
	if int(e.Kind) < len(c.count) {
		atomic.AddInt64(&c.count[e.Kind], 1)
	}
}

// TotalRecorded returns the number of entries of any kind ever recorded.
// PRE: none
// POST: returns count >= 0
func (c *Collector) TotalRecorded() int64 {
	var n int64
	for i := range c.count {
		n += atomic.LoadInt64(&c.count[i])
	}
	return n
}

// Recorded returns the number of entries of one kind ever recorded.
func (c *Collector) Recorded(kind EntryKind) int64 {
	if int(kind) >= len(c.count) {
		return 0
	}
	return atomic.LoadInt64(&c.count[kind])
}

// Snapshot holds aggregated performance data computed on read.
type Snapshot struct {
	TotalRequests    int64
	TotalActivations int64
	RequestP50Ms     float64
	RequestP95Ms     float64
	RequestP99Ms     float64
	SlowestPaths     []PathStat
	SlowestQueries   []PathStat
	Activations      []PathStat // per control kind, slowest first
}

// PathStat aggregates timing for one label.
type PathStat struct {
	Path    string
	AvgMs   float64
	MaxMs   float64
	Count   int
	TotalMs float64
}

type statSet map[string]*PathStat

func (s statSet) add(e Entry) {
	st, ok := s[e.Path]
	if !ok {
		st = &PathStat{Path: e.Path}
		s[e.Path] = st
	}
	st.Count++
	st.TotalMs += e.DurationMs
	if e.DurationMs > st.MaxMs {
		st.MaxMs = e.DurationMs
	}
}

// top returns the n labels with the highest average duration.
func (s statSet) top(n int) []PathStat {
	list := make([]PathStat, 0, len(s))
	for _, st := range s {
		st.AvgMs = st.TotalMs / float64(st.Count)
		list = append(list, *st)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].AvgMs == list[j].AvgMs {
			return list[i].Path < list[j].Path
		}
		return list[i].AvgMs > list[j].AvgMs
	})
	if n >= 0 && len(list) > n {
		list = list[:n]
	}
	return list
}

// Snapshot computes aggregated stats from the ring buffer.
// Sorting makes this expensive; it backs the admin dashboard only.
// PRE: none
// POST: Returns a Snapshot with percentiles and top-N lists
func (c *Collector) Snapshot(since time.Time, topN int) Snapshot {
	c.mu.Lock()
	buf := make([]Entry, c.size)
	copy(buf, c.entries)
	c.mu.Unlock()

	var durations []float64
	sets := map[EntryKind]statSet{
		KindRequest:    {},
		KindQuery:      {},
		KindActivation: {},
	}
	for _, e := range buf {
		if e.Timestamp.IsZero() || e.Timestamp.Before(since) {
			continue
		}
		set, ok := sets[e.Kind]
		if !ok {
			continue
		}
		set.add(e)
		if e.Kind == KindRequest {
			durations = append(durations, e.DurationMs)
		}
	}

	snap := Snapshot{
		TotalRequests:    c.Recorded(KindRequest),
		TotalActivations: c.Recorded(KindActivation),
		SlowestPaths:     sets[KindRequest].top(topN),
		SlowestQueries:   sets[KindQuery].top(topN),
		Activations:      sets[KindActivation].top(-1),
	}
	if len(durations) > 0 {
		sort.Float64s(durations)
		snap.RequestP50Ms = percentile(durations, 50)
		snap.RequestP95Ms = percentile(durations, 95)
		snap.RequestP99Ms = percentile(durations, 99)
	}
	return snap
}

// percentile returns the p-th percentile from a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper || upper >= len(sorted) {
		return sorted[lower]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
