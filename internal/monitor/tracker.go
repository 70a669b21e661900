// Package monitor keeps a process-wide bounded history of structured
// error records for the monitoring surface and the notifier.
package monitor

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity grades an error record.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Category groups records by origin.
type Category string

const (
	CategoryDatabase       Category = "database"
	CategoryExternalAPI    Category = "external_api"
	CategoryDataConversion Category = "data_conversion"
	CategoryAuthentication Category = "authentication"
	CategoryNetwork        Category = "network"
	CategoryBusinessLogic  Category = "business_logic"
	CategorySystem         Category = "system"
	CategoryOther          Category = "other"
)

// Record is one structured error observation.
type Record struct {
	ID             uuid.UUID         `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Severity       Severity          `json:"severity"`
	Category       Category          `json:"category"`
	Message        string            `json:"message"`
	SourceLocation string            `json:"source_location,omitempty"`
	Entity         string            `json:"entity,omitempty"`
	Context        map[string]string `json:"context,omitempty"`
	RawError       string            `json:"raw_error,omitempty"`
}

// Notifier receives critical records as a side effect. Implementations
// must not block.
type Notifier interface {
	NotifyCritical(Record)
}

// DefaultCapacity bounds the tracker when none is given.
const DefaultCapacity = 1000

// Tracker is a bounded ring of records with per-severity and
// per-category counters. Appends evict the oldest record when full.
type Tracker struct {
	mu       sync.RWMutex
	records  []Record
	start    int
	size     int
	capacity int

	bySeverity map[Severity]int64
	byCategory map[Category]int64
	total      int64

	notifier Notifier
}

// NewTracker builds a tracker with the given capacity (DefaultCapacity
// when non-positive).
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		records:    make([]Record, capacity),
		capacity:   capacity,
		bySeverity: make(map[Severity]int64),
		byCategory: make(map[Category]int64),
	}
}

// WithNotifier attaches the critical-error side effect.
func (t *Tracker) WithNotifier(n Notifier) *Tracker {
	t.mu.Lock()
	t.notifier = n
	t.mu.Unlock()
	return t
}

// Track appends a record, stamping id and timestamp when absent.
func (t *Tracker) Track(rec Record) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Severity == "" {
		rec.Severity = SeverityError
	}
	if rec.Category == "" {
		rec.Category = CategoryOther
	}

	t.mu.Lock()
	idx := (t.start + t.size) % t.capacity
	if t.size == t.capacity {
		// Evict the oldest.
		t.start = (t.start + 1) % t.capacity
	} else {
		t.size++
	}
	t.records[idx] = rec
	t.bySeverity[rec.Severity]++
	t.byCategory[rec.Category]++
	t.total++
	notifier := t.notifier
	t.mu.Unlock()

	if rec.Severity == SeverityCritical && notifier != nil {
		notifier.NotifyCritical(rec)
	}
}

// Filter selects records. Zero values match everything; newest first.
type Filter struct {
	Severity Severity
	Category Category
	Limit    int
}

// Recent returns matching records, newest first.
func (t *Tracker) Recent(f Filter) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0, t.size)
	for i := t.size - 1; i >= 0; i-- {
		rec := t.records[(t.start+i)%t.capacity]
		if f.Severity != "" && rec.Severity != f.Severity {
			continue
		}
		if f.Category != "" && rec.Category != f.Category {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Counters is a snapshot of the tracker's tallies.
type Counters struct {
	Total      int64              `json:"total"`
	Buffered   int                `json:"buffered"`
	BySeverity map[Severity]int64 `json:"by_severity"`
	ByCategory map[Category]int64 `json:"by_category"`
}

// Stats snapshots the counters.
func (t *Tracker) Stats() Counters {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := Counters{
		Total:      t.total,
		Buffered:   t.size,
		BySeverity: make(map[Severity]int64, len(t.bySeverity)),
		ByCategory: make(map[Category]int64, len(t.byCategory)),
	}
	for k, v := range t.bySeverity {
		snapshot.BySeverity[k] = v
	}
	for k, v := range t.byCategory {
		snapshot.ByCategory[k] = v
	}
	return snapshot
}

// Reset drops the buffer and zeroes the counters.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = 0
	t.size = 0
	t.total = 0
	t.bySeverity = make(map[Severity]int64)
	t.byCategory = make(map[Category]int64)
}
