package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alvmarrod/link-weaver/internal/link"
	"github.com/alvmarrod/link-weaver/internal/storage"
)

// Tracker holds and manages run metrics
type Tracker struct {
	mu               sync.Mutex
	data             storage.Metrics
	totalCheckTimeMs int64
	checkCount       int
}

// NewTracker creates a new metrics tracker
func NewTracker() *Tracker {
	return &Tracker{
		data: storage.Metrics{
			StartTime: time.Now(),
		},
	}
}

// IncrementPagesScanned increments the scanned pages counter
func (t *Tracker) IncrementPagesScanned() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.PagesScanned++
}

// IncrementPagesFailed increments the failed pages counter
func (t *Tracker) IncrementPagesFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.PagesFailed++
}

// RecordExcluded counts a link dropped by the exclusion chain
func (t *Tracker) RecordExcluded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.LinksFound++
	t.data.LinksExcluded++
}

// RecordLink counts a link that went through the check queue
func (t *Tracker) RecordLink(l *link.Link) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.LinksFound++
	if l.Cancelled {
		return
	}
	t.data.LinksChecked++
	if l.Broken {
		t.data.LinksBroken++
	}
	if l.HTTP.Cached {
		t.data.CacheHits++
	}
}

// RecordCheckTime records the duration of one network check
func (t *Tracker) RecordCheckTime(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalCheckTimeMs += duration.Milliseconds()
	t.checkCount++
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

func (t *Tracker) snapshot() storage.Metrics {
	snapshot := t.data
	snapshot.TotalCheckTimeMs = t.totalCheckTimeMs
	if t.checkCount > 0 {
		snapshot.AvgCheckTimeMs = t.totalCheckTimeMs / int64(t.checkCount)
	}
	return snapshot
}

// Finish stamps the end time and termination reason, and returns the final metrics
func (t *Tracker) Finish(reason string) storage.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason
	return t.snapshot()
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	data := t.Finish(reason)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress formats current metrics for periodic console updates
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Pages: %d scanned, %d failed | Links: %d found, %d excluded, %d checked, %d broken | Cache hits: %d",
		t.data.PagesScanned,
		t.data.PagesFailed,
		t.data.LinksFound,
		t.data.LinksExcluded,
		t.data.LinksChecked,
		t.data.LinksBroken,
		t.data.CacheHits,
	)
}
