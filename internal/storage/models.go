package storage

import "time"

// Run is the stored summary of one checker run
type Run struct {
	RunID        int64
	SeedURL      string
	PagesScanned int
	LinksChecked int
	LinksBroken  int
	StartedAt    time.Time
	EndedAt      time.Time
}

// Metrics tracks run statistics for export on exit
type Metrics struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	PagesScanned      int       `json:"pages_scanned"`
	PagesFailed       int       `json:"pages_failed"`
	LinksFound        int       `json:"links_found"`
	LinksExcluded     int       `json:"links_excluded"`
	LinksChecked      int       `json:"links_checked"`
	LinksBroken       int       `json:"links_broken"`
	CacheHits         int       `json:"cache_hits"`
	TotalCheckTimeMs  int64     `json:"total_check_time_ms"`
	AvgCheckTimeMs    int64     `json:"avg_check_time_ms"`
	TerminationReason string    `json:"termination_reason"`
}
