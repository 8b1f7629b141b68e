// Package stats derives summary statistics from a backend sync snapshot.
package stats

import (
	"time"

	"github.com/seedreap/qbitstats/internal/download"
)

// Bucket is a summary category a torrent state falls into.
type Bucket string

// Buckets reported in a Result.
const (
	BucketDownloading Bucket = "downloading"
	BucketSeeding     Bucket = "seeding"
	BucketUploading   Bucket = "uploading"
	BucketPaused      Bucket = "paused"
	BucketQueued      Bucket = "queued"
	BucketStalled     Bucket = "stalled"
)

// Buckets lists every bucket in reporting order.
//
//nolint:gochecknoglobals // fixed ordering
var Buckets = []Bucket{
	BucketDownloading,
	BucketSeeding,
	BucketUploading,
	BucketPaused,
	BucketQueued,
	BucketStalled,
}

// stateBuckets maps qBittorrent state strings to their bucket.
// States missing here only count toward the total.
//
//nolint:gochecknoglobals // lookup table
var stateBuckets = map[string]Bucket{
	"downloading": BucketDownloading,
	"metaDL":      BucketDownloading,
	"forcedDL":    BucketDownloading,
	"stalledUP":   BucketSeeding,
	"forcedUP":    BucketSeeding,
	"uploading":   BucketUploading,
	"stoppedDL":   BucketPaused,
	"queuedDL":    BucketQueued,
	"stalledDL":   BucketStalled,
}

// Classify returns the bucket for a torrent state, or false if it has none.
func Classify(state string) (Bucket, bool) {
	b, ok := stateBuckets[state]
	return b, ok
}

// Counts holds per-bucket torrent counts.
type Counts struct {
	Downloading int   `json:"downloading"`
	Seeding     int   `json:"seeding"`
	Uploading   int   `json:"uploading"`
	Paused      int   `json:"paused"`
	Queued      int   `json:"queued"`
	Stalled     int   `json:"stalled"`
	Total       int   `json:"total"`
	LongestETA  int64 `json:"longest_eta"`
}

// Result is one refresh cycle's output. The JSON keys sync, preferences,
// the bucket names, total and longest_eta are consumed directly by readers.
type Result struct {
	Sync        *download.SyncData   `json:"sync"`
	Preferences download.Preferences `json:"preferences"`
	Counts

	Client    string    `json:"client,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	// Skipped is set when the cycle reused the previous snapshot after a suspected restart.
	Skipped bool `json:"skipped"`
}

// Aggregate counts torrents by bucket in a single pass and tracks the longest
// finite ETA. A nil snapshot yields zero counts.
func Aggregate(data *download.SyncData) Counts {
	var c Counts
	if data == nil {
		return c
	}

	for _, t := range data.Torrents {
		c.Total++

		if b, ok := Classify(t.State); ok {
			switch b {
			case BucketDownloading:
				c.Downloading++
			case BucketSeeding:
				c.Seeding++
			case BucketUploading:
				c.Uploading++
			case BucketPaused:
				c.Paused++
			case BucketQueued:
				c.Queued++
			case BucketStalled:
				c.Stalled++
			}
		}

		if t.ETA != download.InfiniteETA && t.ETA > c.LongestETA {
			c.LongestETA = t.ETA
		}
	}

	return c
}

// Get returns the count for a bucket.
func (c Counts) Get(b Bucket) int {
	switch b {
	case BucketDownloading:
		return c.Downloading
	case BucketSeeding:
		return c.Seeding
	case BucketUploading:
		return c.Uploading
	case BucketPaused:
		return c.Paused
	case BucketQueued:
		return c.Queued
	case BucketStalled:
		return c.Stalled
	}
	return 0
}
