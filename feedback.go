/*
File: feedback.go
Version: 1.1.0
Description: Append-only CSV log of user-reported URL classifications, kept for later retraining.
             The header row is written by whichever call creates the file (O_CREATE|O_EXCL),
             and every record goes out in a single O_APPEND write, so concurrent writers never
             interleave partial rows or truncate earlier ones.
*/

package main

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

var feedbackColumns = []string{"timestamp", "url", "reported_as"}

// FeedbackRecord is one row of the feedback log.
type FeedbackRecord struct {
	Timestamp  time.Time
	URL        string
	ReportedAs string
}

func (r FeedbackRecord) row() []string {
	return []string{r.Timestamp.UTC().Format(time.RFC3339Nano), r.URL, r.ReportedAs}
}

type FeedbackRecorder struct {
	path string
	perm os.FileMode
	now  func() time.Time

	mu      sync.Mutex
	written atomic.Uint64
}

// NewFeedbackRecorder prepares a recorder for path. Nothing touches the disk until the
// first Record call.
func NewFeedbackRecorder(path string, perm os.FileMode) *FeedbackRecorder {
	if perm == 0 {
		perm = 0644
	}
	return &FeedbackRecorder{path: path, perm: perm, now: time.Now}
}

// Path returns the log location.
func (r *FeedbackRecorder) Path() string {
	return r.path
}

// Written counts records appended by this recorder since startup.
func (r *FeedbackRecorder) Written() uint64 {
	return r.written.Load()
}

// Record appends url with its reported label. The label is stored verbatim; an empty url
// is rejected with ErrMissingURL and nothing is written.
func (r *FeedbackRecorder) Record(url, label string) error {
	if url == "" {
		return ErrMissingURL
	}

	rec := FeedbackRecord{Timestamp: r.now(), URL: url, ReportedAs: label}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.appendLocked(rec); err != nil {
		return err
	}
	r.written.Add(1)
	return nil
}

func (r *FeedbackRecorder) appendLocked(rec FeedbackRecord) error {
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create feedback directory: %w", err)
		}
	}

	created := true
	f, err := os.OpenFile(r.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE|os.O_EXCL, r.perm)
	if errors.Is(err, fs.ErrExist) {
		created = false
		f, err = os.OpenFile(r.path, os.O_WRONLY|os.O_APPEND, r.perm)
	}
	if err != nil {
		return fmt.Errorf("open feedback log: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if created {
		_ = w.Write(feedbackColumns)
	}
	_ = w.Write(rec.row())
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("encode feedback row: %w", err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		if created {
			// Leave no headerless file behind for the next caller.
			os.Remove(r.path)
		}
		return fmt.Errorf("append feedback: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close feedback log: %w", err)
	}

	if created {
		LogInfo("[FEEDBACK] Created feedback log %s", r.path)
	}
	if IsDebugEnabled() {
		LogDebug("[FEEDBACK] Recorded %s as %q", rec.URL, rec.ReportedAs)
	}
	return nil
}
