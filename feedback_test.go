package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFeedback(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestFeedbackRecorder_HeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.csv")
	r := NewFeedbackRecorder(path, 0)

	ts := time.Date(2026, 3, 4, 5, 6, 7, 890, time.FixedZone("CET", 3600))
	r.now = func() time.Time { return ts }

	require.NoError(t, r.Record("http://first.example", "phishing"))
	require.NoError(t, r.Record("http://second.example", "legitimate"))

	rows := readFeedback(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"timestamp", "url", "reported_as"}, rows[0])
	assert.Equal(t, []string{"2026-03-04T04:06:07.00000089Z", "http://first.example", "phishing"}, rows[1])
	assert.Equal(t, []string{"2026-03-04T04:06:07.00000089Z", "http://second.example", "legitimate"}, rows[2])
	assert.EqualValues(t, 2, r.Written())
}

func TestFeedbackRecorder_AppendsToExistingLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.csv")
	require.NoError(t, os.WriteFile(path, []byte("timestamp,url,reported_as\nold,http://old.example,phishing\n"), 0644))

	r := NewFeedbackRecorder(path, 0)
	require.NoError(t, r.Record("http://new.example", "safe"))

	rows := readFeedback(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, "http://old.example", rows[1][1])
	assert.Equal(t, "http://new.example", rows[2][1])
}

func TestFeedbackRecorder_MissingURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.csv")
	r := NewFeedbackRecorder(path, 0)

	assert.ErrorIs(t, r.Record("", "phishing"), ErrMissingURL)
	assert.NoFileExists(t, path)
	assert.Zero(t, r.Written())
}

func TestFeedbackRecorder_QuotesVerbatim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "feedback.csv")
	r := NewFeedbackRecorder(path, 0600)

	label := "not \"phishing\", really\nmultiline"
	u := "http://a.example/?q=1,2"
	require.NoError(t, r.Record(u, label))
	require.NoError(t, r.Record("http://b.example", ""))

	rows := readFeedback(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, u, rows[1][1])
	assert.Equal(t, label, rows[1][2])
	assert.Equal(t, "", rows[2][2])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFeedbackRecorder_ConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.csv")

	r := NewFeedbackRecorder(path, 0)

	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, r.Record(fmt.Sprintf("http://w%d-%d.example", w, i), "phishing"))
			}
		}()
	}
	wg.Wait()

	rows := readFeedback(t, path)
	require.Len(t, rows, 1+8*perWriter)
	assert.Equal(t, feedbackColumns, rows[0])

	headers := 0
	seen := make(map[string]bool)
	for _, row := range rows {
		require.Len(t, row, 3)
		if row[0] == "timestamp" {
			headers++
			continue
		}
		assert.True(t, strings.HasPrefix(row[1], "http://w"))
		seen[row[1]] = true
	}
	assert.Equal(t, 1, headers)
	assert.Len(t, seen, 8*perWriter)
	assert.EqualValues(t, 8*perWriter, r.Written())
}

func TestFeedbackRecorder_UnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	r := NewFeedbackRecorder(filepath.Join(blocker, "feedback.csv"), 0)
	err := r.Record("http://a.example", "phishing")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingURL)
}
