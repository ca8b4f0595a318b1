// Package track records per-epoch metrics to a CSV run log.
//
// A metrics file that cannot be opened or written is reported and
// skipped, never allowed to stop a training run.
package track

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Tracker appends one CSV row per logged step.
type Tracker struct {
	run  string
	keys []string

	file   *os.File
	writer *csv.Writer
	start  time.Time
}

// New opens path for append and writes the header when the file is
// fresh. On failure the tracker comes back disabled and every Log call
// becomes a no-op.
func New(path, run string, keys ...string) *Tracker {
	t := &Tracker{run: run, keys: keys}
	if path == "" {
		return t
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("track: open %s: %v", path, err)
		return t
	}
	t.file = file
	t.writer = csv.NewWriter(file)
	t.start = time.Now()

	if info, err := file.Stat(); err == nil && info.Size() == 0 {
		header := append([]string{"run", "step"}, keys...)
		header = append(header, "time_seconds")
		t.writer.Write(header)
		t.writer.Flush()
	}
	return t
}

// Log records values for step. Keys missing from values write as empty
// cells. Failures are reported and swallowed.
func (t *Tracker) Log(step int, values map[string]float64) {
	if t.writer == nil {
		return
	}

	record := make([]string, 0, len(t.keys)+3)
	record = append(record, t.run, strconv.Itoa(step))
	for _, k := range t.keys {
		if v, ok := values[k]; ok {
			record = append(record, fmt.Sprintf("%.6f", v))
		} else {
			record = append(record, "")
		}
	}
	record = append(record, fmt.Sprintf("%.2f", time.Since(t.start).Seconds()))

	if err := t.writer.Write(record); err != nil {
		log.Printf("track: write record: %v", err)
	}
	t.writer.Flush()
	if err := t.writer.Error(); err != nil {
		log.Printf("track: flush: %v", err)
	}
}

// Close flushes and releases the log file.
func (t *Tracker) Close() {
	if t.file == nil {
		return
	}
	t.writer.Flush()
	t.file.Close()
	t.file = nil
	t.writer = nil
}
